// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. PRODUCTION logs JSON at info level, DEVELOPMENT logs to the
// console at debug level. The returned level stays adjustable while the process runs.
func NewLogger(loggingLevel string) (*zap.Logger, zap.AtomicLevel, error) {
	var cfg zap.Config
	if strings.EqualFold(loggingLevel, "DEVELOPMENT") {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, cfg.Level, err
	}
	return l, cfg.Level, nil
}

// LogLevelSwitcher applies the logLevel of an instance record (0 minimum to 3 maximum verbosity)
// to an atomic level shared by the running logger.
type LogLevelSwitcher struct {
	level   zap.AtomicLevel
	current int
}

func NewLogLevelSwitcher(level zap.AtomicLevel) *LogLevelSwitcher {
	return &LogLevelSwitcher{level: level, current: -1}
}

// Apply sets the level when recordLevel differs from the last applied one.
func (s *LogLevelSwitcher) Apply(recordLevel int) {
	if recordLevel == s.current {
		return
	}
	s.current = recordLevel
	lvl := RecordLevelToZap(recordLevel)
	if lvl == s.level.Level() {
		return
	}
	// logged before a switch to warn, so the change itself stays visible at info
	zap.S().Infof("Log level set to %d (%s)", recordLevel, lvl)
	s.level.SetLevel(lvl)
}

// RecordLevelToZap maps the instance record logLevel to a zap level.
func RecordLevelToZap(recordLevel int) zapcore.Level {
	switch {
	case recordLevel <= 0:
		return zapcore.WarnLevel
	case recordLevel == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

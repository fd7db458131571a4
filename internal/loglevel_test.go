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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordLevelToZap(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, RecordLevelToZap(0))
	assert.Equal(t, zapcore.InfoLevel, RecordLevelToZap(1))
	assert.Equal(t, zapcore.DebugLevel, RecordLevelToZap(2))
	assert.Equal(t, zapcore.DebugLevel, RecordLevelToZap(3))
}

func TestNewLogger(t *testing.T) {
	_, level, err := NewLogger("PRODUCTION")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level.Level())

	_, level, err = NewLogger("development")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level.Level())
}

func TestLogLevelSwitcher(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core, logs := observer.New(level)
	undo := zap.ReplaceGlobals(zap.New(core))
	defer undo()

	s := NewLogLevelSwitcher(level)

	s.Apply(0)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	zap.S().Info("hidden")
	zap.S().Warn("shown")

	s.Apply(3)
	assert.Equal(t, zapcore.DebugLevel, level.Level())
	zap.S().Debug("debug shown")

	s.Apply(1)
	assert.Equal(t, zapcore.InfoLevel, level.Level())
	zap.S().Debug("debug hidden")

	var messages []string
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	assert.NotContains(t, messages, "hidden")
	assert.NotContains(t, messages, "debug hidden")
	assert.Contains(t, messages, "shown")
	assert.Contains(t, messages, "debug shown")
}

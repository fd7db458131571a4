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

package commands

import (
	"strings"

	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
)

// ASDU types written to asduAtSource.
const (
	AsduSinglePoint = "M_SP_NA_1"
	AsduStepPos     = "M_ST_TB_1"
	AsduFloat       = "M_ME_NC_1"
)

// Transform turns a command value into the value staged on the target point.
type Transform interface {
	Matches(cmd datamodel.CommandRequest) bool
	Apply(cmd datamodel.CommandRequest, target datamodel.RealtimeDataPoint) (value float64, asdu string)
}

// SteppedTransform handles relative moves such as tap changers: a zero command lowers the
// current value by one, anything else raises it by one.
type SteppedTransform struct {
	Marker string
}

func (s SteppedTransform) Matches(cmd datamodel.CommandRequest) bool {
	return s.Marker != "" && strings.Contains(cmd.Tag, s.Marker)
}

func (s SteppedTransform) Apply(cmd datamodel.CommandRequest, target datamodel.RealtimeDataPoint) (float64, string) {
	if cmd.Value == 0 {
		return target.Value - 1, AsduStepPos
	}
	return target.Value + 1, AsduStepPos
}

// AbsoluteTransform overwrites the current value.
type AbsoluteTransform struct{}

func (AbsoluteTransform) Matches(datamodel.CommandRequest) bool {
	return true
}

func (AbsoluteTransform) Apply(cmd datamodel.CommandRequest, target datamodel.RealtimeDataPoint) (float64, string) {
	if target.Type == datamodel.PointTypeDigital {
		return cmd.Value, AsduSinglePoint
	}
	return cmd.Value, AsduFloat
}

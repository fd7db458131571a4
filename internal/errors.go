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

import "errors"

// Error classes shared by all workers. Wrap them with fmt.Errorf("...: %w", Err...)
// and test with errors.Is.
var (
	// ErrConnectivity marks a store that is unreachable. Handled by reconnecting.
	ErrConnectivity = errors.New("store connectivity lost")
	// ErrValidation marks data rejected at a decode boundary or by store side checks.
	ErrValidation = errors.New("validation failed")
	// ErrRouting marks a command whose target point or connection could not be resolved.
	ErrRouting = errors.New("command routing failed")
	// ErrSequenceGap marks detected ingress message loss.
	ErrSequenceGap = errors.New("sequence gap detected")
	// ErrQueueOverflow marks an ingress queue that was cleared because it grew past its limit.
	ErrQueueOverflow = errors.New("queue overflow")
)

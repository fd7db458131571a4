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

package worker

import (
	"time"

	"github.com/united-manufacturing-hub/scada-core/internal"
)

// Status is a snapshot of the loop, safe to read from other goroutines.
type Status struct {
	ProtocolDriver   string            `json:"protocolDriver"`
	InstanceNumber   int64             `json:"instanceNumber"`
	NodeName         string            `json:"nodeName"`
	ProcessID        string            `json:"processId"`
	SoftwareVersion  string            `json:"softwareVersion"`
	Module           string            `json:"module"`
	State            string            `json:"state"`
	MissedKeepAlives int               `json:"missedKeepAlives"`
	Connected        bool              `json:"connected"`
	Counters         map[string]uint64 `json:"counters"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// publish must only be called from the loop goroutine.
func (w *Worker) publish() {
	id := w.opts.Identity
	w.status.Store(&Status{
		ProtocolDriver:   id.ProtocolDriver,
		InstanceNumber:   id.InstanceNumber,
		NodeName:         id.NodeName,
		ProcessID:        w.opts.ProcessID,
		SoftwareVersion:  internal.SoftwareVersion,
		Module:           w.opts.Module.Name(),
		State:            w.opts.Controller.State(),
		MissedKeepAlives: w.opts.Controller.MissedKeepAlives(),
		Connected:        w.session.Load() != nil,
		Counters:         w.opts.Module.Counters(),
		UpdatedAt:        time.Now().UTC(),
	})
}

func (w *Worker) Status() Status {
	return *w.status.Load()
}

// Session returns the session of the current connection lifetime, or nil while reconnecting.
func (w *Worker) Session() Session {
	ref := w.session.Load()
	if ref == nil {
		return nil
	}
	return ref.sess
}

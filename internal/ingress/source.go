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

// Package ingress receives forwarded point update envelopes and hands them to the worker loop.
package ingress

import (
	"context"
	"sync"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"go.uber.org/zap"
)

// Source feeds raw envelopes into out until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- []byte) error
}

// Deduplicator drops a message identical to the one before it, as seen when a broadcast
// reaches the host on more than one interface.
type Deduplicator struct {
	mu   sync.Mutex
	last internal.Digest
	has  bool
}

// Duplicate reports whether msg equals the previous message and remembers msg.
func (d *Deduplicator) Duplicate(msg []byte) bool {
	digest := internal.AsXXHash(msg)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.has && digest == d.last {
		return true
	}
	d.last = digest
	d.has = true
	return false
}

// deliver never blocks: the bulk queue sheds load on its own and a full channel means the
// worker loop is behind anyway.
func deliver(out chan<- []byte, dedup *Deduplicator, transport string, msg []byte) {
	if dedup.Duplicate(msg) {
		metrics.IngressMessages.WithLabelValues(transport, "duplicate").Inc()
		return
	}
	select {
	case out <- msg:
		metrics.IngressMessages.WithLabelValues(transport, "accepted").Inc()
	default:
		metrics.IngressMessages.WithLabelValues(transport, "dropped").Inc()
		zap.S().Debugf("Ingress channel full, dropping %s message", transport)
	}
}

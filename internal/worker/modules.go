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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/bulkqueue"
	"github.com/united-manufacturing-hub/scada-core/internal/changestream"
	"github.com/united-manufacturing-hub/scada-core/internal/commands"
	"github.com/united-manufacturing-hub/scada-core/internal/forwarder"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// idle is the step period of modules without periodic work.
var idle = internal.OneSecond

func checkpointKey(id string, driver string, instance int64) string {
	return fmt.Sprintf("%s:%s:%d", id, driver, instance)
}

// CommandModule dispatches inserts of the commands queue.
type CommandModule struct {
	dispatcher *commands.Dispatcher
	key        string
	store      commands.Store
	outcomes   map[commands.Outcome]uint64
}

func NewCommandModule(d *commands.Dispatcher, driver string, instance int64) *CommandModule {
	return &CommandModule{
		dispatcher: d,
		key:        checkpointKey("commands", driver, instance),
		outcomes:   make(map[commands.Outcome]uint64),
	}
}

func (m *CommandModule) Name() string {
	return "command-dispatcher"
}

func (m *CommandModule) Watches() []Watch {
	return []Watch{{
		Collection:    datamodel.CommandsQueueCollection,
		Pipeline:      changestream.InsertPipeline(),
		CheckpointKey: m.key,
	}}
}

func (m *CommandModule) Attach(sess Session) {
	m.store = sess.Commands()
}

func (m *CommandModule) HandleChange(ctx context.Context, ev datamodel.ChangeEvent) error {
	outcome, err := m.dispatcher.Handle(ctx, m.store, ev)
	m.outcomes[outcome]++
	return err
}

func (m *CommandModule) Input() <-chan []byte               { return nil }
func (m *CommandModule) HandleInput([]byte)                 {}
func (m *CommandModule) Step(context.Context) time.Duration { return idle }
func (m *CommandModule) Deactivate()                        {}

func (m *CommandModule) Counters() map[string]uint64 {
	out := make(map[string]uint64, len(m.outcomes))
	for k, v := range m.outcomes {
		out[string(k)] = v
	}
	return out
}

// BulkModule drains ingress messages into realtimeData.
type BulkModule struct {
	queue  *bulkqueue.Queue
	input  <-chan []byte
	writer bulkqueue.Writer
}

func NewBulkModule(queue *bulkqueue.Queue, input <-chan []byte) *BulkModule {
	return &BulkModule{queue: queue, input: input}
}

func (m *BulkModule) Name() string {
	return "bulk-update-writer"
}

func (m *BulkModule) Watches() []Watch {
	return nil
}

func (m *BulkModule) Attach(sess Session) {
	m.writer = sess.RealtimeData()
}

func (m *BulkModule) HandleChange(context.Context, datamodel.ChangeEvent) error {
	return nil
}

func (m *BulkModule) Input() <-chan []byte {
	return m.input
}

func (m *BulkModule) HandleInput(msg []byte) {
	m.queue.Push(msg)
}

// HandleStandbyInput only counts the message, the queue stays empty while not ACTIVE.
func (m *BulkModule) HandleStandbyInput(msg []byte) {
	m.queue.Discard(msg)
}

func (m *BulkModule) Step(ctx context.Context) time.Duration {
	return m.queue.Tick(ctx, m.writer)
}

func (m *BulkModule) Deactivate() {
	m.queue.Reset()
}

func (m *BulkModule) Counters() map[string]uint64 {
	c := m.queue.Counters()
	return map[string]uint64{
		"received":  c.Received,
		"standby":   c.Standby,
		"updates":   c.Updates,
		"malformed": c.Malformed,
		"lost":      c.Lost,
		"overflows": c.Overflows,
		"written":   c.Written,
		"failed":    c.Failed,
		"queued":    uint64(m.queue.Len()),
	}
}

// ForwardModule sends realtimeData changes and periodic integrity snapshots to a sink.
type ForwardModule struct {
	fwd           *forwarder.Forwarder
	sink          forwarder.Sink
	key           string
	interval      time.Duration
	backfill      bool
	now           func() time.Time
	sess          Session
	nextIntegrity time.Time
	pageSize      int64

	// An integrity snapshot in progress, read one page per Step.
	scanning  bool
	scanAfter bson.RawValue
	scanned   uint64
}

// NewForwardModule builds the module. An integrity snapshot is sent on every activation and then
// every interval; a zero interval sends it on activation only.
func NewForwardModule(fwd *forwarder.Forwarder, sink forwarder.Sink, driver string, instance int64, interval time.Duration, backfill bool) *ForwardModule {
	return &ForwardModule{
		fwd:      fwd,
		sink:     sink,
		key:      checkpointKey("forward", driver, instance),
		interval: interval,
		backfill: backfill,
		now:      time.Now,
		pageSize: internal.IntegrityPageSize,
	}
}

func (m *ForwardModule) Name() string {
	return "change-forwarder"
}

func (m *ForwardModule) Watches() []Watch {
	return []Watch{{
		Collection:    datamodel.RealtimeDataCollection,
		Pipeline:      changestream.SourceDataUpdatePipeline(),
		CheckpointKey: m.key,
	}}
}

func (m *ForwardModule) Attach(sess Session) {
	m.sess = sess
}

func (m *ForwardModule) HandleChange(_ context.Context, ev datamodel.ChangeEvent) error {
	return m.fwd.Update(ev)
}

func (m *ForwardModule) Input() <-chan []byte { return nil }
func (m *ForwardModule) HandleInput([]byte)   {}

func (m *ForwardModule) Step(ctx context.Context) time.Duration {
	now := m.now()
	if !m.scanning && (m.nextIntegrity.IsZero() || (m.interval > 0 && !now.Before(m.nextIntegrity))) {
		m.scanning = true
		m.scanAfter = bson.RawValue{}
		m.scanned = 0
		m.nextIntegrity = now.Add(m.interval)
	}
	if m.scanning {
		m.integrityPage(ctx)
	}

	var backfill forwarder.BackfillWriter
	if m.backfill {
		backfill = m.sess.RealtimeData()
	}
	m.fwd.Flush(ctx, m.sink, backfill)
	if m.scanning || m.fwd.Pending() > 0 {
		return internal.ForwardBusyInterval
	}
	return internal.ForwardIdleInterval
}

// integrityPage queues the next page of the running snapshot. Pages are bounded so the worker
// loop keeps serving redundancy ticks while a large collection is being read.
func (m *ForwardModule) integrityPage(ctx context.Context) {
	page, err := m.sess.RealtimeData().PointsAfter(ctx, m.scanAfter, m.pageSize)
	if err != nil {
		m.scanning = false
		zap.S().Errorf("Integrity snapshot: %v", err)
		if errors.Is(err, internal.ErrConnectivity) {
			m.sess.Invalidate("integrity snapshot")
		}
		return
	}
	for _, doc := range page {
		if err = m.fwd.Integrity(doc); err != nil {
			zap.S().Debugf("Skipping point in integrity snapshot: %v", err)
			continue
		}
		m.scanned++
	}
	if int64(len(page)) < m.pageSize {
		m.scanning = false
		zap.S().Infof("Integrity snapshot of %d points queued", m.scanned)
		return
	}
	m.scanAfter = page[len(page)-1].Lookup("_id")
}

func (m *ForwardModule) Deactivate() {
	m.fwd.Reset()
	m.nextIntegrity = time.Time{}
	m.scanning = false
}

func (m *ForwardModule) Counters() map[string]uint64 {
	c := m.fwd.Counters()
	return map[string]uint64{
		"updates":      c.Updates,
		"integrity":    c.Integrity,
		"oversized":    c.Oversized,
		"packets":      c.Packets,
		"sendFailures": c.SendFails,
		"cnt":          uint64(c.Cnt),
		"pending":      uint64(m.fwd.Pending()),
	}
}

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

// Package bulkqueue absorbs forwarded point updates and writes them to realtimeData in
// rate limited, unordered bulk writes.
package bulkqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"github.com/united-manufacturing-hub/scada-core/internal/store"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Writer is implemented by store.RealtimeData.
type Writer interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel) (store.BulkResult, error)
}

type Options struct {
	// MaxLength is the queue length above which everything queued is dropped.
	MaxLength int
	// MaxPerTick is the number of messages decoded per tick.
	MaxPerTick int
	Tick       time.Duration
	// Throttle is added to the next tick after a tick that wrote something.
	Throttle time.Duration
}

// Counters are cumulative since the queue was created.
type Counters struct {
	Received  uint64 `json:"received"`
	Standby   uint64 `json:"standby"`
	Updates   uint64 `json:"updates"`
	Malformed uint64 `json:"malformed"`
	Lost      uint64 `json:"lost"`
	Overflows uint64 `json:"overflows"`
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
	LastCnt   int64  `json:"lastCnt"`
}

// Queue is not safe for concurrent use. It is owned by the worker loop, which feeds it with Push
// and drains it with Tick.
type Queue struct {
	opts     Options
	pending  [][]byte
	seenCnt  bool
	counters Counters
}

func New(opts Options) *Queue {
	return &Queue{opts: opts}
}

// Push appends one raw ingress message.
func (q *Queue) Push(msg []byte) {
	q.pending = append(q.pending, msg)
	q.counters.Received++
	metrics.QueueLength.Set(float64(len(q.pending)))
}

// Discard counts a message received while the instance is not active.
func (q *Queue) Discard([]byte) {
	q.counters.Standby++
}

func (q *Queue) Len() int {
	return len(q.pending)
}

func (q *Queue) Counters() Counters {
	return q.counters
}

// Reset drops everything queued. Sequence tracking starts over with the next message.
func (q *Queue) Reset() {
	q.pending = nil
	q.seenCnt = false
	metrics.QueueLength.Set(0)
}

// Tick runs one drain cycle and returns the delay until the next one.
func (q *Queue) Tick(ctx context.Context, w Writer) time.Duration {
	if len(q.pending) > q.opts.MaxLength {
		zap.S().Errorf("%v: %d messages queued (max %d), dropping all of them", internal.ErrQueueOverflow, len(q.pending), q.opts.MaxLength)
		q.pending = nil
		q.counters.Overflows++
		metrics.QueueOverflows.Inc()
		metrics.QueueLength.Set(0)
		return q.opts.Tick
	}

	n := len(q.pending)
	if n > q.opts.MaxPerTick {
		n = q.opts.MaxPerTick
	}
	batch := q.pending[:n]
	q.pending = q.pending[n:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	metrics.QueueLength.Set(float64(len(q.pending)))

	var models []mongo.WriteModel
	for _, msg := range batch {
		models = append(models, q.decode(msg)...)
	}
	if len(models) == 0 {
		return q.opts.Tick
	}

	res, err := w.BulkWrite(ctx, models)
	written := res.Matched + res.Upserted
	q.counters.Written += uint64(written)
	metrics.BulkOperations.WithLabelValues("written").Add(float64(written))
	if err != nil {
		// Without write errors the whole batch is gone, e.g. when the connection dropped.
		failed := res.Failed
		if failed == 0 {
			failed = len(models) - int(written)
		}
		q.counters.Failed += uint64(failed)
		metrics.BulkOperations.WithLabelValues("failed").Add(float64(failed))
		zap.S().Errorf("Bulk write of %d operations: %d failed: %v", len(models), failed, err)
	} else {
		zap.S().Debugf("Bulk write of %d operations, matched %d, upserted %d, queued %d, lost %d",
			len(models), res.Matched, res.Upserted, len(q.pending), q.counters.Lost)
	}
	return q.opts.Tick + q.opts.Throttle
}

// decode translates every valid element of one message, skipping the invalid ones.
func (q *Queue) decode(msg []byte) []mongo.WriteModel {
	elements, err := datamodel.DecodeEnvelope(msg)
	if err != nil {
		q.counters.Malformed++
		zap.S().Warnf("Skipping message: %v", err)
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(elements))
	for _, element := range elements {
		update, err := datamodel.DecodePointUpdate(element)
		if err != nil {
			q.counters.Malformed++
			zap.S().Warnf("Skipping point update: %v", err)
			continue
		}
		q.observe(update.Cnt)
		model, err := Translate(update)
		if err != nil {
			q.counters.Malformed++
			zap.S().Warnf("Skipping point update: %v", err)
			continue
		}
		q.counters.Updates++
		models = append(models, model)
	}
	return models
}

// observe tracks the sender sequence. Each missing cnt between two observed ones counts as lost.
// A cnt that does not move forward is logged and restarts tracking, nothing is reordered.
func (q *Queue) observe(cnt int64) {
	last := q.counters.LastCnt
	q.counters.LastCnt = cnt
	if !q.seenCnt {
		q.seenCnt = true
		return
	}
	switch gap := cnt - last; {
	case gap > 1:
		q.counters.Lost += uint64(gap - 1)
		metrics.SequenceLost.Add(float64(gap - 1))
		zap.S().Warnf("%v: %d updates lost between cnt %d and %d", internal.ErrSequenceGap, gap-1, last, cnt)
	case gap <= 0:
		zap.S().Warnf("%v: cnt went from %d to %d, sender restarted or datagrams were reordered", internal.ErrSequenceGap, last, cnt)
	}
}

// Translate turns a point update into a write on the point with the same tag.
func Translate(u datamodel.PointUpdate) (mongo.WriteModel, error) {
	if u.Tag == "" {
		return nil, fmt.Errorf("%w: point update %d without tag", internal.ErrValidation, u.Cnt)
	}
	fields := u.UpdateDescription.UpdatedFields
	filter := bson.M{"tag": u.Tag}

	switch u.OperationType {
	case datamodel.UpdateKindIntegrity:
		id, ok := fields["_id"]
		if !ok || id == nil {
			return nil, fmt.Errorf("%w: integrity update %d (%s) without _id", internal.ErrValidation, u.Cnt, u.Tag)
		}
		set := make(bson.M, len(fields))
		for k, v := range fields {
			if k != "_id" {
				set[k] = v
			}
		}
		datamodel.ConvertTimeFields(set)
		return mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": set, "$setOnInsert": bson.M{"_id": id}}).
			SetUpsert(true), nil

	case datamodel.UpdateKindUpdate:
		sdu, ok := fields["sourceDataUpdate"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: update %d (%s) without sourceDataUpdate", internal.ErrValidation, u.Cnt, u.Tag)
		}
		datamodel.ConvertTimeFields(sdu)
		return mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": fields}), nil
	}
	return nil, fmt.Errorf("%w: point update %d has operationType %q", internal.ErrValidation, u.Cnt, u.OperationType)
}

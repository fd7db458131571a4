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

// Package forwarder sequences realtimeData changes into compressed envelopes and sends them to a
// bulk update writer on another network.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink sends one deflated envelope.
type Sink interface {
	Name() string
	Send(ctx context.Context, packet []byte) error
	Close() error
}

// BackfillWriter is implemented by store.RealtimeData.
type BackfillWriter interface {
	InsertBackfill(ctx context.Context, docs []interface{}) (int, error)
}

type Options struct {
	// MaxLengthJSON is the largest encoded update that is forwarded.
	MaxLengthJSON int
	// PacketSizeThreshold closes a packet once its encoded updates reach this size.
	PacketSizeThreshold int
	// MaxPacketsPerFlush bounds the packets sent by one Flush.
	MaxPacketsPerFlush int
	// Backfill keeps a copy of every forwarded update in backfillData.
	Backfill bool
	Now      func() time.Time
}

type Counters struct {
	Updates   uint64 `json:"updates"`
	Integrity uint64 `json:"integrity"`
	Oversized uint64 `json:"oversized"`
	Packets   uint64 `json:"packets"`
	SendFails uint64 `json:"sendFailures"`
	Cnt       int64  `json:"cnt"`
}

// Forwarder is not safe for concurrent use; it is owned by the worker loop.
type Forwarder struct {
	opts     Options
	cnt      int64
	open     [][]byte
	openSize int
	sealed   [][][]byte
	backfill []interface{}
	counters Counters
}

func New(opts Options) *Forwarder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPacketsPerFlush <= 0 {
		opts.MaxPacketsPerFlush = 50
	}
	return &Forwarder{opts: opts}
}

func (f *Forwarder) Counters() Counters {
	c := f.counters
	c.Cnt = f.cnt
	return c
}

// Pending is the number of packets waiting to be sent, including an unfinished one.
func (f *Forwarder) Pending() int {
	n := len(f.sealed)
	if len(f.open) > 0 {
		n++
	}
	return n
}

// Reset drops everything not sent yet. The sequence keeps counting.
func (f *Forwarder) Reset() {
	f.open, f.openSize, f.sealed, f.backfill = nil, 0, nil, nil
}

// Update queues a sourceDataUpdate change of one point.
func (f *Forwarder) Update(ev datamodel.ChangeEvent) error {
	if ev.OperationType != datamodel.OperationUpdate || ev.UpdatedFields == nil {
		return nil
	}
	var fields bson.M
	if err := bson.Unmarshal(ev.UpdatedFields, &fields); err != nil {
		return fmt.Errorf("%w: updated fields: %v", internal.ErrValidation, err)
	}
	sdu, ok := fields["sourceDataUpdate"].(bson.M)
	if !ok {
		return nil
	}
	if ev.FullDocument == nil {
		return fmt.Errorf("%w: update without full document", internal.ErrValidation)
	}
	tag, ok := ev.FullDocument.Lookup("tag").StringValueOK()
	if !ok || tag == "" {
		return fmt.Errorf("%w: updated point without tag", internal.ErrValidation)
	}
	if js, ok := sdu["valueJsonAtSource"].(string); ok && len(js) > f.opts.MaxLengthJSON/2 {
		delete(sdu, "valueJsonAtSource")
	}
	delete(sdu, "valueBsonAtSource")

	var key bson.M
	_ = bson.Unmarshal(ev.DocumentKey, &key)

	if !f.add(datamodel.PointUpdate{
		Tag:               tag,
		OperationType:     datamodel.UpdateKindUpdate,
		DocumentKey:       key,
		UpdateDescription: datamodel.UpdateDescription{UpdatedFields: fields},
	}) {
		return nil
	}
	f.counters.Updates++
	metrics.ForwardedUpdates.WithLabelValues(string(datamodel.UpdateKindUpdate)).Inc()

	if f.opts.Backfill {
		ts := f.opts.Now()
		if t, ok := sdu["timeTag"]; ok {
			if parsed, ok := datamodel.ParseWireTime(dateValue(t)); ok {
				ts = parsed
			}
		}
		f.backfill = append(f.backfill, bson.M{
			"timestamp": ts,
			"metadata":  bson.M{"tag": tag},
			"data":      fields,
		})
	}
	return nil
}

// Integrity queues a full point document, as read by store.RealtimeData.PointsAfter.
func (f *Forwarder) Integrity(doc bson.Raw) error {
	var fields bson.M
	if err := bson.Unmarshal(doc, &fields); err != nil {
		return fmt.Errorf("%w: point: %v", internal.ErrValidation, err)
	}
	tag, _ := fields["tag"].(string)
	if tag == "" {
		return fmt.Errorf("%w: point %v without tag", internal.ErrValidation, fields["_id"])
	}
	delete(fields, "sourceDataUpdate")
	delete(fields, "protocolDestinations")

	if f.add(datamodel.PointUpdate{
		Tag:               tag,
		OperationType:     datamodel.UpdateKindIntegrity,
		DocumentKey:       map[string]interface{}{"_id": fields["_id"]},
		UpdateDescription: datamodel.UpdateDescription{UpdatedFields: fields},
	}) {
		f.counters.Integrity++
		metrics.ForwardedUpdates.WithLabelValues(string(datamodel.UpdateKindIntegrity)).Inc()
	}
	return nil
}

// add numbers and encodes u. Oversized updates are dropped without using up a cnt.
func (f *Forwarder) add(u datamodel.PointUpdate) bool {
	u.Cnt = f.cnt + 1
	element, err := json.Marshal(u)
	if err != nil {
		zap.S().Warnf("Unable to encode update of %s: %v", u.Tag, err)
		return false
	}
	if len(element) > f.opts.MaxLengthJSON {
		f.counters.Oversized++
		zap.S().Warnf("Update of %s is %d bytes, larger than %d, not forwarded", u.Tag, len(element), f.opts.MaxLengthJSON)
		return false
	}
	f.cnt = u.Cnt
	f.open = append(f.open, element)
	f.openSize += len(element)
	if f.openSize >= f.opts.PacketSizeThreshold {
		f.seal()
	}
	return true
}

func (f *Forwarder) seal() {
	if len(f.open) == 0 {
		return
	}
	f.sealed = append(f.sealed, f.open)
	f.open, f.openSize = nil, 0
}

// Flush sends up to MaxPacketsPerFlush packets and writes the backfill copies. Packets that
// fail to send are dropped. It returns the number of packets sent.
func (f *Forwarder) Flush(ctx context.Context, sink Sink, backfill BackfillWriter) int {
	f.seal()
	n := len(f.sealed)
	if n > f.opts.MaxPacketsPerFlush {
		n = f.opts.MaxPacketsPerFlush
	}
	sent := 0
	for _, elements := range f.sealed[:n] {
		packet, err := encodePacket(elements)
		if err != nil {
			zap.S().Errorf("Unable to encode packet: %v", err)
			continue
		}
		if err = sink.Send(ctx, packet); err != nil {
			f.counters.SendFails++
			metrics.ForwardedPackets.WithLabelValues(sink.Name(), "failed").Inc()
			zap.S().Warnf("Sending packet of %d updates over %s: %v", len(elements), sink.Name(), err)
			continue
		}
		sent++
		f.counters.Packets++
		metrics.ForwardedPackets.WithLabelValues(sink.Name(), "sent").Inc()
	}
	f.sealed = f.sealed[n:]
	if len(f.sealed) == 0 {
		f.sealed = nil
	}

	if len(f.backfill) > 0 && backfill != nil {
		docs := f.backfill
		f.backfill = nil
		if _, err := backfill.InsertBackfill(ctx, docs); err != nil {
			zap.S().Warnf("Writing %d backfill documents: %v", len(docs), err)
		}
	}
	return sent
}

func encodePacket(elements [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range elements {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(e)
	}
	buf.WriteByte(']')
	return datamodel.Deflate(buf.Bytes())
}

// dateValue maps a decoded BSON date to a time.Time for ParseWireTime.
func dateValue(v interface{}) interface{} {
	if d, ok := v.(interface{ Time() time.Time }); ok {
		return d.Time().UTC()
	}
	return v
}

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

package forwarder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/scada-core/internal/bulkqueue"
	"github.com/united-manufacturing-hub/scada-core/internal/store"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type captureSink struct {
	packets [][]byte
	err     error
}

func (c *captureSink) Name() string { return "capture" }
func (c *captureSink) Close() error { return nil }
func (c *captureSink) Send(_ context.Context, packet []byte) error {
	if c.err != nil {
		return c.err
	}
	c.packets = append(c.packets, packet)
	return nil
}

type captureBackfill struct {
	docs []interface{}
}

func (c *captureBackfill) InsertBackfill(_ context.Context, docs []interface{}) (int, error) {
	c.docs = append(c.docs, docs...)
	return len(docs), nil
}

type countingWriter struct {
	models []mongo.WriteModel
}

func (c *countingWriter) BulkWrite(_ context.Context, models []mongo.WriteModel) (store.BulkResult, error) {
	c.models = append(c.models, models...)
	return store.BulkResult{Matched: int64(len(models))}, nil
}

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{MaxLengthJSON: 60000, PacketSizeThreshold: 7000, MaxPacketsPerFlush: 50, Now: func() time.Time { return at }}
}

func mustRaw(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	return raw
}

func change(t *testing.T, id int64, tag string, sdu bson.M) datamodel.ChangeEvent {
	t.Helper()
	return datamodel.ChangeEvent{
		OperationType: datamodel.OperationUpdate,
		DocumentKey:   mustRaw(t, bson.M{"_id": id}),
		FullDocument:  mustRaw(t, bson.M{"_id": id, "tag": tag}),
		UpdatedFields: mustRaw(t, bson.M{"sourceDataUpdate": sdu}),
	}
}

func sdu(v float64) bson.M {
	return bson.M{"valueAtSource": v, "timeTag": at, "invalidAtSource": false}
}

func decodePackets(t *testing.T, packets [][]byte) []datamodel.PointUpdate {
	t.Helper()
	var out []datamodel.PointUpdate
	for _, p := range packets {
		elements, err := datamodel.DecodeEnvelope(p)
		require.NoError(t, err)
		for _, e := range elements {
			u, err := datamodel.DecodePointUpdate(e)
			require.NoError(t, err)
			out = append(out, u)
		}
	}
	return out
}

func TestUpdatesAreSequencedAndBatched(t *testing.T) {
	opts := testOptions()
	opts.PacketSizeThreshold = 600
	f := New(opts)
	for i := int64(1); i <= 20; i++ {
		require.NoError(t, f.Update(change(t, i, "P"+strings.Repeat("x", int(i)), sdu(float64(i)))))
	}
	sink := &captureSink{}

	sent := f.Flush(context.Background(), sink, nil)

	assert.Greater(t, sent, 1)
	assert.Equal(t, sent, len(sink.packets))
	updates := decodePackets(t, sink.packets)
	require.Len(t, updates, 20)
	for i, u := range updates {
		assert.Equal(t, int64(i+1), u.Cnt)
		assert.Equal(t, datamodel.UpdateKindUpdate, u.OperationType)
	}
	assert.Equal(t, int64(20), f.Counters().Cnt)
	assert.Zero(t, f.Pending())
}

func TestUpdateIgnoresUnrelatedChanges(t *testing.T) {
	f := New(testOptions())
	ev := change(t, 1, "P1", sdu(1))
	ev.UpdatedFields = mustRaw(t, bson.M{"value": 1.0})
	require.NoError(t, f.Update(ev))

	ev = change(t, 1, "P1", sdu(1))
	ev.OperationType = datamodel.OperationInsert
	require.NoError(t, f.Update(ev))

	assert.Zero(t, f.Pending())
}

func TestUpdateWithoutTagIsRejected(t *testing.T) {
	f := New(testOptions())
	ev := change(t, 1, "", sdu(1))
	assert.Error(t, f.Update(ev))
}

func TestOversizedUpdatesDoNotUseACnt(t *testing.T) {
	opts := testOptions()
	opts.MaxLengthJSON = 400
	f := New(opts)
	big := sdu(2)
	big["valueStringAtSource"] = strings.Repeat("y", 500)

	require.NoError(t, f.Update(change(t, 1, "P1", sdu(1))))
	require.NoError(t, f.Update(change(t, 2, "P2", big)))
	require.NoError(t, f.Update(change(t, 3, "P3", sdu(3))))

	sink := &captureSink{}
	f.Flush(context.Background(), sink, nil)
	updates := decodePackets(t, sink.packets)
	require.Len(t, updates, 2)
	assert.Equal(t, int64(1), updates[0].Cnt)
	assert.Equal(t, int64(2), updates[1].Cnt)
	assert.Equal(t, "P3", updates[1].Tag)
	assert.Equal(t, uint64(1), f.Counters().Oversized)
}

func TestLargeJSONValueIsStripped(t *testing.T) {
	opts := testOptions()
	opts.MaxLengthJSON = 1000
	f := New(opts)
	s := sdu(1)
	s["valueJsonAtSource"] = strings.Repeat("z", 600)
	s["valueBsonAtSource"] = bson.M{"a": 1}

	require.NoError(t, f.Update(change(t, 1, "P1", s)))
	sink := &captureSink{}
	f.Flush(context.Background(), sink, nil)

	updates := decodePackets(t, sink.packets)
	require.Len(t, updates, 1)
	got := updates[0].UpdateDescription.UpdatedFields["sourceDataUpdate"].(map[string]interface{})
	assert.NotContains(t, got, "valueJsonAtSource")
	assert.NotContains(t, got, "valueBsonAtSource")
	assert.Equal(t, int64(1), got["valueAtSource"])
}

func TestIntegrity(t *testing.T) {
	f := New(testOptions())
	doc := mustRaw(t, bson.M{"_id": int64(42), "tag": "P42", "value": 3.5, "sourceDataUpdate": sdu(1), "timeTag": at})
	require.NoError(t, f.Integrity(doc))
	assert.Error(t, f.Integrity(mustRaw(t, bson.M{"_id": int64(43)})))

	sink := &captureSink{}
	f.Flush(context.Background(), sink, nil)
	updates := decodePackets(t, sink.packets)
	require.Len(t, updates, 1)
	u := updates[0]
	assert.Equal(t, datamodel.UpdateKindIntegrity, u.OperationType)
	assert.Equal(t, "P42", u.Tag)
	assert.Equal(t, int64(42), u.UpdateDescription.UpdatedFields["_id"])
	assert.Equal(t, 3.5, u.UpdateDescription.UpdatedFields["value"])
	assert.NotContains(t, u.UpdateDescription.UpdatedFields, "sourceDataUpdate")
	assert.Equal(t, uint64(1), f.Counters().Integrity)
}

func TestFlushIsBounded(t *testing.T) {
	opts := testOptions()
	opts.PacketSizeThreshold = 1
	opts.MaxPacketsPerFlush = 3
	f := New(opts)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, f.Update(change(t, i, "P1", sdu(float64(i)))))
	}
	sink := &captureSink{}

	assert.Equal(t, 3, f.Flush(context.Background(), sink, nil))
	assert.Equal(t, 2, f.Pending())
	assert.Equal(t, 2, f.Flush(context.Background(), sink, nil))
	assert.Zero(t, f.Pending())
}

func TestSendFailureDropsPacket(t *testing.T) {
	f := New(testOptions())
	require.NoError(t, f.Update(change(t, 1, "P1", sdu(1))))
	sink := &captureSink{err: errors.New("network unreachable")}

	assert.Zero(t, f.Flush(context.Background(), sink, nil))
	assert.Zero(t, f.Pending())
	assert.Equal(t, uint64(1), f.Counters().SendFails)
}

func TestBackfill(t *testing.T) {
	opts := testOptions()
	opts.Backfill = true
	f := New(opts)
	require.NoError(t, f.Update(change(t, 1, "P1", sdu(1))))
	backfill := &captureBackfill{}

	f.Flush(context.Background(), &captureSink{}, backfill)

	require.Len(t, backfill.docs, 1)
	doc := backfill.docs[0].(bson.M)
	assert.Equal(t, bson.M{"tag": "P1"}, doc["metadata"])
	assert.Equal(t, at, doc["timestamp"])
}

func TestRoundTripThroughBulkQueue(t *testing.T) {
	opts := testOptions()
	opts.PacketSizeThreshold = 500
	f := New(opts)
	for i := int64(1); i <= 30; i++ {
		require.NoError(t, f.Update(change(t, i, "P1", sdu(float64(i)))))
	}
	require.NoError(t, f.Integrity(mustRaw(t, bson.M{"_id": int64(7), "tag": "P7", "value": 1.0})))
	sink := &captureSink{}
	f.Flush(context.Background(), sink, nil)

	q := bulkqueue.New(bulkqueue.Options{MaxLength: 1000, MaxPerTick: 1000, Tick: time.Millisecond})
	for _, p := range sink.packets {
		q.Push(p)
	}
	w := &countingWriter{}
	q.Tick(context.Background(), w)

	assert.Len(t, w.models, 31)
	assert.Zero(t, q.Counters().Lost)
	assert.Zero(t, q.Counters().Malformed)
	assert.Equal(t, int64(31), q.Counters().LastCnt)

	last := w.models[30].(*mongo.UpdateOneModel)
	require.NotNil(t, last.Upsert)
	assert.True(t, *last.Upsert)
}

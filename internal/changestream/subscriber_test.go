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

package changestream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/scada-core/internal"
	"go.mongodb.org/mongo-driver/bson"
)

type fakeStream struct {
	docs   []bson.Raw
	pos    int
	err    error
	closed bool
	// block keeps Next waiting for ctx after the docs are consumed
	block bool
}

func (f *fakeStream) Next(ctx context.Context) bool {
	if f.pos < len(f.docs) {
		f.pos++
		return true
	}
	if f.block {
		<-ctx.Done()
	}
	return false
}

func (f *fakeStream) Current() bson.Raw     { return f.docs[f.pos-1] }
func (f *fakeStream) ResumeToken() bson.Raw { return nil }
func (f *fakeStream) Err() error            { return f.err }
func (f *fakeStream) Close(context.Context) error {
	f.closed = true
	return nil
}

type memCheckpoints struct {
	mu     sync.Mutex
	tokens map[string]bson.Raw
	err    error
}

func (m *memCheckpoints) Load(_ context.Context, key string) (bson.Raw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.tokens[key], nil
}

func (m *memCheckpoints) Save(_ context.Context, key string, token bson.Raw) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[string]bson.Raw{}
	}
	m.tokens[key] = token
	return nil
}

func insertEvent(t *testing.T, id int, tag string) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(bson.M{
		"_id":           bson.M{"_data": tag},
		"operationType": "insert",
		"documentKey":   bson.M{"_id": id},
		"fullDocument":  bson.M{"_id": id, "tag": tag},
	})
	require.NoError(t, err)
	return b
}

func collect(out chan Delivery) []string {
	var tags []string
	for {
		select {
		case d := <-out:
			tags = append(tags, d.Event.FullDocument.Lookup("tag").StringValue())
		default:
			return tags
		}
	}
}

func TestRunDeliversInOrderAndInvalidatesOnEnd(t *testing.T) {
	malformed, err := bson.Marshal(bson.M{"operationType": "bogus"})
	require.NoError(t, err)
	stream := &fakeStream{docs: []bson.Raw{insertEvent(t, 1, "A"), malformed, insertEvent(t, 2, "B"), insertEvent(t, 3, "C")}}
	var reasons []string
	sub := NewSubscriber("commandsQueue", "cmd", func(context.Context, bson.Raw) (Stream, error) {
		return stream, nil
	}, nil, func(reason string) { reasons = append(reasons, reason) })

	out := make(chan Delivery, 10)
	err = sub.Run(context.Background(), out)

	assert.ErrorIs(t, err, internal.ErrConnectivity)
	assert.Equal(t, []string{"A", "B", "C"}, collect(out))
	assert.Len(t, reasons, 1)
	assert.True(t, stream.closed)
}

func TestRunInvalidatesOnStreamError(t *testing.T) {
	stream := &fakeStream{err: errors.New("cursor killed")}
	invalidated := 0
	sub := NewSubscriber("realtimeData", "rt", func(context.Context, bson.Raw) (Stream, error) {
		return stream, nil
	}, nil, func(string) { invalidated++ })

	err := sub.Run(context.Background(), make(chan Delivery, 1))
	assert.ErrorIs(t, err, internal.ErrConnectivity)
	assert.Equal(t, 1, invalidated)
}

func TestRunInvalidatesOnOpenError(t *testing.T) {
	invalidated := 0
	sub := NewSubscriber("realtimeData", "rt", func(context.Context, bson.Raw) (Stream, error) {
		return nil, errors.New("not a replica set")
	}, nil, func(string) { invalidated++ })

	err := sub.Run(context.Background(), make(chan Delivery, 1))
	assert.ErrorIs(t, err, internal.ErrConnectivity)
	assert.Equal(t, 1, invalidated)
}

func TestRunStopsQuietlyOnCancel(t *testing.T) {
	stream := &fakeStream{block: true}
	invalidated := 0
	sub := NewSubscriber("realtimeData", "rt", func(context.Context, bson.Raw) (Stream, error) {
		return stream, nil
	}, nil, func(string) { invalidated++ })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, make(chan Delivery)) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, invalidated)
}

func TestCheckpointResume(t *testing.T) {
	cp := &memCheckpoints{}
	first := &fakeStream{docs: []bson.Raw{insertEvent(t, 1, "A")}}
	var resumedWith bson.Raw
	opened := 0
	open := func(_ context.Context, token bson.Raw) (Stream, error) {
		opened++
		if opened == 1 {
			return first, nil
		}
		resumedWith = token
		return &fakeStream{}, nil
	}
	sub := NewSubscriber("commandsQueue", "cmd", open, cp, func(string) {})

	out := make(chan Delivery, 1)
	_ = sub.Run(context.Background(), out)
	d := <-out
	require.NotNil(t, d.Event.ResumeToken)
	d.Subscriber.Checkpoint(context.Background(), d.Event.ResumeToken)

	_ = sub.Run(context.Background(), make(chan Delivery, 1))
	assert.Equal(t, d.Event.ResumeToken, resumedWith)
}

func TestCheckpointFallsBackWhenTokenRejected(t *testing.T) {
	token, err := bson.Marshal(bson.M{"_data": "old"})
	require.NoError(t, err)
	cp := &memCheckpoints{tokens: map[string]bson.Raw{"cmd": token}}
	var tokens []bson.Raw
	open := func(_ context.Context, tok bson.Raw) (Stream, error) {
		tokens = append(tokens, tok)
		if tok != nil {
			return nil, errors.New("resume point no longer in oplog")
		}
		return &fakeStream{}, nil
	}
	sub := NewSubscriber("commandsQueue", "cmd", open, cp, func(string) {})

	_ = sub.Run(context.Background(), make(chan Delivery, 1))
	require.Len(t, tokens, 2)
	assert.NotNil(t, tokens[0])
	assert.Nil(t, tokens[1])
}

func TestCheckpointDisabled(t *testing.T) {
	sub := NewSubscriber("commandsQueue", "cmd", nil, nil, func(string) {})
	// must not panic without a checkpointer
	sub.Checkpoint(context.Background(), bson.Raw{})
}

func TestPipelines(t *testing.T) {
	ins := InsertPipeline()
	require.Len(t, ins, 1)
	assert.Equal(t, "$match", ins[0][0].Key)

	upd := SourceDataUpdatePipeline()
	require.Len(t, upd, 1)
	match := upd[0][0].Value.(bson.D)
	assert.Equal(t, "operationType", match[0].Key)
	assert.Equal(t, "update", match[0].Value)
}

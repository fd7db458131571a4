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

// Package changestream keeps one live, filtered change subscription per collection and hands
// decoded events to the worker loop in commit order.
package changestream

import (
	"context"
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Stream is an open change stream. Implemented by store.ChangeStream.
type Stream interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	ResumeToken() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// OpenFunc opens a stream on the subscription's collection, after resumeAfter if it is not nil.
type OpenFunc func(ctx context.Context, resumeAfter bson.Raw) (Stream, error)

// Checkpointer persists resume tokens. A nil Checkpointer disables checkpointing, in which case
// events committed while the subscription is down are never delivered.
type Checkpointer interface {
	Load(ctx context.Context, key string) (bson.Raw, error)
	Save(ctx context.Context, key string, token bson.Raw) error
}

// Delivery is one event on its way to the worker loop.
type Delivery struct {
	Subscriber *Subscriber
	Event      datamodel.ChangeEvent
}

type Subscriber struct {
	collection  string
	key         string
	open        OpenFunc
	checkpoints Checkpointer
	invalidate  func(reason string)
}

// NewSubscriber builds a subscriber. invalidate is called once the stream errors, closes or ends;
// it must discard the session the stream was opened on.
func NewSubscriber(collection, checkpointKey string, open OpenFunc, checkpoints Checkpointer, invalidate func(reason string)) *Subscriber {
	return &Subscriber{
		collection:  collection,
		key:         checkpointKey,
		open:        open,
		checkpoints: checkpoints,
		invalidate:  invalidate,
	}
}

func (s *Subscriber) Collection() string {
	return s.collection
}

// Run delivers events to out until ctx is done or the stream fails. A failing stream invalidates
// the session and Run returns an error wrapping internal.ErrConnectivity.
func (s *Subscriber) Run(ctx context.Context, out chan<- Delivery) error {
	stream, err := s.openStream(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.invalidate(fmt.Sprintf("watch %s: open failed", s.collection))
		return fmt.Errorf("%w: watch %s: %v", internal.ErrConnectivity, s.collection, err)
	}
	defer func() {
		_ = stream.Close(context.Background())
	}()
	zap.S().Infof("Watching %s", s.collection)

	for stream.Next(ctx) {
		// the driver may reuse the buffer behind Current once Next is called again
		raw := append(bson.Raw(nil), stream.Current()...)
		ev, err := datamodel.DecodeChangeEvent(raw)
		if err != nil {
			zap.S().Warnf("Skipping change on %s: %v", s.collection, err)
			continue
		}
		if ev.ResumeToken == nil {
			ev.ResumeToken = stream.ResumeToken()
		}
		metrics.ChangeEvents.WithLabelValues(s.collection).Inc()
		select {
		case out <- Delivery{Subscriber: s, Event: ev}:
		case <-ctx.Done():
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	reason := fmt.Sprintf("watch %s: stream ended", s.collection)
	if err = stream.Err(); err != nil {
		reason = fmt.Sprintf("watch %s: stream error", s.collection)
		zap.S().Errorf("Change stream on %s failed: %v", s.collection, err)
	}
	s.invalidate(reason)
	return fmt.Errorf("%w: %s", internal.ErrConnectivity, reason)
}

func (s *Subscriber) openStream(ctx context.Context) (Stream, error) {
	token, err := s.loadToken(ctx)
	if err != nil {
		zap.S().Warnf("Unable to load checkpoint of %s, starting from now: %v", s.collection, err)
		token = nil
	}
	stream, err := s.open(ctx, token)
	if err == nil || token == nil || errors.Is(err, internal.ErrConnectivity) {
		return stream, err
	}
	// the token may have fallen off the oplog
	zap.S().Warnf("Unable to resume %s from checkpoint, starting from now: %v", s.collection, err)
	return s.open(ctx, nil)
}

func (s *Subscriber) loadToken(ctx context.Context) (bson.Raw, error) {
	if s.checkpoints == nil {
		return nil, nil
	}
	return s.checkpoints.Load(ctx, s.key)
}

// Checkpoint stores the resume token of an event the worker loop finished handling.
func (s *Subscriber) Checkpoint(ctx context.Context, token bson.Raw) {
	if s.checkpoints == nil || token == nil {
		return
	}
	if err := s.checkpoints.Save(ctx, s.key, token); err != nil {
		zap.S().Warnf("Unable to save checkpoint of %s: %v", s.collection, err)
	}
}

// InsertPipeline matches inserts only.
func InsertPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: string(datamodel.OperationInsert)}}}},
	}
}

// SourceDataUpdatePipeline matches updates that touched sourceDataUpdate.
func SourceDataUpdatePipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: string(datamodel.OperationUpdate)},
			{Key: "updateDescription.updatedFields.sourceDataUpdate", Value: bson.D{{Key: "$exists", Value: true}}},
		}}},
	}
}

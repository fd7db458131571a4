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

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Session is one connection lifetime. Every handle created from it becomes unusable after Invalidate.
type Session struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration

	lost     chan struct{}
	lostOnce sync.Once
}

func newSession(client *mongo.Client, db *mongo.Database, opTimeout time.Duration) *Session {
	return &Session{
		client:    client,
		db:        db,
		opTimeout: opTimeout,
		lost:      make(chan struct{}),
	}
}

// Lost is closed once the session was invalidated.
func (s *Session) Lost() <-chan struct{} {
	return s.lost
}

// Invalidate marks the session as unusable and disconnects the client.
// Safe to call from any goroutine and more than once.
func (s *Session) Invalidate(reason string) {
	s.lostOnce.Do(func() {
		zap.S().Warnf("Invalidating MongoDB session: %s", reason)
		metrics.Reconnects.WithLabelValues(reason).Inc()
		close(s.lost)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
			defer cancel()
			if err := s.client.Disconnect(ctx); err != nil {
				zap.S().Debugf("Disconnect after invalidation: %v", err)
			}
		}()
	})
}

// Close releases the session at the end of the process.
func (s *Session) Close(ctx context.Context) error {
	s.lostOnce.Do(func() { close(s.lost) })
	return s.client.Disconnect(ctx)
}

// Ping is used as readiness check.
func (s *Session) Ping(ctx context.Context) error {
	select {
	case <-s.lost:
		return fmt.Errorf("%w: session invalidated", internal.ErrConnectivity)
	default:
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return classify(s.client.Ping(ctx, readpref.Primary()))
}

// EnsureIndexes creates the unique index on the instance identity. Failures are logged only,
// an existing set of duplicate instance records must be cleaned up by an operator.
func (s *Session) EnsureIndexes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	_, err := s.db.Collection(datamodel.ProtocolDriverInstancesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "protocolDriver", Value: 1}, {Key: "protocolDriverInstanceNumber", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		zap.S().Warnf("Unable to create unique index on %s: %v", datamodel.ProtocolDriverInstancesCollection, err)
	}
}

func (s *Session) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// classify wraps driver errors into the shared error classes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return err
	case mongo.IsNetworkError(err), mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", internal.ErrConnectivity, err)
	case isValidationFailure(err):
		return fmt.Errorf("%w: %v", internal.ErrValidation, err)
	default:
		return err
	}
}

// documentValidationFailure is the server code for writes rejected by a collection validator.
const documentValidationFailure = 121

func isValidationFailure(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == documentValidationFailure {
				return true
			}
		}
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(documentValidationFailure)
	}
	return false
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestBulkWriteIsUnordered(t *testing.T) {
	opts := bulkWriteOptions()
	require.NotNil(t, opts.Ordered)
	assert.False(t, *opts.Ordered)
}

func TestBulkResultCountsWriteErrors(t *testing.T) {
	err := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Index: 1, Code: 121, Message: "Document failed validation"}},
		{WriteError: mongo.WriteError{Index: 3, Code: 121, Message: "Document failed validation"}},
	}}
	got := bulkResult(&mongo.BulkWriteResult{MatchedCount: 2, ModifiedCount: 2, UpsertedCount: 1}, err)
	assert.Equal(t, BulkResult{Matched: 2, Modified: 2, Upserted: 1, Failed: 2}, got)
	assert.ErrorIs(t, classify(err), internal.ErrValidation)

	assert.Equal(t, BulkResult{}, bulkResult(nil, mongo.ErrClientDisconnected))
	assert.Equal(t, BulkResult{Matched: 4}, bulkResult(&mongo.BulkWriteResult{MatchedCount: 4}, nil))
}

func TestClassify(t *testing.T) {
	tcs := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), internal.ErrConnectivity},
		{"disconnected", mongo.ErrClientDisconnected, internal.ErrConnectivity},
		{
			"validator",
			mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 121, Message: "Document failed validation"}}},
			internal.ErrValidation,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if tc.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.want)
		})
	}

	t.Run("no documents passes through", func(t *testing.T) {
		assert.True(t, errors.Is(classify(mongo.ErrNoDocuments), mongo.ErrNoDocuments))
	})

	t.Run("other errors stay unclassified", func(t *testing.T) {
		err := classify(errors.New("boom"))
		assert.False(t, errors.Is(err, internal.ErrConnectivity))
		assert.False(t, errors.Is(err, internal.ErrValidation))
	})
}

func TestMatchOrMissing(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now, matchOrMissing(now, false))
	assert.Equal(t, bson.M{"$in": bson.A{nil, ""}}, matchOrMissing("", true))
}

func TestInstanceFilter(t *testing.T) {
	assert.Equal(t, bson.M{"protocolDriver": "MONGOWR", "protocolDriverInstanceNumber": int64(2)}, instanceFilter("MONGOWR", 2))
}

func TestConnectRejectsInvalidURI(t *testing.T) {
	c := NewConnector(config.StoreConfig{URI: "notmongo://x", Database: "db", ReconnectDelay: time.Millisecond, OperationTimeout: time.Millisecond}, "test")
	_, err := c.Connect(context.Background())
	assert.Error(t, err)
}

func TestConnectStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c := NewConnector(config.StoreConfig{
		URI:              "mongodb://127.0.0.1:1/?connect=direct",
		Database:         "db",
		ReconnectDelay:   10 * time.Millisecond,
		OperationTimeout: 20 * time.Millisecond,
	}, "test")
	_, err := c.Connect(ctx)
	assert.Error(t, err)
}

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

	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// BulkResult summarizes one bulk write. Failed counts the operations the server rejected.
type BulkResult struct {
	Matched  int64
	Modified int64
	Upserted int64
	Failed   int
}

// RealtimeData accesses the realtimeData and backfillData collections in bulk.
type RealtimeData struct {
	s *Session
}

func (s *Session) RealtimeData() *RealtimeData {
	return &RealtimeData{s: s}
}

// bulkWriteOptions keeps going after a failed operation and waits for one node only.
func bulkWriteOptions() *options.BulkWriteOptions {
	return options.BulkWrite().SetOrdered(false)
}

// BulkWrite submits all models in one unordered request. Operations rejected by the server
// are reported in Failed together with a non-nil error; all other operations are applied.
func (r *RealtimeData) BulkWrite(ctx context.Context, models []mongo.WriteModel) (BulkResult, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	coll := r.s.db.Collection(datamodel.RealtimeDataCollection, options.Collection().SetWriteConcern(writeconcern.W1()))
	res, err := coll.BulkWrite(ctx, models, bulkWriteOptions())
	return bulkResult(res, err), classify(err)
}

// bulkResult counts what an unordered bulk write applied. Operations rejected by the server
// come back as write errors next to a partial result.
func bulkResult(res *mongo.BulkWriteResult, err error) BulkResult {
	var out BulkResult
	if res != nil {
		out = BulkResult{Matched: res.MatchedCount, Modified: res.ModifiedCount, Upserted: res.UpsertedCount}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		out.Failed = len(bwe.WriteErrors)
	}
	return out
}

// PointsAfter returns up to limit points ordered by _id, starting after the point with the given _id.
// An empty after starts at the first point. Staging and destination fields are left out.
func (r *RealtimeData) PointsAfter(ctx context.Context, after bson.RawValue, limit int64) ([]bson.Raw, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if after.Type != 0 {
		filter["_id"] = bson.M{"$gt": after}
	}
	cur, err := r.s.collection(datamodel.RealtimeDataCollection).Find(ctx, filter, options.Find().
		SetProjection(bson.M{"sourceDataUpdate": 0, "protocolDestinations": 0}).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit))
	if err != nil {
		return nil, classify(err)
	}
	var page []bson.Raw
	if err = cur.All(ctx, &page); err != nil {
		return nil, classify(err)
	}
	return page, nil
}

// InsertBackfill appends forwarded updates to the backfill collection.
func (r *RealtimeData) InsertBackfill(ctx context.Context, docs []interface{}) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	res, err := r.s.collection(datamodel.BackfillDataCollection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if res == nil {
		return 0, classify(err)
	}
	return len(res.InsertedIDs), classify(err)
}

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
	"time"

	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Commands accesses the collections the command dispatcher reads and writes.
type Commands struct {
	s *Session
}

func (s *Session) Commands() *Commands {
	return &Commands{s: s}
}

var pointProjection = bson.M{
	"_id": 1, "tag": 1, "type": 1, "origin": 1, "value": 1, "valueString": 1,
	"supervisedOfCommand": 1, "commandOfSupervised": 1,
}

// Connections lists the connections of one worker instance.
func (c *Commands) Connections(ctx context.Context, driver string, instance int64) ([]datamodel.ConnectionRecord, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	cur, err := c.s.collection(datamodel.ProtocolConnectionsCollection).Find(ctx, instanceFilter(driver, instance))
	if err != nil {
		return nil, classify(err)
	}
	var conns []datamodel.ConnectionRecord
	if err = cur.All(ctx, &conns); err != nil {
		return nil, classify(err)
	}
	return conns, nil
}

// PointByTag returns nil without error when no point carries the tag.
func (c *Commands) PointByTag(ctx context.Context, tag string) (*datamodel.RealtimeDataPoint, error) {
	return c.findPoint(ctx, bson.M{"tag": tag})
}

// PointByID returns nil without error when the point does not exist.
func (c *Commands) PointByID(ctx context.Context, id int64) (*datamodel.RealtimeDataPoint, error) {
	return c.findPoint(ctx, bson.M{"_id": id})
}

// PointByCommand returns the command point whose commandOfSupervised references the given point.
func (c *Commands) PointByCommand(ctx context.Context, supervisedID int64) (*datamodel.RealtimeDataPoint, error) {
	return c.findPoint(ctx, bson.M{"commandOfSupervised": supervisedID})
}

func (c *Commands) findPoint(ctx context.Context, filter bson.M) (*datamodel.RealtimeDataPoint, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	var p datamodel.RealtimeDataPoint
	err := c.s.collection(datamodel.RealtimeDataCollection).
		FindOne(ctx, filter, options.FindOne().SetProjection(pointProjection)).
		Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

// WriteSourceDataUpdate stages an update on a point. It reports whether a point matched.
func (c *Commands) WriteSourceDataUpdate(ctx context.Context, pointID int64, update datamodel.SourceDataUpdate) (bool, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	res, err := c.s.collection(datamodel.RealtimeDataCollection).UpdateOne(ctx,
		bson.M{"_id": pointID},
		bson.M{"$set": bson.M{"sourceDataUpdate": update}},
	)
	if err != nil {
		return false, classify(err)
	}
	return res.MatchedCount > 0, nil
}

// Ack marks a command as delivered and acknowledged. Only unacknowledged commands are touched.
func (c *Commands) Ack(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	_, err := c.s.collection(datamodel.CommandsQueueCollection).UpdateOne(ctx,
		bson.M{"_id": id, "ack": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"delivered": true, "ack": true, "ackTimeTag": now}},
	)
	return classify(err)
}

// Cancel records why a command was not dispatched. Only unacknowledged commands are touched.
func (c *Commands) Cancel(ctx context.Context, id primitive.ObjectID, reason string, now time.Time) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	_, err := c.s.collection(datamodel.CommandsQueueCollection).UpdateOne(ctx,
		bson.M{"_id": id, "ack": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"ack": false, "ackTimeTag": now, "cancelReason": reason}},
	)
	return classify(err)
}

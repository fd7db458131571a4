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
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Instances accesses the protocolDriverInstances collection.
type Instances struct {
	s *Session
}

func (s *Session) Instances() *Instances {
	return &Instances{s: s}
}

func instanceFilter(driver string, instance int64) bson.M {
	return bson.M{
		"protocolDriver":               driver,
		"protocolDriverInstanceNumber": instance,
	}
}

// Find returns nil without error when no record exists. The opaque stats field is not read.
func (i *Instances) Find(ctx context.Context, driver string, instance int64) (*datamodel.InstanceRecord, error) {
	ctx, cancel := i.s.withTimeout(ctx)
	defer cancel()

	var rec datamodel.InstanceRecord
	err := i.s.collection(datamodel.ProtocolDriverInstancesCollection).
		FindOne(ctx, instanceFilter(driver, instance), options.FindOne().SetProjection(bson.M{"stats": 0})).
		Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

// Create inserts a new record. It reports false without error when another node created it first.
func (i *Instances) Create(ctx context.Context, rec datamodel.InstanceRecord) (bool, error) {
	ctx, cancel := i.s.withTimeout(ctx)
	defer cancel()

	_, err := i.s.collection(datamodel.ProtocolDriverInstancesCollection).InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

// RefreshKeepAlive writes a new keepalive only while node is still the recorded active node.
func (i *Instances) RefreshKeepAlive(ctx context.Context, driver string, instance int64, node string, now time.Time, stats *datamodel.InstanceStats, version string) (bool, error) {
	ctx, cancel := i.s.withTimeout(ctx)
	defer cancel()

	filter := instanceFilter(driver, instance)
	filter["activeNodeName"] = node
	set := bson.M{
		"activeNodeKeepAliveTimeTag": now,
		"softwareVersion":            version,
	}
	if stats != nil {
		set["stats"] = stats
	}
	res, err := i.s.collection(datamodel.ProtocolDriverInstancesCollection).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, classify(err)
	}
	return res.MatchedCount > 0, nil
}

// Claim takes over activation. The update only applies when the record still shows the
// node and keepalive observed on the last tick, so of several claimants at most one wins.
func (i *Instances) Claim(ctx context.Context, driver string, instance int64, node string, observedNode string, observedKeepAlive time.Time, now time.Time) (bool, error) {
	ctx, cancel := i.s.withTimeout(ctx)
	defer cancel()

	filter := instanceFilter(driver, instance)
	filter["activeNodeName"] = matchOrMissing(observedNode, observedNode == "")
	filter["activeNodeKeepAliveTimeTag"] = matchOrMissing(observedKeepAlive, observedKeepAlive.IsZero())
	res, err := i.s.collection(datamodel.ProtocolDriverInstancesCollection).UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"activeNodeName":             node,
		"activeNodeKeepAliveTimeTag": now,
	}})
	if err != nil {
		return false, classify(err)
	}
	return res.ModifiedCount > 0, nil
}

// matchOrMissing also matches null and absent fields when v is the decoded zero value.
func matchOrMissing(v interface{}, zero bool) interface{} {
	if !zero {
		return v
	}
	return bson.M{"$in": bson.A{nil, v}}
}

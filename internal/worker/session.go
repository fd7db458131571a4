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

package worker

import (
	"context"

	"github.com/united-manufacturing-hub/scada-core/internal/changestream"
	"github.com/united-manufacturing-hub/scada-core/internal/commands"
	"github.com/united-manufacturing-hub/scada-core/internal/redundancy"
	"github.com/united-manufacturing-hub/scada-core/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoSession adapts a store.Session to Session.
type MongoSession struct {
	*store.Session
}

func (m MongoSession) Instances() redundancy.InstanceStore {
	return m.Session.Instances()
}

func (m MongoSession) Commands() commands.Store {
	return m.Session.Commands()
}

func (m MongoSession) RealtimeData() RealtimeData {
	return m.Session.RealtimeData()
}

func (m MongoSession) Watch(ctx context.Context, collection string, pipeline mongo.Pipeline, resumeAfter bson.Raw) (changestream.Stream, error) {
	cs, err := m.Session.Watch(ctx, collection, pipeline, resumeAfter)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (m MongoSession) Checkpoints() changestream.Checkpointer {
	return m.Session.Checkpoints()
}

// MongoConnector adapts a store.Connector to Connector and creates the indexes on every session.
type MongoConnector struct {
	*store.Connector
}

func (m MongoConnector) Connect(ctx context.Context) (Session, error) {
	sess, err := m.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	sess.EnsureIndexes(ctx)
	return MongoSession{Session: sess}, nil
}

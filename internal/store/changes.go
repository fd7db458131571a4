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

// ChangeStream adapts *mongo.ChangeStream to the subscriber's stream interface.
type ChangeStream struct {
	cs *mongo.ChangeStream
}

func (c *ChangeStream) Next(ctx context.Context) bool  { return c.cs.Next(ctx) }
func (c *ChangeStream) Current() bson.Raw              { return c.cs.Current }
func (c *ChangeStream) ResumeToken() bson.Raw          { return c.cs.ResumeToken() }
func (c *ChangeStream) Err() error                     { return classify(c.cs.Err()) }
func (c *ChangeStream) Close(ctx context.Context) error { return c.cs.Close(ctx) }

// Watch opens a change stream with post-image lookup. A non-nil resumeAfter continues after that token.
func (s *Session) Watch(ctx context.Context, collection string, pipeline mongo.Pipeline, resumeAfter bson.Raw) (*ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if resumeAfter != nil {
		opts.SetResumeAfter(resumeAfter)
	}
	openCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	cs, err := s.collection(collection).Watch(openCtx, pipeline, opts)
	if err != nil {
		return nil, classify(err)
	}
	return &ChangeStream{cs: cs}, nil
}

// Checkpoints stores change stream resume tokens in the changeStreamCheckpoints collection.
type Checkpoints struct {
	s *Session
}

func (s *Session) Checkpoints() *Checkpoints {
	return &Checkpoints{s: s}
}

type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Token     bson.Raw  `bson:"token"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (c *Checkpoints) Load(ctx context.Context, key string) (bson.Raw, error) {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	var doc checkpointDoc
	err := c.s.collection(datamodel.CheckpointsCollection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return doc.Token, nil
}

func (c *Checkpoints) Save(ctx context.Context, key string, token bson.Raw) error {
	ctx, cancel := c.s.withTimeout(ctx)
	defer cancel()

	_, err := c.s.collection(datamodel.CheckpointsCollection).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"token": token, "updatedAt": time.Now()}},
		options.Update().SetUpsert(true),
	)
	return classify(err)
}

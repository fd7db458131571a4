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

package datamodel

import (
	"fmt"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// OperationType is the kind of a change notification.
type OperationType string

const (
	OperationInsert     OperationType = "insert"
	OperationUpdate     OperationType = "update"
	OperationReplace    OperationType = "replace"
	OperationDelete     OperationType = "delete"
	OperationInvalidate OperationType = "invalidate"
)

// ParseOperationType rejects operation types this module does not know about.
func ParseOperationType(s string) (OperationType, error) {
	switch op := OperationType(s); op {
	case OperationInsert, OperationUpdate, OperationReplace, OperationDelete, OperationInvalidate:
		return op, nil
	default:
		return "", fmt.Errorf("%w: unknown operation type %q", internal.ErrValidation, s)
	}
}

// ChangeEvent is a decoded change notification of a single collection.
// FullDocument and UpdatedFields are nil when the store did not deliver them.
type ChangeEvent struct {
	OperationType OperationType
	DocumentKey   bson.Raw
	FullDocument  bson.Raw
	UpdatedFields bson.Raw
	ResumeToken   bson.Raw
}

type rawChangeEvent struct {
	ID                bson.RawValue `bson:"_id"`
	OperationType     string        `bson:"operationType"`
	DocumentKey       bson.RawValue `bson:"documentKey"`
	FullDocument      bson.RawValue `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.RawValue `bson:"updatedFields"`
	} `bson:"updateDescription"`
}

// DecodeChangeEvent validates a raw change stream document.
func DecodeChangeEvent(raw bson.Raw) (ChangeEvent, error) {
	var r rawChangeEvent
	if err := bson.Unmarshal(raw, &r); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: change event: %v", internal.ErrValidation, err)
	}
	op, err := ParseOperationType(r.OperationType)
	if err != nil {
		return ChangeEvent{}, err
	}
	ev := ChangeEvent{
		OperationType: op,
		ResumeToken:   documentOrNil(r.ID),
		DocumentKey:   documentOrNil(r.DocumentKey),
		FullDocument:  documentOrNil(r.FullDocument),
		UpdatedFields: documentOrNil(r.UpdateDescription.UpdatedFields),
	}
	if op != OperationInvalidate && ev.DocumentKey == nil {
		return ChangeEvent{}, fmt.Errorf("%w: %s event without documentKey", internal.ErrValidation, op)
	}
	return ev, nil
}

func documentOrNil(v bson.RawValue) bson.Raw {
	if v.Type != bsontype.EmbeddedDocument {
		return nil
	}
	doc, ok := v.DocumentOK()
	if !ok {
		return nil
	}
	return doc
}

// DecodeCommand validates the full document of a commandsQueue insert.
func DecodeCommand(doc bson.Raw) (CommandRequest, error) {
	if doc == nil {
		return CommandRequest{}, fmt.Errorf("%w: command without full document", internal.ErrValidation)
	}
	var cmd CommandRequest
	if err := bson.Unmarshal(doc, &cmd); err != nil {
		return CommandRequest{}, fmt.Errorf("%w: command: %v", internal.ErrValidation, err)
	}
	if cmd.ID.IsZero() {
		return CommandRequest{}, fmt.Errorf("%w: command without _id", internal.ErrValidation)
	}
	if cmd.Tag == "" && cmd.PointKey == 0 {
		return CommandRequest{}, fmt.Errorf("%w: command %s has neither tag nor pointKey", internal.ErrValidation, cmd.ID.Hex())
	}
	return cmd, nil
}

// DecodePoint decodes a realtimeData document.
func DecodePoint(doc bson.Raw) (RealtimeDataPoint, error) {
	if doc == nil {
		return RealtimeDataPoint{}, fmt.Errorf("%w: point without document", internal.ErrValidation)
	}
	var p RealtimeDataPoint
	if err := bson.Unmarshal(doc, &p); err != nil {
		return RealtimeDataPoint{}, fmt.Errorf("%w: point: %v", internal.ErrValidation, err)
	}
	if p.Tag == "" {
		return RealtimeDataPoint{}, fmt.Errorf("%w: point %d without tag", internal.ErrValidation, p.ID)
	}
	return p, nil
}

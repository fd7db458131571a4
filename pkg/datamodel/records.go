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
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collection names shared by every worker.
const (
	RealtimeDataCollection            = "realtimeData"
	CommandsQueueCollection           = "commandsQueue"
	ProtocolDriverInstancesCollection = "protocolDriverInstances"
	ProtocolConnectionsCollection     = "protocolConnections"
	BackfillDataCollection            = "backfillData"
	CheckpointsCollection             = "changeStreamCheckpoints"
)

// InstanceRecord is the heartbeat/ownership document of one logical worker.
// It is unique per (ProtocolDriver, ProtocolDriverInstanceNumber).
type InstanceRecord struct {
	ID                               primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ProtocolDriver                   string             `bson:"protocolDriver" json:"protocolDriver"`
	ProtocolDriverInstanceNumber     int64              `bson:"protocolDriverInstanceNumber" json:"protocolDriverInstanceNumber"`
	Enabled                          bool               `bson:"enabled" json:"enabled"`
	LogLevel                         int                `bson:"logLevel" json:"logLevel"`
	NodeNames                        []string           `bson:"nodeNames" json:"nodeNames"`
	ActiveNodeName                   string             `bson:"activeNodeName" json:"activeNodeName"`
	ActiveNodeKeepAliveTimeTag       time.Time          `bson:"activeNodeKeepAliveTimeTag" json:"activeNodeKeepAliveTimeTag"`
	KeepProtocolRunningWhileInactive bool               `bson:"keepProtocolRunningWhileInactive" json:"keepProtocolRunningWhileInactive"`
	SoftwareVersion                  string             `bson:"softwareVersion,omitempty" json:"softwareVersion,omitempty"`
	Stats                            *InstanceStats     `bson:"stats,omitempty" json:"stats,omitempty"`
}

// AllowsNode reports whether nodeName may run this instance. An empty whitelist allows any node.
func (r InstanceRecord) AllowsNode(nodeName string) bool {
	if len(r.NodeNames) == 0 {
		return true
	}
	nodeName = strings.TrimSpace(nodeName)
	for _, n := range r.NodeNames {
		if strings.TrimSpace(n) == nodeName {
			return true
		}
	}
	return false
}

// InstanceStats is written next to the keepalive. Opaque to other workers.
type InstanceStats struct {
	ProcessID      string            `bson:"processId" json:"processId"`
	HostID         string            `bson:"hostId,omitempty" json:"hostId,omitempty"`
	UptimeSeconds  uint64            `bson:"uptimeSeconds" json:"uptimeSeconds"`
	MemoryUsedPct  float64           `bson:"memoryUsedPercent" json:"memoryUsedPercent"`
	Load1          float64           `bson:"load1" json:"load1"`
	Counters       map[string]uint64 `bson:"counters,omitempty" json:"counters,omitempty"`
	CollectedAtUTC time.Time         `bson:"collectedAt" json:"collectedAt"`
}

// ConnectionRecord is a protocol endpoint configuration. Read only for this module.
type ConnectionRecord struct {
	ID                           primitive.ObjectID `bson:"_id,omitempty"`
	ProtocolDriver               string             `bson:"protocolDriver"`
	ProtocolDriverInstanceNumber int64              `bson:"protocolDriverInstanceNumber"`
	ProtocolConnectionNumber     int64              `bson:"protocolConnectionNumber"`
	Name                         string             `bson:"name"`
	Description                  string             `bson:"description,omitempty"`
	Enabled                      bool               `bson:"enabled"`
	CommandsEnabled              bool               `bson:"commandsEnabled"`
	IPAddressLocalBind           string             `bson:"ipAddressLocalBind,omitempty"`
	IPAddresses                  []string           `bson:"ipAddresses,omitempty"`
}

// Point types and origins of a RealtimeDataPoint.
const (
	PointTypeDigital = "digital"
	PointTypeAnalog  = "analog"
	PointTypeString  = "string"
	PointTypeJSON    = "json"

	OriginSupervised = "supervised"
	OriginCalculated = "calculated"
	OriginManual     = "manual"
	OriginCommand    = "command"
	OriginEstimated  = "estimated"
)

// RealtimeDataPoint is the canonical measurement record. Only the fields this module reads are mapped.
type RealtimeDataPoint struct {
	ID                  int64             `bson:"_id" json:"_id"`
	Tag                 string            `bson:"tag" json:"tag"`
	Type                string            `bson:"type" json:"type"`
	Origin              string            `bson:"origin" json:"origin"`
	Value               float64           `bson:"value" json:"value"`
	ValueString         string            `bson:"valueString" json:"valueString"`
	Invalid             bool              `bson:"invalid" json:"invalid"`
	Alarmed             bool              `bson:"alarmed" json:"alarmed"`
	Overflow            bool              `bson:"overflow" json:"overflow"`
	Frozen              bool              `bson:"frozen" json:"frozen"`
	Substituted         bool              `bson:"substituted" json:"substituted"`
	SupervisedOfCommand int64             `bson:"supervisedOfCommand" json:"supervisedOfCommand"`
	CommandOfSupervised int64             `bson:"commandOfSupervised" json:"commandOfSupervised"`
	SourceDataUpdate    *SourceDataUpdate `bson:"sourceDataUpdate,omitempty" json:"sourceDataUpdate,omitempty"`
}

// SourceDataUpdate is the write-only staging area of a point. Another process merges it into the canonical fields.
type SourceDataUpdate struct {
	ValueAtSource               float64   `bson:"valueAtSource" json:"valueAtSource"`
	ValueStringAtSource         string    `bson:"valueStringAtSource" json:"valueStringAtSource"`
	AsduAtSource                string    `bson:"asduAtSource" json:"asduAtSource"`
	CauseOfTransmissionAtSource string    `bson:"causeOfTransmissionAtSource" json:"causeOfTransmissionAtSource"`
	TimeTag                     time.Time `bson:"timeTag" json:"timeTag"`
	TimeTagAtSource             time.Time `bson:"timeTagAtSource" json:"timeTagAtSource"`
	TimeTagAtSourceOk           bool      `bson:"timeTagAtSourceOk" json:"timeTagAtSourceOk"`
	InvalidAtSource             bool      `bson:"invalidAtSource" json:"invalidAtSource"`
	SubstitutedAtSource         bool      `bson:"substitutedAtSource" json:"substitutedAtSource"`
	OverflowAtSource            bool      `bson:"overflowAtSource" json:"overflowAtSource"`
	BlockedAtSource             bool      `bson:"blockedAtSource" json:"blockedAtSource"`
	NotTopicalAtSource          bool      `bson:"notTopicalAtSource" json:"notTopicalAtSource"`
	TransientAtSource           bool      `bson:"transientAtSource" json:"transientAtSource"`
	CarryAtSource               bool      `bson:"carryAtSource" json:"carryAtSource"`
	Originator                  string    `bson:"originator" json:"originator"`
}

// CommandRequest is one queued action. It is mutated at most once after insertion.
type CommandRequest struct {
	ID                             primitive.ObjectID `bson:"_id"`
	ProtocolSourceConnectionNumber int64              `bson:"protocolSourceConnectionNumber"`
	ProtocolSourceCommonAddress    interface{}        `bson:"protocolSourceCommonAddress,omitempty"`
	ProtocolSourceObjectAddress    interface{}        `bson:"protocolSourceObjectAddress,omitempty"`
	ProtocolSourceASDU             interface{}        `bson:"protocolSourceASDU,omitempty"`
	PointKey                       int64              `bson:"pointKey"`
	Tag                            string             `bson:"tag"`
	TimeTag                        time.Time          `bson:"timeTag"`
	Value                          float64            `bson:"value"`
	ValueString                    string             `bson:"valueString"`
	OriginatorUserName             string             `bson:"originatorUserName"`
	OriginatorIPAddress            string             `bson:"originatorIpAddress"`
	Delivered                      bool               `bson:"delivered"`
	Ack                            bool               `bson:"ack"`
	AckTimeTag                     time.Time          `bson:"ackTimeTag"`
	CancelReason                   string             `bson:"cancelReason,omitempty"`
}

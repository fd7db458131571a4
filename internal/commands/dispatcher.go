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

// Package commands executes queued commands against their target points and acknowledges them.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/patrickmn/go-cache"
	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Store is the part of store.Commands the dispatcher needs.
type Store interface {
	Connections(ctx context.Context, driver string, instance int64) ([]datamodel.ConnectionRecord, error)
	PointByTag(ctx context.Context, tag string) (*datamodel.RealtimeDataPoint, error)
	PointByID(ctx context.Context, id int64) (*datamodel.RealtimeDataPoint, error)
	PointByCommand(ctx context.Context, supervisedID int64) (*datamodel.RealtimeDataPoint, error)
	WriteSourceDataUpdate(ctx context.Context, pointID int64, update datamodel.SourceDataUpdate) (bool, error)
	Ack(ctx context.Context, id primitive.ObjectID, now time.Time) error
	Cancel(ctx context.Context, id primitive.ObjectID, reason string, now time.Time) error
}

// Outcome is what happened to one command. Every outcome except OutcomeDispatched leaves the
// command unacknowledged.
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeInvalid    Outcome = "invalid"
	OutcomeExpired    Outcome = "expired"
	OutcomeForeign    Outcome = "foreign_connection"
	OutcomeDisabled   Outcome = "commands_disabled"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeUnmatched  Outcome = "unmatched"
)

const (
	recentCommandsSize    = 4096
	connectionCacheExpiry = 10 * time.Second
	connectionCachePurge  = 20 * time.Second
	causeRequested        = "3"
)

type Options struct {
	ProtocolDriver string
	InstanceNumber int64
	// Originator is written to sourceDataUpdate.originator.
	Originator string
	// Expiry cancels commands older than this. Zero disables the check.
	Expiry     time.Duration
	Transforms []Transform
	Now        func() time.Time
}

type Dispatcher struct {
	opts        Options
	connections *cache.Cache
	recent      *lru.ARCCache
}

// NewDispatcher builds a dispatcher. AbsoluteTransform is always appended as the last transform.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	recent, err := lru.NewARC(recentCommandsSize)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Originator == "" {
		opts.Originator = opts.ProtocolDriver + "CMD"
	}
	opts.Transforms = append(opts.Transforms, AbsoluteTransform{})
	return &Dispatcher{
		opts:        opts,
		connections: cache.New(connectionCacheExpiry, connectionCachePurge),
		recent:      recent,
	}, nil
}

// Handle processes one commandsQueue change. Only connectivity errors are returned; everything
// else is logged, counted and reported through the outcome.
func (d *Dispatcher) Handle(ctx context.Context, store Store, ev datamodel.ChangeEvent) (Outcome, error) {
	if ev.OperationType != datamodel.OperationInsert {
		return OutcomeIgnored, nil
	}
	cmd, err := datamodel.DecodeCommand(ev.FullDocument)
	if err != nil {
		zap.S().Warnf("Dropping command: %v", err)
		return d.drop(OutcomeInvalid), nil
	}
	if cmd.Ack || d.recent.Contains(cmd.ID) {
		return d.drop(OutcomeDuplicate), nil
	}
	d.recent.Add(cmd.ID, struct{}{})

	outcome, err := d.dispatch(ctx, store, cmd)
	if err != nil {
		if errors.Is(err, internal.ErrConnectivity) {
			return outcome, err
		}
		zap.S().Warnf("Command %s (%s) not dispatched: %v", cmd.ID.Hex(), cmd.Tag, err)
	}
	if outcome == OutcomeDispatched {
		metrics.CommandsDispatched.Inc()
		return outcome, nil
	}
	return d.drop(outcome), nil
}

func (d *Dispatcher) drop(o Outcome) Outcome {
	metrics.CommandsDropped.WithLabelValues(string(o)).Inc()
	return o
}

func (d *Dispatcher) dispatch(ctx context.Context, store Store, cmd datamodel.CommandRequest) (Outcome, error) {
	now := d.opts.Now()

	if d.opts.Expiry > 0 && !cmd.TimeTag.IsZero() && now.Sub(cmd.TimeTag) > d.opts.Expiry {
		zap.S().Infof("Command %s (%s) expired %v after insertion", cmd.ID.Hex(), cmd.Tag, now.Sub(cmd.TimeTag))
		return OutcomeExpired, store.Cancel(ctx, cmd.ID, "expired", now)
	}

	if cmd.ProtocolSourceConnectionNumber != 0 {
		conn, err := d.connection(ctx, store, cmd.ProtocolSourceConnectionNumber)
		if err != nil {
			return OutcomeUnresolved, err
		}
		if conn == nil {
			// queued for a connection of another instance
			zap.S().Debugf("Command %s is for connection %d, not handled here", cmd.ID.Hex(), cmd.ProtocolSourceConnectionNumber)
			return OutcomeForeign, nil
		}
		if !conn.CommandsEnabled {
			return OutcomeDisabled, fmt.Errorf("%w: commands disabled on connection %s", internal.ErrRouting, conn.Name)
		}
	}

	target, err := d.resolve(ctx, store, cmd)
	if err != nil {
		return OutcomeUnresolved, err
	}

	value, asdu := d.transform(cmd, *target)
	update := datamodel.SourceDataUpdate{
		ValueAtSource:               value,
		ValueStringAtSource:         cmd.ValueString,
		AsduAtSource:                asdu,
		CauseOfTransmissionAtSource: causeRequested,
		TimeTag:                     now,
		TimeTagAtSource:             now,
		TimeTagAtSourceOk:           true,
		Originator:                  d.opts.Originator,
	}
	matched, err := store.WriteSourceDataUpdate(ctx, target.ID, update)
	if err != nil {
		return OutcomeUnmatched, err
	}
	if !matched {
		return OutcomeUnmatched, fmt.Errorf("%w: point %d vanished", internal.ErrRouting, target.ID)
	}
	if err = store.Ack(ctx, cmd.ID, now); err != nil {
		return OutcomeUnmatched, err
	}
	zap.S().Infof("Command %s (%s) value %v written to point %d (%s)", cmd.ID.Hex(), cmd.Tag, value, target.ID, target.Tag)
	return OutcomeDispatched, nil
}

// resolve finds the supervised point a command acts upon.
func (d *Dispatcher) resolve(ctx context.Context, store Store, cmd datamodel.CommandRequest) (*datamodel.RealtimeDataPoint, error) {
	var supervisedID int64
	if cmd.Tag != "" {
		point, err := store.PointByTag(ctx, cmd.Tag)
		if err != nil {
			return nil, err
		}
		if point == nil {
			return nil, fmt.Errorf("%w: no point with tag %s", internal.ErrRouting, cmd.Tag)
		}
		supervisedID = point.SupervisedOfCommand
	} else {
		point, err := store.PointByCommand(ctx, cmd.PointKey)
		if err != nil {
			return nil, err
		}
		if point != nil {
			return point, nil
		}
		point, err = store.PointByID(ctx, cmd.PointKey)
		if err != nil {
			return nil, err
		}
		if point == nil {
			return nil, fmt.Errorf("%w: no point with key %d", internal.ErrRouting, cmd.PointKey)
		}
		supervisedID = point.SupervisedOfCommand
	}
	if supervisedID == 0 {
		return nil, fmt.Errorf("%w: command point of %s has no supervised point", internal.ErrRouting, cmd.Tag)
	}

	target, err := store.PointByID(ctx, supervisedID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: supervised point %d not found", internal.ErrRouting, supervisedID)
	}
	return target, nil
}

func (d *Dispatcher) transform(cmd datamodel.CommandRequest, target datamodel.RealtimeDataPoint) (float64, string) {
	for _, t := range d.opts.Transforms {
		if t.Matches(cmd) {
			return t.Apply(cmd, target)
		}
	}
	return cmd.Value, AsduFloat
}

// connection returns nil without error when number is not a connection of this instance.
// Lookups, including misses, are cached for a few seconds.
func (d *Dispatcher) connection(ctx context.Context, store Store, number int64) (*datamodel.ConnectionRecord, error) {
	key := strconv.FormatInt(number, 10)
	if v, found := d.connections.Get(key); found {
		return v.(*datamodel.ConnectionRecord), nil
	}

	conns, err := store.Connections(ctx, d.opts.ProtocolDriver, d.opts.InstanceNumber)
	if err != nil {
		return nil, err
	}
	var match *datamodel.ConnectionRecord
	for i := range conns {
		c := &conns[i]
		d.connections.SetDefault(strconv.FormatInt(c.ProtocolConnectionNumber, 10), c)
		if c.ProtocolConnectionNumber == number {
			match = c
		}
	}
	if match == nil {
		d.connections.SetDefault(key, match)
	}
	return match, nil
}

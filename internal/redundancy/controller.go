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

// Package redundancy elects one active node per logical worker through heartbeat records
// in the protocolDriverInstances collection.
package redundancy

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/looplab/fsm"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.uber.org/zap"
)

const (
	StateUninitialized = "UNINITIALIZED"
	StateActive        = "ACTIVE"
	StateStandby       = "STANDBY"
	StateDisabled      = "DISABLED"
	StateRejected      = "REJECTED"
)

const (
	EventActivate = "activate"
	EventStandby  = "standby"
	EventDisable  = "disable"
	EventReject   = "reject"
)

var allStates = []string{StateUninitialized, StateActive, StateStandby, StateDisabled, StateRejected}

// InstanceStore is the persistence the controller needs. Implemented by store.Instances.
type InstanceStore interface {
	Find(ctx context.Context, driver string, instance int64) (*datamodel.InstanceRecord, error)
	Create(ctx context.Context, rec datamodel.InstanceRecord) (bool, error)
	RefreshKeepAlive(ctx context.Context, driver string, instance int64, node string, now time.Time, stats *datamodel.InstanceStats, version string) (bool, error)
	Claim(ctx context.Context, driver string, instance int64, node string, observedNode string, observedKeepAlive time.Time, now time.Time) (bool, error)
}

// StatsCollector produces the opaque stats written with each keepalive.
type StatsCollector interface {
	Collect() *datamodel.InstanceStats
}

// Identity names the logical worker and this node.
type Identity struct {
	ProtocolDriver string
	InstanceNumber int64
	NodeName       string
}

type Options struct {
	Identity Identity
	// MissedKeepAliveThreshold is the number of unchanged keepalives tolerated; the next one triggers a claim.
	MissedKeepAliveThreshold int
	SoftwareVersion          string
	Stats                    StatsCollector
	// OnLogLevel receives the logLevel of the instance record on every tick.
	OnLogLevel func(level int)
	// OnStateChange is called after every transition.
	OnStateChange func(from, to string)
	Now           func() time.Time
}

// Controller is not safe for concurrent use. It is driven by the worker loop, one Tick at a time.
type Controller struct {
	opts Options
	fsm  *fsm.FSM

	missed         int
	lastActiveNode string
	lastKeepAlive  time.Time
	keepRunning    bool
}

func NewController(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Controller{opts: opts}
	live := []string{StateUninitialized, StateActive, StateStandby}
	c.fsm = fsm.NewFSM(
		StateUninitialized,
		fsm.Events{
			// self loops make a repeated event a NoTransitionError instead of an InvalidEventError
			{Name: EventActivate, Src: live, Dst: StateActive},
			{Name: EventStandby, Src: live, Dst: StateStandby},
			// DISABLED and REJECTED have no way out
			{Name: EventDisable, Src: live, Dst: StateDisabled},
			{Name: EventReject, Src: live, Dst: StateRejected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.onEnterState(e.Src, e.Dst)
			},
		},
	)
	c.publishState(StateUninitialized)
	return c
}

func (c *Controller) State() string {
	return c.fsm.Current()
}

func (c *Controller) IsActive() bool {
	return c.State() == StateActive
}

// IsTerminal reports whether the process should stop useful work.
func (c *Controller) IsTerminal() bool {
	s := c.State()
	return s == StateDisabled || s == StateRejected
}

// KeepProtocolRunningWhileInactive mirrors the flag of the last read instance record.
func (c *Controller) KeepProtocolRunningWhileInactive() bool {
	return c.keepRunning
}

// MissedKeepAlives is the number of consecutive ticks the active node's keepalive did not change.
func (c *Controller) MissedKeepAlives() int {
	return c.missed
}

// Tick runs one election round. Store errors leave the state unchanged and are returned.
func (c *Controller) Tick(ctx context.Context, store InstanceStore) (string, error) {
	if c.IsTerminal() {
		return c.State(), nil
	}
	id := c.opts.Identity

	rec, err := store.Find(ctx, id.ProtocolDriver, id.InstanceNumber)
	if err != nil {
		return c.State(), err
	}
	if rec == nil {
		return c.create(ctx, store)
	}

	c.keepRunning = rec.KeepProtocolRunningWhileInactive
	if c.opts.OnLogLevel != nil {
		c.opts.OnLogLevel(rec.LogLevel)
	}

	if !rec.Enabled {
		zap.S().Warnf("Instance %s/%d is disabled, stopping", id.ProtocolDriver, id.InstanceNumber)
		return c.transition(ctx, EventDisable)
	}
	if !rec.AllowsNode(id.NodeName) {
		zap.S().Errorf("Node %s is not in nodeNames %v of instance %s/%d", id.NodeName, rec.NodeNames, id.ProtocolDriver, id.InstanceNumber)
		return c.transition(ctx, EventReject)
	}

	if rec.ActiveNodeName == id.NodeName {
		return c.refresh(ctx, store)
	}
	return c.observeOther(ctx, store, rec)
}

func (c *Controller) create(ctx context.Context, store InstanceStore) (string, error) {
	id := c.opts.Identity
	now := c.opts.Now()
	created, err := store.Create(ctx, datamodel.InstanceRecord{
		ProtocolDriver:               id.ProtocolDriver,
		ProtocolDriverInstanceNumber: id.InstanceNumber,
		Enabled:                      true,
		LogLevel:                     1,
		NodeNames:                    []string{},
		ActiveNodeName:               id.NodeName,
		ActiveNodeKeepAliveTimeTag:   now,
		SoftwareVersion:              c.opts.SoftwareVersion,
		Stats:                        c.collectStats(),
	})
	if err != nil {
		return c.State(), err
	}
	if !created {
		// another node created the record between our read and write
		zap.S().Infof("Instance %s/%d was created concurrently by another node", id.ProtocolDriver, id.InstanceNumber)
		c.resetObservation()
		return c.transition(ctx, EventStandby)
	}
	zap.S().Infof("Created instance record %s/%d", id.ProtocolDriver, id.InstanceNumber)
	c.resetObservation()
	return c.transition(ctx, EventActivate)
}

func (c *Controller) refresh(ctx context.Context, store InstanceStore) (string, error) {
	id := c.opts.Identity
	ok, err := store.RefreshKeepAlive(ctx, id.ProtocolDriver, id.InstanceNumber, id.NodeName, c.opts.Now(), c.collectStats(), c.opts.SoftwareVersion)
	if err != nil {
		return c.State(), err
	}
	c.resetObservation()
	if !ok {
		zap.S().Warnf("Lost activation of %s/%d while refreshing keepalive", id.ProtocolDriver, id.InstanceNumber)
		return c.transition(ctx, EventStandby)
	}
	return c.transition(ctx, EventActivate)
}

func (c *Controller) observeOther(ctx context.Context, store InstanceStore, rec *datamodel.InstanceRecord) (string, error) {
	id := c.opts.Identity
	if rec.ActiveNodeName == c.lastActiveNode && rec.ActiveNodeKeepAliveTimeTag.Equal(c.lastKeepAlive) {
		c.missed++
		zap.S().Debugf("Keepalive of %s unchanged for %d ticks", rec.ActiveNodeName, c.missed)
	} else {
		c.missed = 0
	}
	c.lastActiveNode = rec.ActiveNodeName
	c.lastKeepAlive = rec.ActiveNodeKeepAliveTimeTag

	if rec.ActiveNodeName != "" && c.missed <= c.opts.MissedKeepAliveThreshold {
		return c.transition(ctx, EventStandby)
	}

	zap.S().Warnf("Node %q silent for %d ticks, claiming %s/%d", rec.ActiveNodeName, c.missed, id.ProtocolDriver, id.InstanceNumber)
	claimed, err := store.Claim(ctx, id.ProtocolDriver, id.InstanceNumber, id.NodeName, rec.ActiveNodeName, rec.ActiveNodeKeepAliveTimeTag, c.opts.Now())
	if err != nil {
		return c.State(), err
	}
	c.resetObservation()
	if !claimed {
		zap.S().Infof("Claim of %s/%d lost to another node", id.ProtocolDriver, id.InstanceNumber)
		return c.transition(ctx, EventStandby)
	}
	metrics.Takeovers.WithLabelValues(id.ProtocolDriver, strconv.FormatInt(id.InstanceNumber, 10)).Inc()
	return c.transition(ctx, EventActivate)
}

func (c *Controller) resetObservation() {
	c.missed = 0
	c.lastActiveNode = ""
	c.lastKeepAlive = time.Time{}
}

func (c *Controller) collectStats() *datamodel.InstanceStats {
	if c.opts.Stats == nil {
		return nil
	}
	return c.opts.Stats.Collect()
}

// transition fires event unless the machine already is in its destination.
func (c *Controller) transition(ctx context.Context, event string) (string, error) {
	err := c.fsm.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return c.State(), err
	}
	return c.State(), nil
}

func (c *Controller) onEnterState(from, to string) {
	zap.S().Infof("Redundancy state %s -> %s", from, to)
	c.publishState(to)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(from, to)
	}
}

func (c *Controller) publishState(current string) {
	id := c.opts.Identity
	instance := strconv.FormatInt(id.InstanceNumber, 10)
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.RedundancyState.WithLabelValues(id.ProtocolDriver, instance, s).Set(v)
	}
}

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

// Package worker runs the single event loop of a worker process: the redundancy tick, change
// deliveries, ingress messages and module timers are all handled on one goroutine.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/bulkqueue"
	"github.com/united-manufacturing-hub/scada-core/internal/changestream"
	"github.com/united-manufacturing-hub/scada-core/internal/commands"
	"github.com/united-manufacturing-hub/scada-core/internal/forwarder"
	"github.com/united-manufacturing-hub/scada-core/internal/redundancy"
	"github.com/united-manufacturing-hub/scada-core/pkg/datamodel"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by Run once the instance record disabled or rejected this node.
var ErrStopped = errors.New("instance stopped by its instance record")

const deliveryBuffer = 1024

// Session is the store session a loop iteration works on. Implemented by MongoSession.
type Session interface {
	Instances() redundancy.InstanceStore
	Commands() commands.Store
	RealtimeData() RealtimeData
	Watch(ctx context.Context, collection string, pipeline mongo.Pipeline, resumeAfter bson.Raw) (changestream.Stream, error)
	Checkpoints() changestream.Checkpointer
	Lost() <-chan struct{}
	Invalidate(reason string)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// RealtimeData is implemented by store.RealtimeData.
type RealtimeData interface {
	bulkqueue.Writer
	forwarder.BackfillWriter
	PointsAfter(ctx context.Context, after bson.RawValue, limit int64) ([]bson.Raw, error)
}

type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Watch is one change subscription of a module.
type Watch struct {
	Collection    string
	Pipeline      mongo.Pipeline
	CheckpointKey string
}

// Module is the feature a worker runs while it is ACTIVE.
type Module interface {
	Name() string
	Watches() []Watch
	// Attach hands the module the session of the current connection lifetime.
	Attach(sess Session)
	HandleChange(ctx context.Context, ev datamodel.ChangeEvent) error
	// Input is read by the loop. A nil channel is never ready.
	Input() <-chan []byte
	HandleInput(msg []byte)
	// Step runs the module's periodic work and returns the delay until the next call.
	Step(ctx context.Context) time.Duration
	// Deactivate drops state that must not survive leaving ACTIVE.
	Deactivate()
	Counters() map[string]uint64
}

// StandbyModule is implemented by modules whose input keeps flowing while the instance is not
// ACTIVE and keepProtocolRunningWhileInactive is set. Nothing is written to the database.
type StandbyModule interface {
	HandleStandbyInput(msg []byte)
}

type Options struct {
	Connector  Connector
	Controller *redundancy.Controller
	Module     Module
	Interval   time.Duration
	// IdleStep is the module timer period while the node is not ACTIVE.
	IdleStep time.Duration
	// Checkpoints selects the resume token store for a session. Nil disables checkpointing.
	Checkpoints func(sess Session) changestream.Checkpointer
	Identity    redundancy.Identity
	ProcessID   string
}

// Worker owns the connection, the controller and the module of one process.
type Worker struct {
	opts      Options
	wasActive bool
	status    atomic.Pointer[Status]
	session   atomic.Pointer[sessionRef]
}

type sessionRef struct {
	sess Session
}

func New(opts Options) *Worker {
	if opts.IdleStep <= 0 {
		opts.IdleStep = internal.OneSecond
	}
	w := &Worker{opts: opts}
	w.publish()
	return w
}

// Run connects, serves and reconnects until ctx is done or the controller reaches a terminal state.
func (w *Worker) Run(ctx context.Context) error {
	for {
		sess, err := w.opts.Connector.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.session.Store(&sessionRef{sess: sess})
		w.publish()

		stopped := w.serve(ctx, sess)

		w.session.Store(nil)
		closeCtx, cancel := context.WithTimeout(context.Background(), internal.FiveSeconds)
		_ = sess.Close(closeCtx)
		cancel()
		w.publish()

		if stopped {
			return ErrStopped
		}
		if ctx.Err() != nil {
			return nil
		}
		zap.S().Infof("Session lost, reconnecting")
	}
}

// serve runs the loop on one session. It returns true when the controller reached a terminal state.
func (w *Worker) serve(ctx context.Context, sess Session) bool {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var checkpoints changestream.Checkpointer
	if w.opts.Checkpoints != nil {
		checkpoints = w.opts.Checkpoints(sess)
	}
	deliveries := make(chan changestream.Delivery, deliveryBuffer)
	g, gctx := errgroup.WithContext(sctx)
	for _, watch := range w.opts.Module.Watches() {
		watch := watch
		open := func(ctx context.Context, resumeAfter bson.Raw) (changestream.Stream, error) {
			return sess.Watch(ctx, watch.Collection, watch.Pipeline, resumeAfter)
		}
		sub := changestream.NewSubscriber(watch.Collection, watch.CheckpointKey, open, checkpoints, sess.Invalidate)
		g.Go(func() error {
			return sub.Run(gctx, deliveries)
		})
	}
	defer func() {
		cancel()
		if err := g.Wait(); err != nil {
			zap.S().Debugf("Subscriptions ended: %v", err)
		}
	}()
	w.opts.Module.Attach(sess)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	step := time.NewTimer(0)
	defer step.Stop()

	if w.tick(sctx, sess) {
		return true
	}
	for {
		select {
		case <-sctx.Done():
			return false
		case <-sess.Lost():
			return false
		case <-gctx.Done():
			// a subscription failed and invalidated the session
			return false
		case <-ticker.C:
			if w.tick(sctx, sess) {
				return true
			}
		case d := <-deliveries:
			w.handleChange(sctx, sess, d)
		case msg := <-w.opts.Module.Input():
			w.handleInput(msg)
		case <-step.C:
			next := w.opts.IdleStep
			if w.opts.Controller.IsActive() {
				next = w.opts.Module.Step(sctx)
			}
			step.Reset(next)
			w.publish()
		}
	}
}

// tick runs one redundancy round and reports whether the process must stop.
func (w *Worker) tick(ctx context.Context, sess Session) bool {
	state, err := w.opts.Controller.Tick(ctx, sess.Instances())
	if err != nil {
		zap.S().Errorf("Redundancy tick: %v", err)
		if errors.Is(err, internal.ErrConnectivity) {
			sess.Invalidate("redundancy tick")
		}
	}
	active := state == redundancy.StateActive
	if w.wasActive && !active {
		zap.S().Infof("Leaving ACTIVE, dropping pending %s work", w.opts.Module.Name())
		w.opts.Module.Deactivate()
	}
	w.wasActive = active
	w.publish()
	return w.opts.Controller.IsTerminal()
}

func (w *Worker) handleInput(msg []byte) {
	if w.opts.Controller.IsActive() {
		w.opts.Module.HandleInput(msg)
		return
	}
	if !w.opts.Controller.KeepProtocolRunningWhileInactive() {
		return
	}
	if s, ok := w.opts.Module.(StandbyModule); ok {
		s.HandleStandbyInput(msg)
	}
}

func (w *Worker) handleChange(ctx context.Context, sess Session, d changestream.Delivery) {
	if !w.opts.Controller.IsActive() {
		return
	}
	err := w.opts.Module.HandleChange(ctx, d.Event)
	if err != nil {
		if errors.Is(err, internal.ErrConnectivity) {
			sess.Invalidate(w.opts.Module.Name() + " change handling")
			return
		}
		zap.S().Warnf("Handling change on %s: %v", d.Subscriber.Collection(), err)
	}
	d.Subscriber.Checkpoint(ctx, d.Event.ResumeToken)
}

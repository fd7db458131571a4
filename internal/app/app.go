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

// Package app starts a worker process: logging, configuration, metrics, health, status API,
// graceful shutdown and the worker loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/changestream"
	"github.com/united-manufacturing-hub/scada-core/internal/config"
	"github.com/united-manufacturing-hub/scada-core/internal/ingress"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"github.com/united-manufacturing-hub/scada-core/internal/redundancy"
	"github.com/united-manufacturing-hub/scada-core/internal/statusapi"
	"github.com/united-manufacturing-hub/scada-core/internal/store"
	"github.com/united-manufacturing-hub/scada-core/internal/worker"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Plan is what a binary runs on top of the shared stack.
type Plan struct {
	Module worker.Module
	// Sources feed Input. Only the bulk update writer has any.
	Sources []ingress.Source
	Input   chan<- []byte
	// Close runs after the worker loop and all sources returned.
	Close func() error
}

// Build creates the plan of a binary from its configuration.
type Build func(cfg config.Config, processID string) (Plan, error)

// Main runs a worker until SIGTERM or SIGINT. protocolDriver is the default driver name of the
// instance record; udpDefault is the default UDP address of binaries that use a transport.
func Main(name, protocolDriver, udpDefault string, build Build) {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION")
	log, level, err := internal.NewLogger(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to build logger: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(log)
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(log)

	cfg, err := config.Load(protocolDriver, udpDefault)
	if err != nil {
		zap.S().Fatalf("Invalid configuration: %v", err)
	}
	zap.S().Infof("Starting %s %s, node %s, instance %s/%d",
		name, internal.SoftwareVersion, cfg.NodeName, cfg.Redundancy.ProtocolDriver, cfg.Redundancy.InstanceNumber)

	metrics.InitPrometheus(":2112")

	var w *worker.Worker
	stats := redundancy.NewHostStats(func() map[string]uint64 {
		return w.Status().Counters
	})
	zap.S().Infof("Process id %s", stats.ProcessID())

	plan, err := build(cfg, stats.ProcessID())
	if err != nil {
		zap.S().Fatalf("Unable to set up %s: %v", name, err)
	}

	checkpoints, redisCheckpoints := checkpointSelector(cfg.Checkpoint)
	identity := redundancy.Identity{
		ProtocolDriver: cfg.Redundancy.ProtocolDriver,
		InstanceNumber: cfg.Redundancy.InstanceNumber,
		NodeName:       cfg.NodeName,
	}
	w = worker.New(worker.Options{
		Connector: worker.MongoConnector{Connector: store.NewConnector(cfg.Store, name)},
		Controller: redundancy.NewController(redundancy.Options{
			Identity:                 identity,
			MissedKeepAliveThreshold: cfg.Redundancy.MissedKeepAliveThreshold,
			SoftwareVersion:          internal.SoftwareVersion,
			Stats:                    stats,
			OnLogLevel:               internal.NewLogLevelSwitcher(level).Apply,
		}),
		Module:      plan.Module,
		Interval:    cfg.Redundancy.Interval,
		Checkpoints: checkpoints,
		Identity:    identity,
		ProcessID:   stats.ProcessID(),
	})

	zap.S().Debug("Starting healthcheck")
	health := statusapi.NewHealth(w)
	if redisCheckpoints != nil {
		health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), internal.OneSecond)
			defer cancel()
			return redisCheckpoints.Ping(ctx)
		})
	}
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	finished := make(chan struct{})
	gs := internal.NewGracefulShutdown(func() error {
		<-finished
		var errs []error
		if plan.Close != nil {
			errs = append(errs, plan.Close())
		}
		if redisCheckpoints != nil {
			errs = append(errs, redisCheckpoints.Close())
		}
		return errors.Join(errs...)
	})

	g, gctx := errgroup.WithContext(gs.Context())
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.StatusAPIPort)
		if err := statusapi.Serve(gctx, addr, statusapi.NewRouter(w)); err != nil {
			zap.S().Errorf("Status API on %s: %v", addr, err)
		}
		return nil
	})
	for _, src := range plan.Sources {
		src := src
		g.Go(func() error {
			if err := src.Run(gctx, plan.Input); err != nil {
				return fmt.Errorf("%s ingress: %w", src.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := w.Run(gctx)
		if errors.Is(err, worker.ErrStopped) {
			// parked: health and status stay up so the orchestrator sees the final state
			zap.S().Warnf("Worker stopped in state %s, waiting for shutdown", w.Status().State)
			<-gctx.Done()
			return nil
		}
		return err
	})

	err = g.Wait()
	close(finished)
	if err != nil {
		zap.S().Errorf("%s failed: %v", name, err)
		gs.Shutdown()
	}
	gs.Wait()
	if err != nil {
		_ = log.Sync()
		os.Exit(1)
	}
}

// checkpointSelector maps the checkpoint mode to the resume token store of each session.
func checkpointSelector(cfg config.CheckpointConfig) (func(worker.Session) changestream.Checkpointer, *changestream.RedisCheckpoints) {
	switch cfg.Mode {
	case config.CheckpointMongo:
		return func(sess worker.Session) changestream.Checkpointer {
			return sess.Checkpoints()
		}, nil
	case config.CheckpointRedis:
		rc := changestream.NewRedisCheckpoints(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
		return func(worker.Session) changestream.Checkpointer {
			return rc
		}, rc
	}
	return nil, nil
}

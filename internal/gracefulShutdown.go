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

package internal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type GracefulShutdownHandler interface {
	Shutdown()                // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool       // Quickly checks if a shutdown is in progress.
	Context() context.Context // Cancelled as soon as a shutdown starts.
	Wait()                    // Blocks until shutdown tasks are complete.
}

type gracefulShutdown struct {
	quit    chan os.Signal // Receives SIGTERM/SIGINT or a programmatic shutdown request.
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	wg      sync.WaitGroup // Waits until all shutdown tasks are complete.
}

// NewGracefulShutdown initializes a graceful shutdown handler.
// onShutdown (if not nil) runs after the root context was cancelled and must finish within ShutdownTimeout.
func NewGracefulShutdown(onShutdown func() error) GracefulShutdownHandler {
	return newGracefulShutdown(onShutdown, ShutdownTimeout)
}

func newGracefulShutdown(onShutdown func() error, timeout time.Duration) *gracefulShutdown {
	ctx, cancel := context.WithCancel(context.Background())
	gs := &gracefulShutdown{
		quit:    make(chan os.Signal, 1),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
	}
	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)

	gs.wg.Add(1)
	go gs.run(onShutdown)

	return gs
}

func (gs *gracefulShutdown) run(onShutdown func() error) {
	defer gs.wg.Done()
	defer signal.Stop(gs.quit)

	// Kubernetes sends SIGTERM 30 seconds before killing the pod,
	// everything after this point runs on borrowed time.
	sig := <-gs.quit
	zap.S().Infow("Received signal, shutting down", "signal", sig.String())
	gs.cancel()

	if onShutdown == nil {
		zap.S().Info("Shutdown tasks completed. Ready to exit.")
		return
	}

	zap.S().Infow("Waiting for shutdown tasks to complete", "timeout", gs.timeout)
	done := make(chan error, 1)
	go func() {
		done <- onShutdown()
	}()

	select {
	case err := <-done:
		if err != nil {
			zap.S().Errorw("Error during shutdown", "error", err)
			return
		}
		zap.S().Info("Shutdown tasks completed. Ready to exit.")
	case <-time.After(gs.timeout):
		zap.S().Errorw("Shutdown tasks did not complete in time", "timeout", gs.timeout)
		// Flush buffer
		_ = zap.S().Sync()
	}
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	return gs.ctx.Err() != nil
}

func (gs *gracefulShutdown) Shutdown() {
	// The channel is buffered, a second request while one is pending is dropped.
	select {
	case gs.quit <- syscall.SIGTERM:
	default:
	}
}

func (gs *gracefulShutdown) Context() context.Context {
	return gs.ctx
}

func (gs *gracefulShutdown) Wait() {
	gs.wg.Wait()
}

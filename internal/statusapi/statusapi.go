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

// Package statusapi serves the read-only worker status and the health endpoints.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/redundancy"
	"github.com/united-manufacturing-hub/scada-core/internal/worker"
	"go.uber.org/zap"
)

// Source is implemented by worker.Worker.
type Source interface {
	Status() worker.Status
	Session() worker.Session
}

// NewRouter builds the status API.
func NewRouter(src Source) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, src.Status())
		})
		v1.GET("/state", func(c *gin.Context) {
			s := src.Status()
			c.String(http.StatusOK, s.State)
		})
	}
	return router
}

// Serve runs handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	/* #nosec G112 */
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), internal.FiveSeconds)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	zap.S().Infof("Serving %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewHealth builds the liveness and readiness checks of a worker process.
func NewHealth(src Source) healthcheck.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddLivenessCheck("node-accepted", nodeAccepted(src))
	health.AddReadinessCheck("store", storeReachable(src, internal.OneSecond))
	return health
}

func nodeAccepted(src Source) healthcheck.Check {
	return func() error {
		if s := src.Status(); s.State == redundancy.StateRejected {
			return fmt.Errorf("node %s is not allowed to run %s/%d", s.NodeName, s.ProtocolDriver, s.InstanceNumber)
		}
		return nil
	}
}

func storeReachable(src Source, timeout time.Duration) healthcheck.Check {
	return func() error {
		sess := src.Session()
		if sess == nil {
			return errors.New("not connected")
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return sess.Ping(ctx)
	}
}

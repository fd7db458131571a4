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

// Package store owns the MongoDB session shared by every component of a worker.
// A session is discarded as a whole on the first connectivity fault and rebuilt by the Connector.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/config"
	"github.com/united-manufacturing-hub/scada-core/internal/metrics"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Connector builds sessions. Retries are unbounded and use a fixed delay.
type Connector struct {
	cfg     config.StoreConfig
	appName string
}

func NewConnector(cfg config.StoreConfig, appName string) *Connector {
	return &Connector{cfg: cfg, appName: appName}
}

func (c *Connector) clientOptions() *options.ClientOptions {
	return options.Client().
		ApplyURI(c.cfg.URI).
		SetAppName(c.appName).
		SetServerSelectionTimeout(c.cfg.OperationTimeout).
		SetConnectTimeout(c.cfg.OperationTimeout)
}

// Connect blocks until a session is established or ctx is done.
func (c *Connector) Connect(ctx context.Context) (*Session, error) {
	opts := c.clientOptions()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongo connection string: %w", err)
	}

	attempt := 0
	connect := func() (*Session, error) {
		attempt++
		zap.S().Infof("Connecting to MongoDB (attempt %d)", attempt)
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", internal.ErrConnectivity, err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
		defer cancel()
		if err = client.Ping(pingCtx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("%w: %v", internal.ErrConnectivity, err)
		}
		return newSession(client, client.Database(c.cfg.Database), c.cfg.OperationTimeout), nil
	}

	session, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.ReconnectDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			zap.S().Warnf("MongoDB connection failed: %v, retrying in %s", err, next)
		}),
	)
	if err != nil {
		return nil, err
	}
	if attempt > 1 {
		metrics.Reconnects.WithLabelValues("connect_retry").Add(float64(attempt - 1))
	}
	zap.S().Infof("Connected to MongoDB database %s", c.cfg.Database)
	return session, nil
}

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

package main

import (
	"fmt"

	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/scada-core/internal/app"
	"github.com/united-manufacturing-hub/scada-core/internal/config"
	"github.com/united-manufacturing-hub/scada-core/internal/forwarder"
	"github.com/united-manufacturing-hub/scada-core/internal/worker"
)

func main() {
	udpDefault := fmt.Sprintf("127.0.0.1:%d", internal.DefaultUDPPort)
	app.Main("change-forwarder", "MONGOFW", udpDefault, func(cfg config.Config, processID string) (app.Plan, error) {
		sink, err := newSink(cfg, processID)
		if err != nil {
			return app.Plan{}, err
		}
		fwd := forwarder.New(forwarder.Options{
			MaxLengthJSON:       cfg.Forwarder.MaxLengthJSON,
			PacketSizeThreshold: cfg.Forwarder.PacketSizeThreshold,
			MaxPacketsPerFlush:  internal.MaxPacketsPerFlush,
			Backfill:            cfg.Forwarder.Backfill,
		})
		module := worker.NewForwardModule(fwd, sink, cfg.Redundancy.ProtocolDriver, cfg.Redundancy.InstanceNumber,
			cfg.Forwarder.IntegrityInterval, cfg.Forwarder.Backfill)
		return app.Plan{
			Module: module,
			Close:  sink.Close,
		}, nil
	})
}

func newSink(cfg config.Config, processID string) (forwarder.Sink, error) {
	t := cfg.Transport
	switch t.Kind {
	case config.TransportMQTT:
		clientID := t.MQTTClientID
		if clientID == "" {
			clientID = "change-forwarder-" + processID
		}
		return forwarder.NewMQTTSink(t.MQTTBrokerURL, t.MQTTTopic, clientID)
	case config.TransportKafka:
		return forwarder.NewKafkaSink(t.KafkaBrokers, t.KafkaTopic, cfg.NodeName)
	case config.TransportUDP:
		return forwarder.NewUDPSink(t.UDPAddress)
	}
	return nil, fmt.Errorf("change forwarder needs a transport, got %q", t.Kind)
}

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
	"github.com/united-manufacturing-hub/scada-core/internal/bulkqueue"
	"github.com/united-manufacturing-hub/scada-core/internal/config"
	"github.com/united-manufacturing-hub/scada-core/internal/ingress"
	"github.com/united-manufacturing-hub/scada-core/internal/worker"
)

func main() {
	udpDefault := fmt.Sprintf(":%d", internal.DefaultUDPPort)
	app.Main("bulk-update-writer", "MONGOWR", udpDefault, func(cfg config.Config, processID string) (app.Plan, error) {
		source, err := newSource(cfg.Transport, processID)
		if err != nil {
			return app.Plan{}, err
		}
		input := make(chan []byte, cfg.Bulk.MaxQueue)
		queue := bulkqueue.New(bulkqueue.Options{
			MaxLength:  cfg.Bulk.MaxQueue,
			MaxPerTick: cfg.Bulk.MaxPerTick,
			Tick:       cfg.Bulk.Tick,
			Throttle:   cfg.Bulk.Throttle,
		})
		return app.Plan{
			Module:  worker.NewBulkModule(queue, input),
			Sources: []ingress.Source{source},
			Input:   input,
		}, nil
	})
}

func newSource(t config.TransportConfig, processID string) (ingress.Source, error) {
	switch t.Kind {
	case config.TransportMQTT:
		clientID := t.MQTTClientID
		if clientID == "" {
			clientID = "bulk-update-writer-" + processID
		}
		return ingress.NewMQTTSource(t.MQTTBrokerURL, t.MQTTTopic, clientID), nil
	case config.TransportKafka:
		return ingress.NewKafkaSource(t.KafkaBrokers, t.KafkaTopic, t.KafkaGroupID, processID), nil
	case config.TransportUDP:
		return ingress.NewUDPSource(t.UDPAddress)
	}
	return nil, fmt.Errorf("bulk update writer needs a transport, got %q", t.Kind)
}

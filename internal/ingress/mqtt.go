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

package ingress

import (
	"context"
	"fmt"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTSource struct {
	brokerURL string
	topic     string
	clientID  string
	dedup     Deduplicator
}

func NewMQTTSource(brokerURL, topic, clientID string) *MQTTSource {
	return &MQTTSource{brokerURL: brokerURL, topic: topic, clientID: clientID}
}

func (m *MQTTSource) Name() string {
	return "mqtt"
}

func (m *MQTTSource) Run(ctx context.Context, out chan<- []byte) error {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(m.brokerURL)
	opts.SetClientID(m.clientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(client MQTT.Client) {
		zap.S().Infof("Connected to MQTT broker %s, subscribing to %s", m.brokerURL, m.topic)
		token := client.Subscribe(m.topic, 1, func(_ MQTT.Client, msg MQTT.Message) {
			deliver(out, &m.dedup, m.Name(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			zap.S().Errorf("Failed to subscribe to %s: %v", m.topic, token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		zap.S().Warnf("Connection to MQTT broker lost: %v", err)
	})

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", m.brokerURL, token.Error())
	}
	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

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

package forwarder

import (
	"context"
	"fmt"
	"net"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/united-manufacturing-hub/Sarama-Kafka-Wrapper-2/pkg/kafka/producer"
	"github.com/united-manufacturing-hub/Sarama-Kafka-Wrapper-2/pkg/kafka/shared"
	"go.uber.org/zap"
)

// UDPSink sends each packet as one datagram. addr may be a broadcast address.
type UDPSink struct {
	conn net.Conn
}

func NewUDPSink(addr string) (*UDPSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr, err)
	}
	return &UDPSink{conn: conn}, nil
}

func (u *UDPSink) Name() string {
	return "udp"
}

func (u *UDPSink) Send(_ context.Context, packet []byte) error {
	_, err := u.conn.Write(packet)
	return err
}

func (u *UDPSink) Close() error {
	return u.conn.Close()
}

type MQTTSink struct {
	client MQTT.Client
	topic  string
}

func NewMQTTSink(brokerURL, topic, clientID string) (*MQTTSink, error) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		zap.S().Infof("Connected to MQTT broker %s", brokerURL)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		zap.S().Warnf("Connection to MQTT broker lost: %v", err)
	})

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", brokerURL, token.Error())
	}
	return &MQTTSink{client: client, topic: topic}, nil
}

func (m *MQTTSink) Name() string {
	return "mqtt"
}

func (m *MQTTSink) Send(ctx context.Context, packet []byte) error {
	token := m.client.Publish(m.topic, 1, false, packet)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}

// KafkaSink produces asynchronously; production errors show up in Stats only.
type KafkaSink struct {
	producer *producer.Producer
	topic    string
	key      []byte
}

func NewKafkaSink(brokers []string, topic, key string) (*KafkaSink, error) {
	p, err := producer.NewProducer(brokers)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaSink{producer: p, topic: topic, key: []byte(key)}, nil
}

func (k *KafkaSink) Name() string {
	return "kafka"
}

func (k *KafkaSink) Send(_ context.Context, packet []byte) error {
	k.producer.SendMessage(&shared.KafkaMessage{
		Topic: k.topic,
		Key:   k.key,
		Value: packet,
	})
	return nil
}

// Stats returns the produced and failed message counts.
func (k *KafkaSink) Stats() (sent, failed uint64) {
	return k.producer.GetProducedMessages()
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}

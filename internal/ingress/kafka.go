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
	"regexp"

	"github.com/united-manufacturing-hub/Sarama-Kafka-Wrapper-2/pkg/kafka/consumer/redpanda"
	"github.com/united-manufacturing-hub/Sarama-Kafka-Wrapper-2/pkg/kafka/shared"
	"go.uber.org/zap"
)

// messageConsumer is the part of the redpanda consumer the source needs.
type messageConsumer interface {
	GetMessages() <-chan *shared.KafkaMessage
	MarkMessage(message *shared.KafkaMessage)
}

type KafkaSource struct {
	brokers    []string
	topic      string
	groupID    string
	instanceID string
	dedup      Deduplicator

	connect func() (messageConsumer, error)
}

func NewKafkaSource(brokers []string, topic, groupID, instanceID string) *KafkaSource {
	k := &KafkaSource{brokers: brokers, topic: topic, groupID: groupID, instanceID: instanceID}
	k.connect = func() (messageConsumer, error) {
		// The consumer subscribes by regex, topic names contain dots.
		return redpanda.NewConsumer(k.brokers, []string{"^" + regexp.QuoteMeta(k.topic) + "$"}, k.groupID, k.instanceID)
	}
	return k
}

func (k *KafkaSource) Name() string {
	return "kafka"
}

// Run marks every message once it was handed over, whether or not the queue accepted it.
// The consumer runs until the process exits, cancelling ctx only stops reading from it.
func (k *KafkaSource) Run(ctx context.Context, out chan<- []byte) error {
	c, err := k.connect()
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	zap.S().Infof("Consuming updates from kafka topic %s (group %s)", k.topic, k.groupID)
	return k.consume(ctx, c, out)
}

func (k *KafkaSource) consume(ctx context.Context, c messageConsumer, out chan<- []byte) error {
	messages := c.GetMessages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("kafka consumer closed its message channel")
			}
			if msg == nil {
				continue
			}
			deliver(out, &k.dedup, k.Name(), msg.Value)
			c.MarkMessage(msg)
		}
	}
}

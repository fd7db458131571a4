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
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var validKafkaTopicRegex = regexp.MustCompile(`^[a-zA-Z\d._\-]+$`)

// IsKafkaTopicValid reports whether the topic only contains characters Kafka accepts.
func IsKafkaTopicValid(topic string) bool {
	return validKafkaTopicRegex.MatchString(topic)
}

// MqttTopicToKafka converts an MQTT topic (scada/updates) to its Kafka name (scada.updates).
func MqttTopicToKafka(mqttTopicName string) (kafkaTopicName string) {
	mqttTopicName = strings.TrimSpace(mqttTopicName)
	kafkaTopicName = strings.ReplaceAll(mqttTopicName, "/", ".")
	if !IsKafkaTopicValid(kafkaTopicName) {
		zap.S().Errorf("Invalid MQTT->Kafka topic name: %s", kafkaTopicName)
	}
	return kafkaTopicName
}

// KafkaTopicToMqtt is the inverse of MqttTopicToKafka.
func KafkaTopicToMqtt(kafkaTopicName string) (mqttTopicName string) {
	if strings.Contains(kafkaTopicName, "/") {
		zap.S().Errorf("Illegal Kafka->MQTT topic name: %s", kafkaTopicName)
	}
	kafkaTopicName = strings.TrimSpace(kafkaTopicName)
	return strings.ReplaceAll(kafkaTopicName, ".", "/")
}

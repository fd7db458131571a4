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

// Package config reads the worker configuration from the json-scada config file and the environment.
// Environment variables take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/scada-core/internal"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Checkpoint modes of change stream subscriptions.
const (
	CheckpointNone  = "none"
	CheckpointMongo = "mongo"
	CheckpointRedis = "redis"
)

// Transport kinds for ingress and egress.
const (
	TransportUDP   = "udp"
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
)

// FileConfig is the shared json-scada.json document.
type FileConfig struct {
	NodeName              string `json:"nodeName" yaml:"nodeName"`
	MongoConnectionString string `json:"mongoConnectionString" yaml:"mongoConnectionString"`
	MongoDatabaseName     string `json:"mongoDatabaseName" yaml:"mongoDatabaseName"`
}

type Config struct {
	LogLevel string
	NodeName string

	Store      StoreConfig
	Redundancy RedundancyConfig
	Checkpoint CheckpointConfig
	Commands   CommandsConfig
	Bulk       BulkConfig
	Transport  TransportConfig
	Forwarder  ForwarderConfig

	StatusAPIPort int
}

type StoreConfig struct {
	URI              string
	Database         string
	ReconnectDelay   time.Duration
	OperationTimeout time.Duration
}

type RedundancyConfig struct {
	ProtocolDriver           string
	InstanceNumber           int64
	Interval                 time.Duration
	MissedKeepAliveThreshold int
}

type CheckpointConfig struct {
	Mode          string
	RedisAddress  string
	RedisPassword string
	RedisDB       int
}

type CommandsConfig struct {
	SteppedMarker string
	Expiry        time.Duration
}

type BulkConfig struct {
	Tick       time.Duration
	MaxQueue   int
	MaxPerTick int
	Throttle   time.Duration
}

type TransportConfig struct {
	Kind          string
	UDPAddress    string
	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
}

type ForwarderConfig struct {
	IntegrityInterval   time.Duration
	MaxLengthJSON       int
	PacketSizeThreshold int
	Backfill            bool
}

// Load reads the configuration of a worker of kind protocolDriver.
// udpDefault is the UDP address used when the transport is UDP and UDP_ADDRESS is unset.
// Workers without a transport pass an empty udpDefault.
func Load(protocolDriver string, udpDefault string) (Config, error) {
	var cfg Config
	var err error

	cfg.LogLevel, err = env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION")
	if err != nil {
		return cfg, err
	}

	configFile, err := env.GetAsString("JS_CONFIG_FILE", false, filepath.Join("..", "conf", "json-scada.json"))
	if err != nil {
		return cfg, err
	}
	file, err := ReadFile(configFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		zap.S().Infof("Config file %s not found, using environment only", configFile)
	}

	hostname, _ := os.Hostname()
	cfg.NodeName, err = env.GetAsString("JS_NODE_NAME", false, firstNonEmpty(file.NodeName, hostname))
	if err != nil {
		return cfg, err
	}

	if err = loadStore(&cfg.Store, file); err != nil {
		return cfg, err
	}
	if err = loadRedundancy(&cfg.Redundancy, protocolDriver); err != nil {
		return cfg, err
	}
	if err = loadCheckpoint(&cfg.Checkpoint); err != nil {
		return cfg, err
	}
	if err = loadCommands(&cfg.Commands); err != nil {
		return cfg, err
	}
	if err = loadBulk(&cfg.Bulk); err != nil {
		return cfg, err
	}
	if err = loadTransport(&cfg.Transport, udpDefault); err != nil {
		return cfg, err
	}
	if err = loadForwarder(&cfg.Forwarder); err != nil {
		return cfg, err
	}

	cfg.StatusAPIPort, err = env.GetAsInt("STATUS_API_PORT", false, 8080)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ReadFile decodes the shared config file. YAML is accepted for .yaml and .yml files.
func ReadFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fc, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc, nil
}

// Validate checks values that would make the worker misbehave silently.
func (c Config) Validate() error {
	if c.Store.URI == "" {
		return errors.New("no mongo connection string configured (MONGO_CONNECTION_STRING or mongoConnectionString)")
	}
	if c.NodeName == "" {
		return errors.New("node name is empty")
	}
	if c.Redundancy.ProtocolDriver == "" {
		return errors.New("protocol driver name is empty")
	}
	if c.Redundancy.Interval <= 0 || c.Bulk.Tick <= 0 {
		return errors.New("tick intervals must be positive")
	}
	if c.Store.ReconnectDelay <= 0 || c.Store.OperationTimeout <= 0 {
		return errors.New("MONGO_RECONNECT_DELAY_MS and MONGO_OPERATION_TIMEOUT_MS must be positive")
	}
	if c.Redundancy.MissedKeepAliveThreshold < 1 {
		return errors.New("REDUNDANCY_MISSED_THRESHOLD must be at least 1")
	}
	if c.Bulk.MaxQueue < 1 || c.Bulk.MaxPerTick < 1 {
		return errors.New("bulk queue limits must be positive")
	}
	switch c.Checkpoint.Mode {
	case CheckpointNone, CheckpointMongo:
	case CheckpointRedis:
		if c.Checkpoint.RedisAddress == "" {
			return errors.New("CHECKPOINT_MODE=redis requires REDIS_ADDRESS")
		}
	default:
		return fmt.Errorf("unknown CHECKPOINT_MODE %q", c.Checkpoint.Mode)
	}
	switch c.Transport.Kind {
	case "":
	case TransportUDP:
		if c.Transport.UDPAddress == "" {
			return errors.New("UDP transport requires UDP_ADDRESS")
		}
	case TransportMQTT:
		if c.Transport.MQTTBrokerURL == "" || c.Transport.MQTTTopic == "" {
			return errors.New("MQTT transport requires MQTT_BROKER_URL and MQTT_TOPIC")
		}
	case TransportKafka:
		if len(c.Transport.KafkaBrokers) == 0 || c.Transport.KafkaTopic == "" {
			return errors.New("kafka transport requires KAFKA_BOOTSTRAP_SERVER and KAFKA_TOPIC")
		}
	default:
		return fmt.Errorf("unknown TRANSPORT %q", c.Transport.Kind)
	}
	return nil
}

func loadStore(s *StoreConfig, file FileConfig) (err error) {
	if s.URI, err = env.GetAsString("MONGO_CONNECTION_STRING", false, file.MongoConnectionString); err != nil {
		return err
	}
	if s.Database, err = env.GetAsString("MONGO_DATABASE_NAME", false, firstNonEmpty(file.MongoDatabaseName, "json_scada")); err != nil {
		return err
	}
	if s.ReconnectDelay, err = getAsMilliseconds("MONGO_RECONNECT_DELAY_MS", internal.ReconnectDelay); err != nil {
		return err
	}
	s.OperationTimeout, err = getAsMilliseconds("MONGO_OPERATION_TIMEOUT_MS", internal.StoreOperationTimeout)
	return err
}

func loadRedundancy(r *RedundancyConfig, protocolDriver string) (err error) {
	if r.ProtocolDriver, err = env.GetAsString("PROTOCOL_DRIVER", false, protocolDriver); err != nil {
		return err
	}
	instance, err := env.GetAsInt("INSTANCE_NUMBER", false, 1)
	if err != nil {
		return err
	}
	r.InstanceNumber = int64(instance)
	if r.Interval, err = getAsMilliseconds("REDUNDANCY_INTERVAL_MS", internal.KeepAliveInterval); err != nil {
		return err
	}
	r.MissedKeepAliveThreshold, err = env.GetAsInt("REDUNDANCY_MISSED_THRESHOLD", false, internal.MissedKeepAliveThreshold)
	return err
}

func loadCheckpoint(c *CheckpointConfig) (err error) {
	if c.Mode, err = env.GetAsString("CHECKPOINT_MODE", false, CheckpointNone); err != nil {
		return err
	}
	c.Mode = strings.ToLower(c.Mode)
	if c.RedisAddress, err = env.GetAsString("REDIS_ADDRESS", false, ""); err != nil {
		return err
	}
	if c.RedisPassword, err = env.GetAsString("REDIS_PASSWORD", false, ""); err != nil {
		return err
	}
	c.RedisDB, err = env.GetAsInt("REDIS_DB", false, 0)
	return err
}

func loadCommands(c *CommandsConfig) (err error) {
	if c.SteppedMarker, err = env.GetAsString("COMMAND_STEPPED_MARKER", false, internal.SteppedCommandMarker); err != nil {
		return err
	}
	c.Expiry, err = getAsMilliseconds("COMMAND_EXPIRY_MS", internal.CommandExpiry)
	return err
}

func loadBulk(b *BulkConfig) (err error) {
	if b.Tick, err = getAsMilliseconds("BULK_TICK_MS", internal.BulkQueueTick); err != nil {
		return err
	}
	if b.MaxQueue, err = env.GetAsInt("BULK_MAX_QUEUE", false, internal.BulkQueueMaxLength); err != nil {
		return err
	}
	if b.MaxPerTick, err = env.GetAsInt("BULK_MAX_PER_TICK", false, internal.BulkQueueMaxPerTick); err != nil {
		return err
	}
	b.Throttle, err = getAsMilliseconds("BULK_THROTTLE_MS", internal.BulkWriteThrottle)
	return err
}

func loadTransport(t *TransportConfig, udpDefault string) (err error) {
	defaultKind := ""
	if udpDefault != "" {
		defaultKind = TransportUDP
	}
	if t.Kind, err = env.GetAsString("TRANSPORT", false, defaultKind); err != nil {
		return err
	}
	t.Kind = strings.ToLower(t.Kind)
	if t.UDPAddress, err = env.GetAsString("UDP_ADDRESS", false, udpDefault); err != nil {
		return err
	}
	if t.MQTTBrokerURL, err = env.GetAsString("MQTT_BROKER_URL", false, ""); err != nil {
		return err
	}
	if t.MQTTTopic, err = env.GetAsString("MQTT_TOPIC", false, ""); err != nil {
		return err
	}
	if t.MQTTClientID, err = env.GetAsString("MQTT_CLIENT_ID", false, ""); err != nil {
		return err
	}
	brokers, err := env.GetAsString("KAFKA_BOOTSTRAP_SERVER", false, "")
	if err != nil {
		return err
	}
	t.KafkaBrokers = splitList(brokers)
	if t.KafkaTopic, err = env.GetAsString("KAFKA_TOPIC", false, ""); err != nil {
		return err
	}
	// Either topic names the other one, scada/updates and scada.updates when neither is set.
	switch {
	case t.MQTTTopic == "" && t.KafkaTopic != "":
		t.MQTTTopic = internal.KafkaTopicToMqtt(t.KafkaTopic)
	case t.MQTTTopic == "":
		t.MQTTTopic = "scada/updates"
	}
	if t.KafkaTopic == "" {
		t.KafkaTopic = internal.MqttTopicToKafka(t.MQTTTopic)
	}
	t.KafkaGroupID, err = env.GetAsString("KAFKA_CONSUMER_GROUP_ID", false, "scada-bulk-update-writer")
	return err
}

func loadForwarder(f *ForwarderConfig) (err error) {
	seconds, err := env.GetAsInt("FORWARD_INTEGRITY_INTERVAL_S", false, 600)
	if err != nil {
		return err
	}
	f.IntegrityInterval = time.Duration(seconds) * time.Second
	if f.MaxLengthJSON, err = env.GetAsInt("FORWARD_MAX_LENGTH_JSON", false, internal.MaxLengthJSON); err != nil {
		return err
	}
	if f.PacketSizeThreshold, err = env.GetAsInt("FORWARD_PACKET_SIZE_THRESHOLD", false, internal.PacketSizeThreshold); err != nil {
		return err
	}
	f.Backfill, err = env.GetAsBool("FORWARD_BACKFILL", false, false)
	return err
}

func getAsMilliseconds(key string, fallback time.Duration) (time.Duration, error) {
	ms, err := env.GetAsInt(key, false, int(fallback.Milliseconds()))
	if err != nil {
		return fallback, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

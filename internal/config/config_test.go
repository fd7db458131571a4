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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadFile(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		path := writeFile(t, "json-scada.json", `{"nodeName":"mainNode","mongoConnectionString":"mongodb://localhost:27017","mongoDatabaseName":"json_scada"}`)
		fc, err := ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "mainNode", fc.NodeName)
		assert.Equal(t, "mongodb://localhost:27017", fc.MongoConnectionString)
		assert.Equal(t, "json_scada", fc.MongoDatabaseName)
	})

	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, "json-scada.yaml", "nodeName: backupNode\nmongoConnectionString: mongodb://db:27017\n")
		fc, err := ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "backupNode", fc.NodeName)
		assert.Equal(t, "mongodb://db:27017", fc.MongoConnectionString)
	})

	t.Run("broken json", func(t *testing.T) {
		path := writeFile(t, "broken.json", `{"nodeName":`)
		_, err := ReadFile(path)
		assert.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(t.TempDir(), "nope.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "json-scada.json", `{"nodeName":"fileNode","mongoConnectionString":"mongodb://file:27017"}`)
	t.Setenv("JS_CONFIG_FILE", path)

	t.Run("defaults from file", func(t *testing.T) {
		cfg, err := Load("MONGOWR", "0.0.0.0:12345")
		require.NoError(t, err)
		assert.Equal(t, "fileNode", cfg.NodeName)
		assert.Equal(t, "mongodb://file:27017", cfg.Store.URI)
		assert.Equal(t, "json_scada", cfg.Store.Database)
		assert.Equal(t, "MONGOWR", cfg.Redundancy.ProtocolDriver)
		assert.Equal(t, int64(1), cfg.Redundancy.InstanceNumber)
		assert.Equal(t, 5*time.Second, cfg.Redundancy.Interval)
		assert.Equal(t, 4, cfg.Redundancy.MissedKeepAliveThreshold)
		assert.Equal(t, 5*time.Second, cfg.Store.ReconnectDelay)
		assert.Equal(t, 150*time.Millisecond, cfg.Bulk.Tick)
		assert.Equal(t, 5000, cfg.Bulk.MaxQueue)
		assert.Equal(t, 50, cfg.Bulk.MaxPerTick)
		assert.Equal(t, 100*time.Millisecond, cfg.Bulk.Throttle)
		assert.Equal(t, CheckpointNone, cfg.Checkpoint.Mode)
		assert.Equal(t, TransportUDP, cfg.Transport.Kind)
		assert.Equal(t, "0.0.0.0:12345", cfg.Transport.UDPAddress)
		assert.Equal(t, "scada.updates", cfg.Transport.KafkaTopic)
		assert.Equal(t, "YTAP", cfg.Commands.SteppedMarker)
		assert.Equal(t, 10*time.Second, cfg.Commands.Expiry)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("JS_NODE_NAME", "envNode")
		t.Setenv("MONGO_CONNECTION_STRING", "mongodb://env:27017")
		t.Setenv("INSTANCE_NUMBER", "3")
		t.Setenv("TRANSPORT", "Kafka")
		t.Setenv("KAFKA_BOOTSTRAP_SERVER", "a:9092, b:9092")
		cfg, err := Load("MONGOWR", "0.0.0.0:12345")
		require.NoError(t, err)
		assert.Equal(t, "envNode", cfg.NodeName)
		assert.Equal(t, "mongodb://env:27017", cfg.Store.URI)
		assert.Equal(t, int64(3), cfg.Redundancy.InstanceNumber)
		assert.Equal(t, TransportKafka, cfg.Transport.Kind)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Transport.KafkaBrokers)
	})

	t.Run("topics derive from each other", func(t *testing.T) {
		cfg, err := Load("MONGOWR", "0.0.0.0:12345")
		require.NoError(t, err)
		assert.Equal(t, "scada/updates", cfg.Transport.MQTTTopic)
		assert.Equal(t, "scada.updates", cfg.Transport.KafkaTopic)

		t.Setenv("KAFKA_TOPIC", "plant.north.updates")
		cfg, err = Load("MONGOWR", "0.0.0.0:12345")
		require.NoError(t, err)
		assert.Equal(t, "plant/north/updates", cfg.Transport.MQTTTopic)
		assert.Equal(t, "plant.north.updates", cfg.Transport.KafkaTopic)

		t.Setenv("MQTT_TOPIC", "site/a")
		cfg, err = Load("MONGOWR", "0.0.0.0:12345")
		require.NoError(t, err)
		assert.Equal(t, "site/a", cfg.Transport.MQTTTopic)
		assert.Equal(t, "plant.north.updates", cfg.Transport.KafkaTopic)
	})

	t.Run("store durations must be positive", func(t *testing.T) {
		for _, name := range []string{"MONGO_RECONNECT_DELAY_MS", "MONGO_OPERATION_TIMEOUT_MS"} {
			for _, value := range []string{"0", "-5"} {
				t.Run(name+"="+value, func(t *testing.T) {
					t.Setenv(name, value)
					_, err := Load("MONGOWR", "0.0.0.0:12345")
					assert.Error(t, err)
				})
			}
		}
	})

	t.Run("no transport for command workers", func(t *testing.T) {
		cfg, err := Load("COMMAND_DISPATCHER", "")
		require.NoError(t, err)
		assert.Equal(t, "", cfg.Transport.Kind)
	})

	t.Run("redis checkpoint needs address", func(t *testing.T) {
		t.Setenv("CHECKPOINT_MODE", "redis")
		_, err := Load("MONGOWR", "0.0.0.0:12345")
		assert.Error(t, err)
	})

	t.Run("mqtt needs broker", func(t *testing.T) {
		t.Setenv("TRANSPORT", "mqtt")
		_, err := Load("MONGOWR", "0.0.0.0:12345")
		assert.Error(t, err)
	})
}

func TestLoadWithoutStore(t *testing.T) {
	t.Setenv("JS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	_, err := Load("MONGOWR", "")
	assert.Error(t, err)
}

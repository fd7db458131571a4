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

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/scada-core/internal/config"
)

func TestCheckpointSelector(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		selector, rc := checkpointSelector(config.CheckpointConfig{Mode: config.CheckpointNone})
		assert.Nil(t, selector)
		assert.Nil(t, rc)
	})

	t.Run("mongo", func(t *testing.T) {
		selector, rc := checkpointSelector(config.CheckpointConfig{Mode: config.CheckpointMongo})
		require.NotNil(t, selector)
		assert.Nil(t, rc)
	})

	t.Run("redis", func(t *testing.T) {
		selector, rc := checkpointSelector(config.CheckpointConfig{Mode: config.CheckpointRedis, RedisAddress: "localhost:6379"})
		require.NotNil(t, selector)
		require.NotNil(t, rc)
		assert.Same(t, rc, selector(nil))
		assert.NoError(t, rc.Close())
	})
}

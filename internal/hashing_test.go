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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsXXHash(t *testing.T) {
	a := AsXXHash([]byte("payload"))
	b := AsXXHash([]byte("payload"))
	c := AsXXHash([]byte("payload2"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, Digest{}, a)
}

func TestAsXXHashMultipleInputs(t *testing.T) {
	joined := AsXXHash([]byte("pay"), []byte("load"))
	single := AsXXHash([]byte("payload"))

	// Streaming the parts yields the same digest as hashing the concatenation.
	assert.Equal(t, single, joined)
}

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
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Digest is a 128 bit XXHash, comparable with ==.
type Digest [16]byte

// AsXXHash returns the XXHash128 of the given data.
// This hash is extremely fast and reasonable for detecting repeated payloads.
// https://cyan4973.github.io/xxHash/
func AsXXHash(inputs ...[]byte) Digest {
	if len(inputs) == 1 {
		return Uint128ToDigest(xxh3.Hash128(inputs[0]))
	}
	h := xxh3.New()
	for _, input := range inputs {
		// xxh3 hashers never return a write error
		_, _ = h.Write(input)
	}

	return Uint128ToDigest(h.Sum128())
}

// Uint128ToDigest converts a uint128 to a Digest
func Uint128ToDigest(a xxh3.Uint128) (d Digest) {
	binary.LittleEndian.PutUint64(d[0:8], a.Lo)
	binary.LittleEndian.PutUint64(d[8:16], a.Hi)
	return
}

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

package datamodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/scada-core/internal"
)

func TestDeflateInflate(t *testing.T) {
	plain := []byte(`[{"cnt":1,"tag":"A","operationType":"update","updateDescription":{"updatedFields":{}}}]`)
	packed, err := Deflate(plain)
	require.NoError(t, err)

	elements, err := DecodeEnvelope(packed)
	require.NoError(t, err)
	require.Len(t, elements, 1)

	u, err := DecodePointUpdate(elements[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.Cnt)
	assert.Equal(t, "A", u.Tag)
	assert.Equal(t, UpdateKindUpdate, u.OperationType)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not zlib"))
	assert.ErrorIs(t, err, internal.ErrValidation)

	packed, err := Deflate([]byte(`{"cnt":1}`))
	require.NoError(t, err)
	_, err = DecodeEnvelope(packed)
	assert.ErrorIs(t, err, internal.ErrValidation)
}

func TestDecodePointUpdate(t *testing.T) {
	tcs := []struct {
		name    string
		element string
		wantErr bool
	}{
		{"integrity", `{"cnt":7,"tag":"A","operationType":"integrity","updateDescription":{"updatedFields":{"_id":3}}}`, false},
		{"empty tag", `{"cnt":1,"tag":"","operationType":"update","updateDescription":{"updatedFields":{}}}`, true},
		{"missing tag", `{"cnt":1,"operationType":"update","updateDescription":{"updatedFields":{}}}`, true},
		{"missing cnt", `{"tag":"A","operationType":"update","updateDescription":{"updatedFields":{}}}`, true},
		{"missing updateDescription", `{"cnt":1,"tag":"A","operationType":"update"}`, true},
		{"unknown operation", `{"cnt":1,"tag":"A","operationType":"delete","updateDescription":{"updatedFields":{}}}`, true},
		{"not an object", `42`, true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePointUpdate([]byte(tc.element))
			if tc.wantErr {
				assert.ErrorIs(t, err, internal.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInflateIsBounded(t *testing.T) {
	limit := MaxInflatedSize
	defer func() { MaxInflatedSize = limit }()
	MaxInflatedSize = 1024

	packed, err := Deflate(make([]byte, 1024))
	require.NoError(t, err)
	_, err = Inflate(packed)
	assert.NoError(t, err)

	packed, err = Deflate(make([]byte, 64*1024))
	require.NoError(t, err)
	assert.Less(t, len(packed), 1024)
	_, err = Inflate(packed)
	assert.ErrorIs(t, err, internal.ErrValidation)
	_, err = DecodeEnvelope(packed)
	assert.ErrorIs(t, err, internal.ErrValidation)
}

func TestDecodePointUpdateKeepsIntegralNumbers(t *testing.T) {
	u, err := DecodePointUpdate([]byte(`{"cnt":1,"tag":"A","operationType":"integrity","documentKey":{"_id":9007199254740993},` +
		`"updateDescription":{"updatedFields":{"_id":9007199254740993,"value":2.5,"timeTag":1709287200000,"sourceDataUpdate":{"valueAtSource":7,"list":[1,1.5]}}}}`))
	require.NoError(t, err)

	fields := u.UpdateDescription.UpdatedFields
	assert.Equal(t, int64(9007199254740993), fields["_id"])
	assert.Equal(t, int64(9007199254740993), u.DocumentKey["_id"])
	assert.Equal(t, 2.5, fields["value"])
	sdu := fields["sourceDataUpdate"].(map[string]interface{})
	assert.Equal(t, int64(7), sdu["valueAtSource"])
	assert.Equal(t, []interface{}{int64(1), 1.5}, sdu["list"])

	ConvertTimeFields(fields)
	assert.Equal(t, time.UnixMilli(1709287200000).UTC(), fields["timeTag"])
}

func TestConvertTimeFields(t *testing.T) {
	doc := map[string]interface{}{
		"timeTag":         "2024-03-01T10:00:00.123Z",
		"timeTagAtSource": float64(1709287200000),
		"timeTagAlarm":    "yesterday",
		"value":           1.0,
	}
	ConvertTimeFields(doc)

	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 123000000, time.UTC), doc["timeTag"])
	assert.Equal(t, time.UnixMilli(1709287200000).UTC(), doc["timeTagAtSource"])
	assert.Equal(t, "yesterday", doc["timeTagAlarm"])
	assert.Equal(t, 1.0, doc["value"])
}

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
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zlib"
	"github.com/united-manufacturing-hub/scada-core/internal"
)

// UpdateKind is the operation carried by a forwarded point update.
type UpdateKind string

const (
	// UpdateKindUpdate carries a sourceDataUpdate produced by a protocol driver.
	UpdateKindUpdate UpdateKind = "update"
	// UpdateKindIntegrity carries a full point document, upserted by tag on the receiving side.
	UpdateKindIntegrity UpdateKind = "integrity"
)

// PointUpdate is one element of a forwarded envelope. Cnt increases by one per element and sender.
type PointUpdate struct {
	Cnt               int64                  `json:"cnt"`
	Tag               string                 `json:"tag"`
	OperationType     UpdateKind             `json:"operationType"`
	DocumentKey       map[string]interface{} `json:"documentKey,omitempty"`
	UpdateDescription UpdateDescription      `json:"updateDescription"`
}

type UpdateDescription struct {
	UpdatedFields map[string]interface{} `json:"updatedFields"`
}

type rawPointUpdate struct {
	Cnt               *int64                 `json:"cnt"`
	Tag               string                 `json:"tag"`
	OperationType     string                 `json:"operationType"`
	DocumentKey       map[string]interface{} `json:"documentKey"`
	UpdateDescription *UpdateDescription     `json:"updateDescription"`
}

// TimeFields are converted from their JSON representation to dates before they are written.
var TimeFields = []string{"timeTag", "timeTagAtSource", "timeTagAlarm"}

// MaxInflatedSize bounds the plain size of one envelope. A datagram carries at most 64 KiB
// of deflated data, real envelopes stay far below this.
var MaxInflatedSize int64 = 4 << 20

// Inflate decompresses a zlib deflated envelope of at most MaxInflatedSize plain bytes.
func Inflate(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", internal.ErrValidation, err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, MaxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", internal.ErrValidation, err)
	}
	if int64(len(out)) > MaxInflatedSize {
		return nil, fmt.Errorf("%w: inflated envelope exceeds %d bytes", internal.ErrValidation, MaxInflatedSize)
	}
	return out, nil
}

// Deflate zlib compresses a serialized envelope.
func Deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope inflates a datagram and splits its JSON array into elements.
// Elements are decoded one by one with DecodePointUpdate, so one malformed element does not discard its neighbours.
func DecodeEnvelope(payload []byte) ([]json.RawMessage, error) {
	plain, err := Inflate(payload)
	if err != nil {
		return nil, err
	}
	var elements []json.RawMessage
	if err = json.Unmarshal(plain, &elements); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", internal.ErrValidation, err)
	}
	return elements, nil
}

// DecodePointUpdate validates one envelope element.
// Integral numbers decode to int64 so ids and counters keep their type, all others to float64.
func DecodePointUpdate(element []byte) (PointUpdate, error) {
	var r rawPointUpdate
	dec := json.NewDecoder(bytes.NewReader(element))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return PointUpdate{}, fmt.Errorf("%w: point update: %v", internal.ErrValidation, err)
	}
	if r.Cnt == nil {
		return PointUpdate{}, fmt.Errorf("%w: point update without cnt", internal.ErrValidation)
	}
	if r.Tag == "" {
		return PointUpdate{}, fmt.Errorf("%w: point update %d without tag", internal.ErrValidation, *r.Cnt)
	}
	if r.UpdateDescription == nil || r.UpdateDescription.UpdatedFields == nil {
		return PointUpdate{}, fmt.Errorf("%w: point update %d without updatedFields", internal.ErrValidation, *r.Cnt)
	}
	kind := UpdateKind(r.OperationType)
	if kind != UpdateKindUpdate && kind != UpdateKindIntegrity {
		return PointUpdate{}, fmt.Errorf("%w: point update %d has unknown operationType %q", internal.ErrValidation, *r.Cnt, r.OperationType)
	}
	normalizeNumbers(r.DocumentKey)
	normalizeNumbers(r.UpdateDescription.UpdatedFields)
	return PointUpdate{
		Cnt:               *r.Cnt,
		Tag:               r.Tag,
		OperationType:     kind,
		DocumentKey:       r.DocumentKey,
		UpdateDescription: *r.UpdateDescription,
	}, nil
}

// normalizeNumbers replaces json.Number values in place, the driver would store them as strings.
func normalizeNumbers(doc map[string]interface{}) {
	for k, v := range doc {
		doc[k] = normalizeNumber(v)
	}
}

func normalizeNumber(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f
		}
		return string(t)
	case map[string]interface{}:
		normalizeNumbers(t)
		return t
	case []interface{}:
		for i := range t {
			t[i] = normalizeNumber(t[i])
		}
		return t
	default:
		return v
	}
}

// ParseWireTime converts an RFC 3339 string or a unix millisecond number to a time.
func ParseWireTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case time.Time:
		return t, true
	default:
		return time.Time{}, false
	}
}

// ConvertTimeFields replaces the TimeFields of doc with dates, in place.
// Values that cannot be parsed are left untouched.
func ConvertTimeFields(doc map[string]interface{}) {
	for _, field := range TimeFields {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		if t, ok := ParseWireTime(v); ok {
			doc[field] = t
		}
	}
}

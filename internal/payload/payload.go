// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package payload encodes a flushed segment's spans into the wire format the
// downstream sink publishes: a single JSON object with one "spans" array,
// each element the raw span bytes reinterpreted as a JSON value.
package payload

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"segflusher/internal/spanbuf"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// segmentEnvelope is the literal `{"spans": [...]}` shape published
// downstream. Spans are encoded as jsoniter.RawMessage so each span's
// already-serialized payload is embedded verbatim rather than re-escaped.
type segmentEnvelope struct {
	Spans []jsoniter.RawMessage `json:"spans"`
}

// Encode builds the published payload for a flushed segment, preserving
// span order exactly as returned by spanbuf.Buffer.FlushSegments. An empty
// segment still encodes to `{"spans":[]}` — callers decide separately
// whether to skip publishing it (spec §4.1 step 4).
func Encode(segment spanbuf.FlushedSegment) ([]byte, error) {
	env := segmentEnvelope{Spans: make([]jsoniter.RawMessage, len(segment.Spans))}
	for i, s := range segment.Spans {
		env.Spans[i] = jsoniter.RawMessage(s.Payload)
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode segment key=%s: %w", segment.Key, err)
	}
	return out, nil
}

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

// Package flusher implements the background worker that drains ready
// segments from a spanbuf.Buffer and publishes them to a sink.Sink, and the
// pipeline stage adapter that supervises the worker's lifecycle.
package flusher

import "sync/atomic"

// SharedState holds the three primitives that cross the Worker/Stage
// boundary: a stop signal, the producer-clock drift estimate, and a
// backpressure flag. Each field has exactly one writer and is read from the
// other side, so plain atomics are sufficient — no locking needed.
//
// StopFlag: Stage writes, Worker reads.
// Drift: Stage writes (from Submit), Worker reads (each loop iteration).
// Backpressure: Worker writes, Stage reads (from Submit).
type SharedState struct {
	StopFlag     atomic.Bool
	Drift        atomic.Int64
	Backpressure atomic.Bool
}

// NewSharedState returns a zeroed SharedState: not stopped, zero drift, no
// backpressure.
func NewSharedState() *SharedState {
	return &SharedState{}
}

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

package flusher

import (
	"context"
	"sync"
	"time"

	"segflusher/internal/spanbuf"
)

// fakeBuffer is a hand-rolled spanbuf.Buffer test double, in the shape of
// the teacher's errPersister/mockCountingPersister doubles: each call to
// FlushSegments returns the next entry of a scripted queue, and every
// DoneFlushSegments batch is recorded for assertions.
type fakeBuffer struct {
	mu sync.Mutex

	toReturn []map[string]spanbuf.FlushedSegment
	calls    int
	flushErr error

	acked [][]string

	shards []string
	memory []spanbuf.MemoryInfo
	memErr error

	recordCalls int
}

func newFakeBuffer(shards ...string) *fakeBuffer {
	if len(shards) == 0 {
		shards = []string{"shard-0"}
	}
	return &fakeBuffer{shards: shards}
}

func (f *fakeBuffer) AddSpan(context.Context, string, spanbuf.Span, int64) error { return nil }

func (f *fakeBuffer) FlushSegments(_ context.Context, _ int, _ int64) (map[string]spanbuf.FlushedSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flushErr != nil {
		return nil, f.flushErr
	}
	if f.calls >= len(f.toReturn) {
		return map[string]spanbuf.FlushedSegment{}, nil
	}
	out := f.toReturn[f.calls]
	f.calls++
	return out, nil
}

func (f *fakeBuffer) DoneFlushSegments(_ context.Context, segments map[string]spanbuf.FlushedSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(segments))
	for k := range segments {
		keys = append(keys, k)
	}
	f.acked = append(f.acked, keys)
	return nil
}

func (f *fakeBuffer) MemoryInfo(context.Context) ([]spanbuf.MemoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memErr != nil {
		return nil, f.memErr
	}
	return f.memory, nil
}

func (f *fakeBuffer) AssignedShards() []string { return f.shards }

func (f *fakeBuffer) RecordStoredSegments(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordCalls++
	return nil
}

func (f *fakeBuffer) ackedBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.acked))
	copy(out, f.acked)
	return out
}

// fakeHandle is a controllable WorkerHandle test double: tests flip
// aliveVal directly to simulate a crash, the way the spec's "kill the
// worker externally" scenario requires.
type fakeHandle struct {
	mu         sync.Mutex
	aliveVal   bool
	startCalls int
	startErr   error
	terminated bool
}

func (h *fakeHandle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aliveVal
}

func (h *fakeHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startCalls++
	if h.startErr != nil {
		return h.startErr
	}
	h.aliveVal = true
	return nil
}

func (h *fakeHandle) Terminate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = true
	h.aliveVal = false
}

func (h *fakeHandle) Wait(context.Context) error { return nil }

func (h *fakeHandle) kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aliveVal = false
}

// fakeNextStage is a recording NextStage test double.
type fakeNextStage struct {
	mu         sync.Mutex
	polled     int
	submitted  []Message
	terminated bool
	closed     bool
	joined     bool
	joinErr    error
}

func (n *fakeNextStage) Poll() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.polled++
	return nil
}

func (n *fakeNextStage) Submit(msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, msg)
	return nil
}

func (n *fakeNextStage) Terminate() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.terminated = true
	return nil
}

func (n *fakeNextStage) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *fakeNextStage) Join(context.Context, time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joined = true
	return n.joinErr
}

func (n *fakeNextStage) submittedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.submitted)
}

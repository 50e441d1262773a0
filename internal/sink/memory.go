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

package sink

import (
	"context"
	"sync"
)

// resolvedHandle is already resolved at construction time.
type resolvedHandle struct{ err error }

func (h resolvedHandle) Wait(context.Context) error { return h.err }

// Published is one payload recorded by MemorySink.
type Published struct {
	Key     string
	Payload []byte
}

// MemorySink is an in-process Sink for tests: every Publish succeeds
// immediately (unless FailNext is set) and is recorded for assertions, the
// same shape as the teacher's recordingPersister test doubles.
type MemorySink struct {
	mu        sync.Mutex
	published []Published
	failNext  error
	closed    bool
}

// NewMemorySink returns an always-succeeding Sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailNext makes the next Publish call resolve with err instead of
// succeeding. Resets after one use.
func (s *MemorySink) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Published returns a snapshot of everything published so far.
func (s *MemorySink) Published() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Published, len(s.published))
	copy(out, s.published)
	return out
}

// Publish implements Sink.
func (s *MemorySink) Publish(_ context.Context, key string, payload []byte) (CompletionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return resolvedHandle{err: err}, nil
	}
	s.published = append(s.published, Published{Key: key, Payload: payload})
	return resolvedHandle{}, nil
}

// Close implements Sink.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

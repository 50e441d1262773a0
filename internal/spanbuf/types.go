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

// Package spanbuf defines the segment buffer contract consumed by the
// flusher worker, and ships two implementations: an in-memory reference
// buffer for tests and a Redis-backed one for production.
package spanbuf

import "context"

// Span is an opaque, already-serialized blob representing one span. The
// buffer and the flusher never look inside it.
type Span struct {
	Payload []byte
}

// FlushedSegment is an ordered group of spans sharing a trace key, ready to
// be published downstream.
type FlushedSegment struct {
	Key   string
	Spans []Span
}

// MemoryInfo reports used/available bytes for one shard.
type MemoryInfo struct {
	Used      int64
	Available int64
}

// Buffer is the external collaborator described in spec §6: a sharded
// key-value store holding partial segments keyed by trace identifier.
// Implementations are responsible for their own internal synchronization;
// both the Worker and the Stage call into it concurrently.
type Buffer interface {
	// AddSpan accumulates a span payload under key. now is the producer-
	// drift-adjusted wall clock at the time of the call and is used by the
	// implementation to bound how long the segment may remain unflushed.
	AddSpan(ctx context.Context, key string, span Span, now int64) error

	// FlushSegments returns up to maxSegments ready segments per shard as of
	// now. The returned map is keyed by segment key.
	FlushSegments(ctx context.Context, maxSegments int, now int64) (map[string]FlushedSegment, error)

	// DoneFlushSegments acknowledges a previously returned batch, removing
	// it from the buffer. Safe to call with a batch containing empty
	// segments (they are acknowledged, not quarantined; see spec §9).
	DoneFlushSegments(ctx context.Context, segments map[string]FlushedSegment) error

	// MemoryInfo reports used/available bytes per shard.
	MemoryInfo(ctx context.Context) ([]MemoryInfo, error)

	// AssignedShards is the fixed set of shards this buffer handle drains.
	// Fixed for the lifetime of the Buffer handle (spec §3 invariant).
	AssignedShards() []string

	// RecordStoredSegments is an observability side effect: it tells the
	// buffer to account for its current stored-segment count. Has no effect
	// on buffer contents.
	RecordStoredSegments(ctx context.Context) error
}

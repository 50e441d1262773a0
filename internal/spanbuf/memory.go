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

package spanbuf

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// segmentEntry is a single in-memory accumulator for a trace key: the
// buffered spans plus the bookkeeping the draining worker needs, guarded by
// a per-shard lock rather than per-key atomics since segments mutate as a
// whole slice rather than a single counter.
type segmentEntry struct {
	spans      []Span
	deadline   int64 // wall-clock second at which the segment becomes flush-eligible
	leasedTill int64 // 0 when not leased; set by FlushSegments, cleared by DoneFlushSegments
}

type memShard struct {
	mu       sync.Mutex
	segments map[string]*segmentEntry
}

// MemoryBuffer is an in-process reference Buffer, exercised by this
// package's tests; the service binary uses RedisBuffer. It shards keys across a fixed
// number of in-memory partitions, one lock-guarded map per shard, keyed by
// a slice segment rather than a single scalar.
//
// A segment becomes flush-eligible segmentTTL seconds after its first span
// arrives. Once returned by FlushSegments it is "leased" for leaseTimeout
// seconds: it will not be returned again until either DoneFlushSegments
// acknowledges it (permanent removal) or the lease expires, at which point
// it becomes eligible again. This reproduces the spec's documented
// duplicate-on-crash behavior (§8 "Boundary behaviors") without needing an
// actual process crash to exercise it in tests.
type MemoryBuffer struct {
	shards       []*memShard
	shardNames   []string
	segmentTTL   int64
	leaseTimeout int64
}

// NewMemoryBuffer creates a buffer with the given shard count. segmentTTL and
// leaseTimeout are in seconds.
func NewMemoryBuffer(shardCount int, segmentTTL, leaseTimeout int64) *MemoryBuffer {
	if shardCount <= 0 {
		shardCount = 1
	}
	b := &MemoryBuffer{
		shards:       make([]*memShard, shardCount),
		shardNames:   make([]string, shardCount),
		segmentTTL:   segmentTTL,
		leaseTimeout: leaseTimeout,
	}
	for i := 0; i < shardCount; i++ {
		b.shards[i] = &memShard{segments: make(map[string]*segmentEntry)}
		b.shardNames[i] = fmt.Sprintf("shard-%d", i)
	}
	return b
}

func (b *MemoryBuffer) shardFor(key string) *memShard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum64()%uint64(len(b.shards))]
}

// AddSpan implements Buffer.
func (b *MemoryBuffer) AddSpan(_ context.Context, key string, span Span, now int64) error {
	shard := b.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	e, ok := shard.segments[key]
	if !ok {
		e = &segmentEntry{deadline: now + b.segmentTTL}
		shard.segments[key] = e
	}
	e.spans = append(e.spans, span)
	return nil
}

// FlushSegments implements Buffer. It scans every shard and, per shard,
// returns up to maxSegments entries whose deadline has passed and which are
// not currently leased, in iteration order (map order is implementation
// defined, matching spec §4.1's "implementation-defined" ordering note).
func (b *MemoryBuffer) FlushSegments(_ context.Context, maxSegments int, now int64) (map[string]FlushedSegment, error) {
	out := make(map[string]FlushedSegment)
	for _, shard := range b.shards {
		shard.mu.Lock()
		taken := 0
		for key, e := range shard.segments {
			if taken >= maxSegments {
				break
			}
			if e.leasedTill != 0 && e.leasedTill > now {
				continue
			}
			if e.deadline > now {
				continue
			}
			spans := make([]Span, len(e.spans))
			copy(spans, e.spans)
			out[key] = FlushedSegment{Key: key, Spans: spans}
			e.leasedTill = now + b.leaseTimeout
			taken++
		}
		shard.mu.Unlock()
	}
	return out, nil
}

// DoneFlushSegments implements Buffer: permanently removes every key in the
// batch from its shard, regardless of whether its lease has expired.
func (b *MemoryBuffer) DoneFlushSegments(_ context.Context, segments map[string]FlushedSegment) error {
	for key := range segments {
		shard := b.shardFor(key)
		shard.mu.Lock()
		delete(shard.segments, key)
		shard.mu.Unlock()
	}
	return nil
}

// MemoryInfo implements Buffer, reporting per-shard usage as the total size
// of buffered span payloads in bytes against a fixed 1 GiB availability (a
// stand-in for real memory accounting; the Redis-backed implementation uses
// key counts instead).
func (b *MemoryBuffer) MemoryInfo(_ context.Context) ([]MemoryInfo, error) {
	infos := make([]MemoryInfo, len(b.shards))
	for i, shard := range b.shards {
		shard.mu.Lock()
		var used int64
		for _, e := range shard.segments {
			for _, s := range e.spans {
				used += int64(len(s.Payload))
			}
		}
		shard.mu.Unlock()
		infos[i] = MemoryInfo{Used: used, Available: 1 << 30}
	}
	return infos, nil
}

// AssignedShards implements Buffer.
func (b *MemoryBuffer) AssignedShards() []string {
	names := make([]string, len(b.shardNames))
	copy(names, b.shardNames)
	sort.Strings(names)
	return names
}

// RecordStoredSegments implements Buffer; a no-op observability hook for the
// in-memory reference buffer.
func (b *MemoryBuffer) RecordStoredSegments(_ context.Context) error { return nil }

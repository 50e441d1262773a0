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

	redis "github.com/redis/go-redis/v9"
)

// shardClient is the minimal surface RedisBuffer needs from a single shard
// connection. *redis.Client satisfies it directly; LoggingShardClient
// satisfies it without talking to a real server, mirroring the teacher's
// persistence.LoggingRedisEvaler fallback for dependency-free demos.
type shardClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	DBSize(ctx context.Context) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// LoggingShardClient is a no-op shard client for running the demo without a
// real Redis instance. Not for production use.
type LoggingShardClient struct{ Name string }

func (l LoggingShardClient) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	fmt.Printf("[redis-demo shard=%s] EVAL script(len=%d) KEYS=%v ARGS=%v\n", l.Name, len(script), keys, args)
	return redis.NewCmdResult(nil, nil)
}

func (l LoggingShardClient) DBSize(context.Context) *redis.IntCmd {
	return redis.NewIntResult(0, nil)
}

func (l LoggingShardClient) LRange(_ context.Context, key string, _, _ int64) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(nil, nil)
}

// scheduleKey and spansKeyPrefix namespace this buffer's keys so it can
// safely share a Redis instance with other data.
const (
	scheduleKey   = "segflusher:sched"
	spansKeyPrefix = "segflusher:spans:"
)

// addSpanScript pushes a span payload onto the per-key list and, on first
// sight of the key, schedules it into the ready-at sorted set. Mirrors the
// SETNX-then-apply shape of the teacher's redisLuaScript in
// internal/ratelimiter/persistence/redis.go.
const addSpanScript = `
local spansKey = KEYS[1]
local traceKey = ARGV[1]
local payload = ARGV[2]
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local schedKey = ARGV[5]

redis.call('RPUSH', spansKey, payload)
local score = redis.call('ZSCORE', schedKey, traceKey)
if not score then
  redis.call('ZADD', schedKey, now + ttl, traceKey)
end
return 1
`

// pickReadyScript finds up to maxSegments keys eligible at or before now and
// re-schedules them to leaseExpiry so a concurrent flush won't pick them up
// again until the lease lapses (spec §8: duplication is allowed if the
// worker dies before acknowledging, so we do not remove on pick).
const pickReadyScript = `
local schedKey = KEYS[1]
local now = tonumber(ARGV[1])
local maxSegments = tonumber(ARGV[2])
local leaseExpiry = tonumber(ARGV[3])

local keys = redis.call('ZRANGEBYSCORE', schedKey, '-inf', now, 'LIMIT', 0, maxSegments)
for _, k in ipairs(keys) do
  redis.call('ZADD', schedKey, leaseExpiry, k)
end
return keys
`

// ackScript permanently removes acknowledged keys from the schedule and
// drops their span lists.
const ackScript = `
local schedKey = KEYS[1]
local prefix = ARGV[1]
for i = 2, #ARGV do
  redis.call('ZREM', schedKey, ARGV[i])
  redis.call('DEL', prefix .. ARGV[i])
end
return 1
`

// RedisBuffer is a Redis-backed Buffer sharded across independent shard
// connections. Routing is done client-side (fnv hash mod shard count)
// rather than relying on go-redis's own Ring hashing, so that AssignedShards
// and per-shard MemoryInfo line up with exactly the connections this buffer
// owns. Each shard is a separate *redis.Client; go-redis's Ring type is not
// used.
type RedisBuffer struct {
	clients      []shardClient
	shardNames   []string
	segmentTTL   int64
	leaseTimeout int64
	capacity     int64 // approximate max keys per shard, for MemoryInfo.Available
}

// RedisBufferOptions configures a RedisBuffer.
type RedisBufferOptions struct {
	Addrs        []string // one address per shard; empty entries use the logging fallback
	SegmentTTL   int64    // seconds a segment waits before becoming flush-eligible
	LeaseTimeout int64    // seconds a picked-but-unacknowledged segment stays hidden
	Capacity     int64    // approximate max keys per shard, for the memory-pressure check
}

// NewRedisBuffer dials one *redis.Client per address in opts.Addrs. A nil or
// empty Addrs falls back to an all-logging single shard, so the demo binary
// can run without infrastructure, exactly like the teacher's BuildPersister
// "mock"/logging fallback in internal/ratelimiter/persistence/factory.go.
func NewRedisBuffer(opts RedisBufferOptions) *RedisBuffer {
	if opts.SegmentTTL <= 0 {
		opts.SegmentTTL = 60
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 30
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1_000_000
	}
	b := &RedisBuffer{segmentTTL: opts.SegmentTTL, leaseTimeout: opts.LeaseTimeout, capacity: opts.Capacity}
	if len(opts.Addrs) == 0 {
		b.clients = []shardClient{LoggingShardClient{Name: "shard-0"}}
		b.shardNames = []string{"shard-0"}
		return b
	}
	for i, addr := range opts.Addrs {
		name := fmt.Sprintf("shard-%d", i)
		b.shardNames = append(b.shardNames, name)
		if addr == "" {
			b.clients = append(b.clients, LoggingShardClient{Name: name})
			continue
		}
		b.clients = append(b.clients, redis.NewClient(&redis.Options{Addr: addr}))
	}
	return b
}

func (b *RedisBuffer) shardIndex(key string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum64() % uint64(len(b.clients)))
}

// AddSpan implements Buffer.
func (b *RedisBuffer) AddSpan(ctx context.Context, key string, span Span, now int64) error {
	client := b.clients[b.shardIndex(key)]
	spansKey := spansKeyPrefix + key
	_, err := client.Eval(ctx, addSpanScript, []string{spansKey}, key, span.Payload, now, b.segmentTTL, scheduleKey).Result()
	if err != nil {
		return fmt.Errorf("redis add span key=%s: %w", key, err)
	}
	return nil
}

// FlushSegments implements Buffer.
func (b *RedisBuffer) FlushSegments(ctx context.Context, maxSegments int, now int64) (map[string]FlushedSegment, error) {
	out := make(map[string]FlushedSegment)
	for _, client := range b.clients {
		res, err := client.Eval(ctx, pickReadyScript, []string{scheduleKey}, now, maxSegments, now+b.leaseTimeout).Result()
		if err != nil {
			return nil, fmt.Errorf("redis pick ready: %w", err)
		}
		keys, ok := res.([]interface{})
		if !ok {
			continue
		}
		for _, kv := range keys {
			traceKey, ok := kv.(string)
			if !ok {
				continue
			}
			spansKey := spansKeyPrefix + traceKey
			raw, err := client.LRange(ctx, spansKey, 0, -1).Result()
			if err != nil {
				return nil, fmt.Errorf("redis lrange key=%s: %w", traceKey, err)
			}
			spans := make([]Span, 0, len(raw))
			for _, payload := range raw {
				spans = append(spans, Span{Payload: []byte(payload)})
			}
			out[traceKey] = FlushedSegment{Key: traceKey, Spans: spans}
		}
	}
	return out, nil
}

// DoneFlushSegments implements Buffer.
func (b *RedisBuffer) DoneFlushSegments(ctx context.Context, segments map[string]FlushedSegment) error {
	byShard := make(map[int][]interface{})
	for key := range segments {
		idx := b.shardIndex(key)
		byShard[idx] = append(byShard[idx], key)
	}
	for idx, keys := range byShard {
		args := append([]interface{}{spansKeyPrefix}, keys...)
		if _, err := b.clients[idx].Eval(ctx, ackScript, []string{scheduleKey}, args...).Result(); err != nil {
			return fmt.Errorf("redis ack batch shard=%d: %w", idx, err)
		}
	}
	return nil
}

// MemoryInfo implements Buffer using DBSize as an approximation of used
// capacity (see RedisBufferOptions.Capacity). A production adapter would
// parse `INFO memory`'s used_memory/maxmemory instead; this keeps the
// reference implementation dependency-free for the demo path.
func (b *RedisBuffer) MemoryInfo(ctx context.Context) ([]MemoryInfo, error) {
	infos := make([]MemoryInfo, len(b.clients))
	for i, client := range b.clients {
		n, err := client.DBSize(ctx).Result()
		if err != nil {
			return nil, fmt.Errorf("redis dbsize shard=%d: %w", i, err)
		}
		infos[i] = MemoryInfo{Used: n, Available: b.capacity}
	}
	return infos, nil
}

// AssignedShards implements Buffer.
func (b *RedisBuffer) AssignedShards() []string {
	names := make([]string, len(b.shardNames))
	copy(names, b.shardNames)
	return names
}

// RecordStoredSegments implements Buffer: a best-effort DBSize probe whose
// result is discarded, matching the teacher's observational-only
// record_stored_segments contract (spec §6).
func (b *RedisBuffer) RecordStoredSegments(ctx context.Context) error {
	_, _ = b.clients[0].DBSize(ctx).Result()
	return nil
}

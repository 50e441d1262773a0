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
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segflusher/internal/sink"
	"segflusher/internal/spanbuf"
)

func runAndStop(t *testing.T, shared *SharedState, cfg WorkerConfig, stopAfter func()) error {
	t.Helper()
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, shared, cfg) }()
	stopAfter()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop in time")
		return nil
	}
}

func TestRun_HappyPathPublishesEachSegmentAndAcksBatch(t *testing.T) {
	buf := newFakeBuffer("shard-0")
	buf.toReturn = []map[string]spanbuf.FlushedSegment{
		{
			"k1": {Key: "k1", Spans: []spanbuf.Span{{Payload: []byte(`"s-a"`)}}},
			"k2": {Key: "k2", Spans: []spanbuf.Span{{Payload: []byte(`"s-b"`)}}},
		},
	}
	sk := sink.NewMemorySink()
	shared := NewSharedState()

	err := runAndStop(t, shared, WorkerConfig{
		Buffer:           buf,
		Sink:             sk,
		MaxFlushSegments: 2,
		IdleSleep:        5 * time.Millisecond,
	}, func() {
		require.Eventually(t, func() bool { return len(sk.Published()) == 2 }, time.Second, 2*time.Millisecond)
		shared.StopFlag.Store(true)
	})
	require.NoError(t, err)

	pubs := sk.Published()
	byKey := map[string]string{}
	for _, p := range pubs {
		byKey[p.Key] = string(p.Payload)
	}
	assert.Equal(t, `{"spans":["s-a"]}`, byKey["k1"])
	assert.Equal(t, `{"spans":["s-b"]}`, byKey["k2"])

	acked := buf.ackedBatches()
	require.Len(t, acked, 1)
	assert.ElementsMatch(t, []string{"k1", "k2"}, acked[0])
}

func TestRun_BackpressureSetWhenFullBatchReturned(t *testing.T) {
	buf := newFakeBuffer("shard-0")
	buf.toReturn = []map[string]spanbuf.FlushedSegment{
		{
			"k1": {Key: "k1", Spans: []spanbuf.Span{{Payload: []byte(`1`)}}},
			"k2": {Key: "k2", Spans: []spanbuf.Span{{Payload: []byte(`2`)}}},
		},
		{},
	}
	sk := sink.NewMemorySink()
	shared := NewSharedState()

	err := runAndStop(t, shared, WorkerConfig{
		Buffer:           buf,
		Sink:             sk,
		MaxFlushSegments: 2,
		IdleSleep:        5 * time.Millisecond,
	}, func() {
		require.Eventually(t, func() bool { return shared.Backpressure.Load() }, time.Second, 2*time.Millisecond)
		require.Eventually(t, func() bool { return !shared.Backpressure.Load() }, time.Second, 2*time.Millisecond)
		shared.StopFlag.Store(true)
	})
	require.NoError(t, err)
}

func TestRun_EmptySegmentIsSkippedButAcknowledged(t *testing.T) {
	buf := newFakeBuffer("shard-0")
	buf.toReturn = []map[string]spanbuf.FlushedSegment{
		{"k1": {Key: "k1", Spans: nil}},
	}
	sk := sink.NewMemorySink()
	shared := NewSharedState()
	m := NewMetrics(prometheus.NewRegistry())

	err := runAndStop(t, shared, WorkerConfig{
		Buffer:           buf,
		Sink:             sk,
		MaxFlushSegments: 10,
		IdleSleep:        5 * time.Millisecond,
		Metrics:          m,
	}, func() {
		require.Eventually(t, func() bool { return len(buf.ackedBatches()) == 1 }, time.Second, 2*time.Millisecond)
		shared.StopFlag.Store(true)
	})
	require.NoError(t, err)

	assert.Empty(t, sk.Published(), "an empty segment must never be published")
	acked := buf.ackedBatches()
	require.Len(t, acked, 1)
	assert.Equal(t, []string{"k1"}, acked[0])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EmptySegments))
}

func TestRun_PublishFailurePropagatesAndStopsTheWorker(t *testing.T) {
	buf := newFakeBuffer("shard-0")
	buf.toReturn = []map[string]spanbuf.FlushedSegment{
		{"k1": {Key: "k1", Spans: []spanbuf.Span{{Payload: []byte(`1`)}}}},
	}
	sk := sink.NewMemorySink()
	boom := errors.New("broker unavailable")
	sk.FailNext(boom)
	shared := NewSharedState()

	err := Run(context.Background(), shared, WorkerConfig{
		Buffer:           buf,
		Sink:             sk,
		MaxFlushSegments: 10,
		IdleSleep:        5 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, buf.ackedBatches(), "a batch must not be acknowledged when a publish in it failed")
}

func TestRun_BufferErrorPropagates(t *testing.T) {
	buf := newFakeBuffer("shard-0")
	buf.flushErr = errors.New("redis down")
	sk := sink.NewMemorySink()
	shared := NewSharedState()

	err := Run(context.Background(), shared, WorkerConfig{
		Buffer:           buf,
		Sink:             sk,
		MaxFlushSegments: 10,
		IdleSleep:        5 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, buf.flushErr)
}

func TestRun_InitHookRunsOnceBeforeLoop(t *testing.T) {
	buf := newFakeBuffer("shard-0")
	sk := sink.NewMemorySink()
	shared := NewSharedState()

	initCalls := 0
	err := runAndStop(t, shared, WorkerConfig{
		Buffer:           buf,
		Sink:             sk,
		MaxFlushSegments: 10,
		IdleSleep:        5 * time.Millisecond,
		Init:             func() error { initCalls++; return nil },
	}, func() {
		time.Sleep(20 * time.Millisecond)
		shared.StopFlag.Store(true)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, initCalls)
}

func TestRun_CancelledContextExitsSilently(t *testing.T) {
	buf := newFakeBuffer("shard-0")
	sk := sink.NewMemorySink()
	shared := NewSharedState()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, shared, WorkerConfig{Buffer: buf, Sink: sk, MaxFlushSegments: 10, IdleSleep: time.Second}) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation must exit silently, not as an error")
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

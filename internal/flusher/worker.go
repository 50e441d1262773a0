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
	"fmt"
	"log"
	"time"

	"segflusher/internal/payload"
	"segflusher/internal/sink"
	"segflusher/internal/spanbuf"
)

// WorkerConfig wires the collaborators the worker loop needs.
type WorkerConfig struct {
	Buffer           spanbuf.Buffer
	Sink             sink.Sink
	MaxFlushSegments int
	IdleSleep        time.Duration
	Metrics          *Metrics

	// Init runs once before the loop starts. Nil by default; neither the
	// in-process path nor the subprocess entry point in cmd/segflusher sets it.
	Init func() error
}

// pendingPublish is one in-flight publish awaiting its completion.
type pendingPublish struct {
	key    string
	handle sink.CompletionHandle
}

// Run is the worker's main loop: poll the buffer for ready segments using a
// drift-adjusted clock, publish each non-empty one, wait for every publish
// to resolve, then acknowledge the whole batch. It returns when ctx is
// canceled or shared.StopFlag is set, and returns a non-nil error for
// anything else that goes wrong — the caller (the in-process goroutine or
// the subprocess entry point) decides how to surface that.
func Run(ctx context.Context, shared *SharedState, cfg WorkerConfig) error {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Second
	}
	if cfg.Init != nil {
		if err := cfg.Init(); err != nil {
			return fmt.Errorf("worker init: %w", err)
		}
	}
	log.Printf("component=flusher worker started")

	for !shared.StopFlag.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := time.Now().Unix() + shared.Drift.Load()
		segments, err := cfg.Buffer.FlushSegments(ctx, cfg.MaxFlushSegments, now)
		if err != nil {
			return fmt.Errorf("flush segments: %w", err)
		}

		shardCount := len(cfg.Buffer.AssignedShards())
		full := shardCount > 0 && len(segments) >= cfg.MaxFlushSegments*shardCount
		shared.Backpressure.Store(full)

		if len(segments) == 0 {
			select {
			case <-time.After(cfg.IdleSleep):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		pending := make([]pendingPublish, 0, len(segments))
		for key, seg := range segments {
			if len(seg.Spans) == 0 {
				cfg.Metrics.incEmptySegments()
				continue
			}
			body, err := payload.Encode(seg)
			if err != nil {
				return fmt.Errorf("encode segment key=%s: %w", key, err)
			}
			cfg.Metrics.observeSegmentSize(len(body))
			h, err := cfg.Sink.Publish(ctx, key, body)
			if err != nil {
				return fmt.Errorf("publish segment key=%s: %w", key, err)
			}
			pending = append(pending, pendingPublish{key: key, handle: h})
		}

		for _, p := range pending {
			if err := p.handle.Wait(ctx); err != nil {
				return fmt.Errorf("publish completion key=%s: %w", p.key, err)
			}
		}

		if err := cfg.Buffer.DoneFlushSegments(ctx, segments); err != nil {
			return fmt.Errorf("acknowledge segments: %w", err)
		}
	}
	return nil
}

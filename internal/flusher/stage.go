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
	"fmt"
	"log"
	"time"

	"segflusher/internal/spanbuf"
)

// MaxProcessRestarts bounds how many times Stage.Submit will resurrect a
// dead Worker before giving up (spec §6 tunables).
const MaxProcessRestarts = 10

// ErrBackpressure is returned by Stage.Submit to signal that this message
// should be retried later. It is not an error in the usual sense: the
// pipeline's own retry mechanism is expected to resubmit the same message,
// matching arroyo's MessageRejected in the original implementation.
var ErrBackpressure = errors.New("flusher: backpressure, retry message later")

// FilteredPayload marks a message this stage has nothing to do with besides
// forwarding. Submit only inspects int64 payloads (producer-clock ticks).
type FilteredPayload struct{}

// Message is the shape Stage.Submit accepts: a payload that is either a
// FilteredPayload or an int64 producer timestamp (spec §4.3).
type Message struct {
	Payload any
}

// NextStage is the opaque downstream pipeline stage Stage forwards control
// calls to (spec §2 "Next Stage").
type NextStage interface {
	Poll() error
	Submit(msg Message) error
	Terminate() error
	Close() error
	Join(ctx context.Context, timeout time.Duration) error
}

// HandleFactory builds a fresh WorkerHandle bound to shared. Stage calls it
// once at construction and once per restart; shared is never reallocated
// (spec §4.2 step 1: "new shared primitives are NOT allocated").
type HandleFactory func(shared *SharedState) WorkerHandle

// StageConfig wires a Stage's collaborators and tunables.
type StageConfig struct {
	Buffer              spanbuf.Buffer
	NewHandle           HandleFactory
	Next                NextStage
	MaxMemoryPercentage float64 // in (0, 1.0]; 1.0 disables the memory check
	MaxProcessRestarts  int     // 0 means MaxProcessRestarts
	JoinPollInterval    time.Duration
	Metrics             *Metrics
}

// Stage is the in-pipeline adapter described in spec §4.2: it forwards
// upstream traffic to Next, supervises the Worker's lifecycle, feeds it
// clock drift, and turns its backpressure signal (and the buffer's own
// memory pressure) into a retry-later signal for the upstream stage.
//
// Stage is not safe for concurrent use: like the pipeline stages it
// adapts, its operations run one at a time on the upstream stage's own
// thread (spec §5 "Scheduling model").
type Stage struct {
	cfg    StageConfig
	shared *SharedState
	handle WorkerHandle

	restarts     int
	redisWasFull bool
}

// NewStage constructs a Stage and starts its first Worker.
func NewStage(cfg StageConfig) (*Stage, error) {
	if cfg.NewHandle == nil {
		return nil, errors.New("flusher: StageConfig.NewHandle is required")
	}
	if cfg.Next == nil {
		return nil, errors.New("flusher: StageConfig.Next is required")
	}
	if cfg.MaxProcessRestarts <= 0 {
		cfg.MaxProcessRestarts = MaxProcessRestarts
	}
	if cfg.JoinPollInterval <= 0 {
		cfg.JoinPollInterval = 100 * time.Millisecond
	}
	if cfg.MaxMemoryPercentage <= 0 {
		cfg.MaxMemoryPercentage = 1.0
	}

	shared := NewSharedState()
	s := &Stage{cfg: cfg, shared: shared, handle: cfg.NewHandle(shared)}
	if err := s.handle.Start(); err != nil {
		return nil, fmt.Errorf("flusher: start worker: %w", err)
	}
	return s, nil
}

// Poll implements the stage contract: pure forwarding, no Worker interaction
// (spec §4.2 "poll").
func (s *Stage) Poll() error {
	return s.cfg.Next.Poll()
}

// Submit implements the stage contract's submit operation (spec §4.2).
func (s *Stage) Submit(ctx context.Context, msg Message) error {
	if !s.handle.IsAlive() {
		s.cfg.Metrics.incFlusherDead()
		if s.restarts >= s.cfg.MaxProcessRestarts {
			return fmt.Errorf("flusher: worker has crashed %d times and exhausted its restart budget; "+
				"search observability for component=flusher to find the original cause", s.restarts)
		}
		s.handle = s.cfg.NewHandle(s.shared)
		if err := s.handle.Start(); err != nil {
			return fmt.Errorf("flusher: restart worker: %w", err)
		}
		s.restarts++
	}

	if err := s.cfg.Buffer.RecordStoredSegments(ctx); err != nil {
		return fmt.Errorf("flusher: record stored segments: %w", err)
	}

	if s.shared.Backpressure.Load() {
		s.cfg.Metrics.incBackpressure()
		return ErrBackpressure
	}

	if ts, ok := msg.Payload.(int64); ok {
		drift := ts - time.Now().Unix()
		s.shared.Drift.Store(drift)
		s.cfg.Metrics.observeDrift(drift)
	}

	if s.cfg.MaxMemoryPercentage < 1.0 {
		infos, err := s.cfg.Buffer.MemoryInfo(ctx)
		if err != nil {
			return fmt.Errorf("flusher: memory info: %w", err)
		}
		var used, available int64
		for _, info := range infos {
			used += info.Used
			available += info.Available
		}
		if available > 0 && float64(used)/float64(available) > s.cfg.MaxMemoryPercentage {
			if !s.redisWasFull {
				log.Printf("component=flusher FATAL pausing consumer: buffer memory usage %d/%d exceeds threshold %.2f",
					used, available, s.cfg.MaxMemoryPercentage)
			}
			s.cfg.Metrics.incHardBackpressure()
			s.redisWasFull = true
			return ErrBackpressure
		}
	}
	s.redisWasFull = false

	return s.cfg.Next.Submit(msg)
}

// Terminate implements the stage contract: best-effort stop (spec §4.2).
func (s *Stage) Terminate() error {
	s.shared.StopFlag.Store(true)
	return s.cfg.Next.Terminate()
}

// Close implements the stage contract: best-effort stop (spec §4.2).
func (s *Stage) Close() error {
	s.shared.StopFlag.Store(true)
	return s.cfg.Next.Close()
}

// Join implements the stage contract's shutdown sequencing (spec §4.2
// "join"): the stop flag is set before joining Next so the Worker drains
// while the downstream stage also shuts down in parallel, then this stage
// busy-waits for the Worker to exit (or the deadline to pass), forcing
// termination if the Worker is still alive once the deadline is up.
func (s *Stage) Join(ctx context.Context, timeout time.Duration) error {
	s.shared.StopFlag.Store(true)

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	if err := s.cfg.Next.Join(ctx, timeout); err != nil {
		return fmt.Errorf("flusher: join next stage: %w", err)
	}

	ticker := time.NewTicker(s.cfg.JoinPollInterval)
	defer ticker.Stop()
	for s.handle.IsAlive() {
		if hasDeadline && !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.handle.Terminate()
			return ctx.Err()
		}
	}

	if s.handle.IsAlive() {
		s.handle.Terminate()
	}
	return nil
}

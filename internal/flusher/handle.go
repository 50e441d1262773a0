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
	"sync"
	"sync/atomic"
)

// WorkerFunc is the shape of the worker's entry point, abstracted so both
// isolation modes can start it the same way.
type WorkerFunc func(ctx context.Context, shared *SharedState) error

// WorkerHandle is how a Stage supervises a worker's lifecycle, regardless of
// whether it runs as a goroutine or a separate OS process.
type WorkerHandle interface {
	// IsAlive reports whether the worker is currently running.
	IsAlive() bool
	// Start launches (or relaunches) the worker.
	Start() error
	// Terminate asks the worker to stop without waiting for it to finish.
	Terminate()
	// Wait blocks until the worker has exited, returning its error (if any).
	Wait(ctx context.Context) error
}

// InProcessHandle runs the worker as a goroutine in the current process.
// Used by tests and as the default isolation mode: a worker error is
// returned through Wait, but a worker panic is not recovered and takes down
// the whole program; only the process-isolated mode contains crashes.
type InProcessHandle struct {
	run    WorkerFunc
	shared *SharedState

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
	alive  atomic.Bool
}

// NewInProcessHandle returns a handle that runs run as a goroutine on Start.
func NewInProcessHandle(run WorkerFunc, shared *SharedState) *InProcessHandle {
	return &InProcessHandle{run: run, shared: shared}
}

// IsAlive implements WorkerHandle.
func (h *InProcessHandle) IsAlive() bool { return h.alive.Load() }

// Start implements WorkerHandle.
func (h *InProcessHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	h.shared.StopFlag.Store(false)
	h.alive.Store(true)

	done := h.done
	go func() {
		err := h.run(ctx, h.shared)
		h.alive.Store(false)
		done <- err
	}()
	return nil
}

// Terminate implements WorkerHandle.
func (h *InProcessHandle) Terminate() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	h.shared.StopFlag.Store(true)
	if cancel != nil {
		cancel()
	}
}

// Wait implements WorkerHandle.
func (h *InProcessHandle) Wait(ctx context.Context) error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done == nil {
		return errors.New("worker handle: not started")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

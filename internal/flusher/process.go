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
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ReexecEnv is the environment variable the subprocess entry point (the
// same binary, re-invoked) checks to know it should run the worker loop
// instead of the normal service main. Set by ProcessHandle.Start.
const ReexecEnv = "SEGFLUSHER_WORKER_REEXEC"

// ProcessHandle runs the worker as a separate OS process, so a native crash
// in the producer library cannot take down the Stage's process (spec §9
// "Isolated worker vs in-process task"). SharedState crosses the process
// boundary over a Unix domain socket pair using the framed protocol in
// ipc.go rather than named shared memory, since three single-writer words
// do not need a real shared-memory layout.
type ProcessHandle struct {
	argv0  string
	args   []string
	shared *SharedState

	mu      sync.Mutex
	cmd     *exec.Cmd
	conn    *net.UnixConn
	done    chan struct{}
	waitErr error
	alive   atomic.Bool
	stopPmp chan struct{}
}

// NewProcessHandle returns a handle that re-execs argv0 with args plus
// ReexecEnv=1 set, each time Start is called.
func NewProcessHandle(argv0 string, args []string, shared *SharedState) *ProcessHandle {
	return &ProcessHandle{argv0: argv0, args: args, shared: shared}
}

// IsAlive implements WorkerHandle.
func (h *ProcessHandle) IsAlive() bool { return h.alive.Load() }

// Start implements WorkerHandle: it forks the subprocess, wires up the IPC
// socket pair, and starts the pumps that keep SharedState in sync across
// the boundary.
func (h *ProcessHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	parentConn, childFile, err := socketpair()
	if err != nil {
		return fmt.Errorf("flusher: process handle: socketpair: %w", err)
	}

	cmd := exec.Command(h.argv0, h.args...)
	cmd.Env = append(cmd.Environ(), ReexecEnv+"=1")
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		parentConn.Close()
		childFile.Close()
		return fmt.Errorf("flusher: process handle: start: %w", err)
	}
	childFile.Close()

	h.shared.StopFlag.Store(false)
	h.cmd = cmd
	h.conn = parentConn
	h.done = make(chan struct{})
	h.waitErr = nil
	h.stopPmp = make(chan struct{})
	h.alive.Store(true)

	go pumpStopAndDriftToConn(parentConn, h.shared, h.stopPmp, 50*time.Millisecond)
	go readIPCFramesLoop(parentConn, h.shared, func(error) {})

	done := h.done
	go func() {
		waitErr := cmd.Wait()
		parentConn.Close()
		h.mu.Lock()
		h.waitErr = waitErr
		h.mu.Unlock()
		h.alive.Store(false)
		close(done)
	}()
	return nil
}

// Terminate implements WorkerHandle: signals the whole process group so a
// subprocess that has itself forked children is also reaped.
func (h *ProcessHandle) Terminate() {
	h.mu.Lock()
	cmd, stopPmp := h.cmd, h.stopPmp
	h.mu.Unlock()

	h.shared.StopFlag.Store(true)
	if stopPmp != nil {
		select {
		case <-stopPmp:
		default:
			close(stopPmp)
		}
	}
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}

// Wait implements WorkerHandle.
func (h *ProcessHandle) Wait(ctx context.Context) error {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done == nil {
		return fmt.Errorf("flusher: process handle: not started")
	}
	select {
	case <-done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// socketpair returns a connected *net.UnixConn for the parent side and a
// raw *os.File for the child side, suitable for handing to exec.Cmd's
// ExtraFiles across a fork/exec boundary.
func socketpair() (*net.UnixConn, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "ipc-parent")
	childFile := os.NewFile(uintptr(fds[1]), "ipc-child")

	parentFileConn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		childFile.Close()
		return nil, nil, fmt.Errorf("file conn: %w", err)
	}
	return parentFileConn.(*net.UnixConn), childFile, nil
}

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
	"time"
)

// ipcFD is the file descriptor the parent hands the re-exec'd child in
// ExtraFiles[0]; os/exec places ExtraFiles starting at fd 3 (after stdin,
// stdout, stderr).
const ipcFD = 3

// RunSubprocessWorker is the entry point cmd/segflusher calls when
// ReexecEnv is set: it owns a process-local SharedState kept in sync with
// the parent over the inherited IPC socket, then runs the ordinary worker
// loop against it. Returns the loop's error, or nil on graceful stop.
func RunSubprocessWorker(cfg WorkerConfig) error {
	conn, err := net.FileConn(os.NewFile(uintptr(ipcFD), "ipc-child"))
	if err != nil {
		return fmt.Errorf("flusher: subprocess: attach ipc: %w", err)
	}
	defer conn.Close()

	shared := NewSharedState()
	stop := make(chan struct{})
	defer close(stop)

	go readIPCFramesLoop(conn, shared, func(error) {
		shared.StopFlag.Store(true)
	})
	go pumpBackpressureToConn(conn, shared, stop, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if shared.StopFlag.Load() {
					cancel()
					return
				}
			}
		}
	}()

	return Run(ctx, shared, cfg)
}

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

// Package sink publishes encoded segment payloads downstream. Publish
// returns immediately with a CompletionHandle; the flusher worker fans out
// a batch of publishes, then waits on every handle before acknowledging the
// batch against the buffer (spec §4.1 steps 5-7).
package sink

import "context"

// CompletionHandle is a single in-flight publish. Wait blocks until the
// publish has either succeeded or permanently failed.
type CompletionHandle interface {
	Wait(ctx context.Context) error
}

// Sink is the downstream collaborator described in spec §6.
type Sink interface {
	// Publish submits payload, keyed by segment key for partitioning and
	// diagnostics, and returns a handle that resolves once the broker (or
	// equivalent) has accepted or rejected it.
	Publish(ctx context.Context, key string, payload []byte) (CompletionHandle, error)

	// Close releases the sink's resources. Safe to call once, after every
	// outstanding CompletionHandle has resolved.
	Close() error
}

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

package ledger

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process Ledger for tests: a plain set of
// (key, commitID) pairs guarded by a mutex, the same shape as the
// in-memory reference doubles in spanbuf and sink.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]struct{}
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]struct{})}
}

// RecordDelivered implements Ledger.
func (l *MemoryLedger) RecordDelivered(_ context.Context, key string, commitID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key + "\x00" + commitID
	_, dup := l.entries[k]
	l.entries[k] = struct{}{}
	return dup, nil
}

// Close implements Ledger.
func (l *MemoryLedger) Close() {}

// Count returns how many distinct (key, commitID) pairs have been recorded.
// Test-only helper.
func (l *MemoryLedger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

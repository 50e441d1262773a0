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

package sink

import (
	"context"
	"log"

	"segflusher/internal/ledger"
)

// ledgerHandle resolves the wrapped publish first, then records the
// delivery in the ledger. Ledger bookkeeping failures are logged but never
// fail the publish itself — the ledger is a best-effort duplicate detector,
// not a commit protocol (spec §9, open question on duplicate-on-failure
// semantics).
type ledgerHandle struct {
	inner    CompletionHandle
	ledger   ledger.Ledger
	key      string
	commitID string
}

func (h *ledgerHandle) Wait(ctx context.Context) error {
	if err := h.inner.Wait(ctx); err != nil {
		return err
	}
	dup, err := h.ledger.RecordDelivered(ctx, h.key, h.commitID)
	if err != nil {
		log.Printf("component=flusher ledger record failed key=%s: %v", h.key, err)
		return nil
	}
	if dup {
		log.Printf("component=flusher duplicate delivery detected key=%s commit=%s", h.key, h.commitID)
	}
	return nil
}

// LedgerRecordingSink wraps a Sink, recording every successfully delivered
// segment key in a ledger.Ledger so downstream consumers (or operators) can
// cross-check which keys have already been seen on the topic at least once.
// It never consults the ledger to decide whether to publish — publishing is
// always attempted, matching the spec's duplicate-on-crash semantics.
type LedgerRecordingSink struct {
	Sink
	Ledger ledger.Ledger
}

// NewLedgerRecordingSink wraps inner so every delivery is also recorded in l.
func NewLedgerRecordingSink(inner Sink, l ledger.Ledger) *LedgerRecordingSink {
	return &LedgerRecordingSink{Sink: inner, Ledger: l}
}

// Publish implements Sink.
func (s *LedgerRecordingSink) Publish(ctx context.Context, key string, payload []byte) (CompletionHandle, error) {
	h, err := s.Sink.Publish(ctx, key, payload)
	if err != nil {
		return nil, err
	}
	return &ledgerHandle{inner: h, ledger: s.Ledger, key: key, commitID: ledger.NewCommitID()}, nil
}

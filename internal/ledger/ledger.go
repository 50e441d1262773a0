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

// Package ledger is an optional delivery ledger recording which segment
// keys have already been published. It exists to give downstream idempotent
// consumers a cheap way to detect the duplicate deliveries spec §8 allows
// after a worker crash between publish and acknowledge — the flusher itself
// never consults it to decide whether to publish.
package ledger

import "context"

// Ledger records delivered segment keys. RecordDelivered returns
// alreadyRecorded=true when the same (key, commitID) pair was already
// recorded; the same key under a different commitID is not a duplicate.
type Ledger interface {
	RecordDelivered(ctx context.Context, key string, commitID string) (alreadyRecorded bool, err error)
	Close()
}

// NoopLedger keeps no state; every delivery looks novel.
type NoopLedger struct{}

func (NoopLedger) RecordDelivered(context.Context, string, string) (bool, error) { return false, nil }
func (NoopLedger) Close()                                                        {}

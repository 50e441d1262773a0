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
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is executed once by NewPostgresLedger. Kept tiny and idempotent so
// the demo binary can point at an empty database.
const schema = `
CREATE TABLE IF NOT EXISTS delivered_segments (
	segment_key TEXT NOT NULL,
	commit_id   TEXT NOT NULL,
	delivered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (segment_key, commit_id)
)`

const insertDelivery = `
INSERT INTO delivered_segments (segment_key, commit_id)
VALUES ($1, $2)
ON CONFLICT (segment_key, commit_id) DO NOTHING`

// PostgresLedger is a pgx/v5-backed Ledger. The idempotent-insert shape
// mirrors the teacher's demo Postgres persister
// (internal/ratelimiter/persistence/postgres.go): an ON CONFLICT DO NOTHING
// upsert whose affected-row count tells us whether this is a first sighting.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to dsn and ensures the ledger table exists.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}
	return &PostgresLedger{pool: pool}, nil
}

// NewCommitID generates a fresh identifier for one delivery attempt,
// replacing the teacher's crypto/rand-based randomID() with google/uuid.
func NewCommitID() string {
	return uuid.NewString()
}

// RecordDelivered implements Ledger.
func (l *PostgresLedger) RecordDelivered(ctx context.Context, key string, commitID string) (bool, error) {
	tag, err := l.pool.Exec(ctx, insertDelivery, key, commitID)
	if err != nil {
		return false, fmt.Errorf("ledger: record key=%s: %w", key, err)
	}
	return tag.RowsAffected() == 0, nil
}

// Close implements Ledger.
func (l *PostgresLedger) Close() {
	l.pool.Close()
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable analytics fact. Once accepted by the ingestion
// pipeline it is never mutated; it disappears only when its project is
// deleted (ON DELETE CASCADE).
type Event struct {
	ID        uuid.UUID      `json:"id"`
	ProjectID uuid.UUID      `json:"project_id"`
	Name      string         `json:"name"`
	TS        time.Time      `json:"ts"`
	Props     map[string]any `json:"props"`
	UserID    *string        `json:"user_id,omitempty"`
	Seq       *int           `json:"seq,omitempty"`

	// IdempotencyKey deduplicates retried submissions: a second insert
	// with the same (project_id, idempotency_key) is silently absorbed.
	IdempotencyKey *string `json:"idempotency_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RollupBucket is a minute-aligned event count for one project. Buckets
// are recomputed every rollup cycle and never persisted.
type RollupBucket struct {
	ProjectID   uuid.UUID
	BucketStart time.Time
	Count       int
}

// SeriesPoint is one bucket of a count time series as served to clients.
type SeriesPoint struct {
	TS    string `json:"ts"`
	Value int    `json:"value"`
}

// ProjectCredential is what the credential store resolves an API key id
// to. Secret is the HMAC key material shared with the client SDK; the
// provisioning secret itself is never stored in plaintext.
type ProjectCredential struct {
	ProjectID uuid.UUID
	Secret    []byte
}

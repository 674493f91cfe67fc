package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/model"
)

// Pagination bounds shared by both modes.
const (
	MinPageLimit = 1
	MaxPageLimit = 200
)

// EventFilter narrows a project's event history. Zero-valued fields are
// ignored. Since is inclusive, Until exclusive. PropsContains matches
// events whose props object is a superset of the given object
// (containment, not substring).
type EventFilter struct {
	ProjectID     uuid.UUID
	Names         []string
	UserID        *string
	Since         *time.Time
	Until         *time.Time
	PropsContains map[string]any
}

// Cursor is a keyset-pagination position: the (ts, id) sort key of the
// last row already returned under the (ts DESC, id DESC) total order.
type Cursor struct {
	AfterTS time.Time
	AfterID uuid.UUID
}

// EventStore is the durable, ordered event collection.
type EventStore interface {
	// BulkInsert appends a batch atomically, suppressing rows whose
	// (project_id, idempotency_key) already exists, and returns the
	// number of rows actually inserted.
	BulkInsert(ctx context.Context, events []model.Event) (int, error)

	// ListOffset returns one page ordered by (ts DESC, id DESC) plus
	// the total count matching the filter. Page and total are computed
	// independently and may diverge under concurrent writes.
	ListOffset(ctx context.Context, f EventFilter, limit, offset int) ([]model.Event, int64, error)

	// ListKeyset returns up to limit rows strictly after the cursor
	// under (ts DESC, id DESC), plus the cursor for the next page, or
	// nil when the page came back empty.
	ListKeyset(ctx context.Context, f EventFilter, limit int, after Cursor) ([]model.Event, *Cursor, error)

	// RollupSince counts events with ts >= since grouped by project and
	// minute-truncated ts.
	RollupSince(ctx context.Context, since time.Time) ([]model.RollupBucket, error)

	// CountSeries returns the most recent hourly event counts for a
	// project, oldest bucket first.
	CountSeries(ctx context.Context, projectID uuid.UUID, limit int) ([]model.SeriesPoint, error)
}

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/event-pipeline/internal/auth"
	"github.com/PratikDhanave/event-pipeline/internal/model"
)

// schemaSQL is embedded so the service can self-bootstrap its database.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable persistence layer. One pool is shared by
// all concurrent requests and the rollup worker; every operation
// acquires a connection for its duration only.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ EventStore = (*PostgresStore)(nil)
var _ auth.CredentialStore = (*PostgresStore)(nil)

// NewPostgresStore creates a connection pool and fails fast if the
// database is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by the readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Resolve looks up the project owning an API key id. Implements
// auth.CredentialStore; the stored digest is the HMAC key material.
func (p *PostgresStore) Resolve(ctx context.Context, apiKeyID string) (model.ProjectCredential, error) {
	var cred model.ProjectCredential
	err := p.pool.QueryRow(ctx, `
		SELECT id, api_key_hash FROM projects WHERE api_key_id = $1
	`, apiKeyID).Scan(&cred.ProjectID, &cred.Secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ProjectCredential{}, auth.ErrUnknownKey
	}
	if err != nil {
		return model.ProjectCredential{}, fmt.Errorf("resolving api key: %w", err)
	}
	return cred, nil
}

// BulkInsert appends a batch in one statement. Rows whose
// (project_id, idempotency_key) already exists are suppressed by the
// partial unique index; RowsAffected is therefore the accepted count.
// The single statement makes the batch all-or-nothing: either every
// non-duplicate row commits or none do.
func (p *PostgresStore) BulkInsert(ctx context.Context, events []model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO events (id, project_id, name, ts, props, user_id, seq, idempotency_key) VALUES `)

	args := make([]any, 0, len(events)*8)
	for i, e := range events {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 8
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)

		props, err := json.Marshal(e.Props)
		if err != nil {
			return 0, fmt.Errorf("encoding props: %w", err)
		}
		args = append(args, e.ID, e.ProjectID, e.Name, e.TS.UTC(), props, e.UserID, e.Seq, e.IdempotencyKey)
	}

	sb.WriteString(` ON CONFLICT (project_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`)

	tag, err := p.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("bulk insert: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// filterSQL renders an EventFilter into WHERE conditions with $n
// placeholders continuing after the given arg list.
func filterSQL(f EventFilter, args []any) (string, []any) {
	conds := make([]string, 0, 6)

	args = append(args, f.ProjectID)
	conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))

	if len(f.Names) > 0 {
		args = append(args, f.Names)
		conds = append(conds, fmt.Sprintf("name = ANY($%d)", len(args)))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Since != nil {
		args = append(args, f.Since.UTC())
		conds = append(conds, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if f.Until != nil {
		args = append(args, f.Until.UTC())
		conds = append(conds, fmt.Sprintf("ts < $%d", len(args)))
	}
	if len(f.PropsContains) > 0 {
		// jsonb containment: props must be a superset of the filter.
		encoded, _ := json.Marshal(f.PropsContains)
		args = append(args, string(encoded))
		conds = append(conds, fmt.Sprintf("props @> $%d::jsonb", len(args)))
	}

	return strings.Join(conds, " AND "), args
}

const eventColumns = "id, project_id, name, ts, props, user_id, seq, idempotency_key, created_at, updated_at"

func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var props []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.TS, &props,
			&e.UserID, &e.Seq, &e.IdempotencyKey, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(props, &e.Props); err != nil {
			return nil, fmt.Errorf("decoding props: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListOffset returns one page plus the independent total count. Total
// and page are separate statements and are not transactionally
// consistent with each other under concurrent writes.
func (p *PostgresStore) ListOffset(ctx context.Context, f EventFilter, limit, offset int) ([]model.Event, int64, error) {
	where, args := filterSQL(f, nil)

	var total int64
	if err := p.pool.QueryRow(ctx,
		"SELECT count(*) FROM events WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	args = append(args, limit, offset)
	q := fmt.Sprintf("SELECT %s FROM events WHERE %s ORDER BY ts DESC, id DESC LIMIT $%d OFFSET $%d",
		eventColumns, where, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("listing events: %w", err)
	}
	return events, total, nil
}

// ListKeyset returns rows strictly after the cursor under the
// (ts DESC, id DESC) total order. Stable under concurrent inserts of
// newer events: pages already fetched are never skipped or duplicated.
func (p *PostgresStore) ListKeyset(ctx context.Context, f EventFilter, limit int, after Cursor) ([]model.Event, *Cursor, error) {
	where, args := filterSQL(f, nil)

	args = append(args, after.AfterTS.UTC())
	tsArg := len(args)
	args = append(args, after.AfterID)
	idArg := len(args)
	args = append(args, limit)

	q := fmt.Sprintf(
		"SELECT %s FROM events WHERE %s AND (ts < $%d OR (ts = $%d AND id < $%d)) ORDER BY ts DESC, id DESC LIMIT $%d",
		eventColumns, where, tsArg, tsArg, idArg, len(args))
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("listing events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("listing events: %w", err)
	}

	var next *Cursor
	if len(events) > 0 {
		last := events[len(events)-1]
		next = &Cursor{AfterTS: last.TS, AfterID: last.ID}
	}
	return events, next, nil
}

// RollupSince feeds the rollup worker: per-project per-minute counts
// for everything with ts at or after since.
func (p *PostgresStore) RollupSince(ctx context.Context, since time.Time) ([]model.RollupBucket, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT project_id, date_trunc('minute', ts) AS bucket, count(*)::int AS value
		FROM events
		WHERE ts >= $1
		GROUP BY 1, 2
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("rollup query: %w", err)
	}
	defer rows.Close()

	var buckets []model.RollupBucket
	for rows.Next() {
		var b model.RollupBucket
		if err := rows.Scan(&b.ProjectID, &b.BucketStart, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// CountSeries returns the project's most recent hourly counts, oldest
// bucket first.
func (p *PostgresStore) CountSeries(ctx context.Context, projectID uuid.UUID, limit int) ([]model.SeriesPoint, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT date_trunc('hour', ts) AS bucket, count(*)::int AS value
		FROM events
		WHERE project_id = $1
		GROUP BY 1
		ORDER BY 1 DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("series query: %w", err)
	}
	defer rows.Close()

	var series []model.SeriesPoint
	for rows.Next() {
		var bucket time.Time
		var value int
		if err := rows.Scan(&bucket, &value); err != nil {
			return nil, err
		}
		series = append(series, model.SeriesPoint{
			TS:    bucket.UTC().Format("2006-01-02T15:04:05Z"),
			Value: value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query orders newest-first so LIMIT keeps recent buckets;
	// clients receive the series oldest-first.
	for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
		series[i], series[j] = series[j], series[i]
	}
	return series, nil
}

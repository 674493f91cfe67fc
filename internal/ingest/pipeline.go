// Package ingest validates, normalizes, and persists batches of
// client-submitted events.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/model"
	"github.com/PratikDhanave/event-pipeline/internal/store"
)

// Batch and field limits. A batch of exactly MaxBatchSize is accepted;
// one more is rejected before any insert.
const (
	MaxBatchSize  = 1000
	MaxNameLen    = 200
	MaxUserIDLen  = 200
	MaxIdemKeyLen = 64
	MaxPropsBytes = 10000
	MaxPropsDepth = 5
)

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	idemKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// userIDSanitizer strips characters that could enable injection in
	// downstream contexts.
	userIDSanitizer = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "")
)

// EventSpec is one client-submitted event before validation.
type EventSpec struct {
	ID             string         `json:"id,omitempty"`
	Name           string         `json:"name"`
	TS             string         `json:"ts,omitempty"`
	UserID         *string        `json:"user_id,omitempty"`
	Props          map[string]any `json:"props,omitempty"`
	Seq            *int           `json:"seq,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
}

// FieldError identifies one invalid field in a batch. Index is the
// position of the offending entry, or -1 for batch-level failures.
type FieldError struct {
	Index int    `json:"index"`
	Field string `json:"field"`
	Msg   string `json:"error"`
}

// ValidationError aggregates every field failure in a batch. Any single
// failure rejects the whole batch before any row is written.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		f := e.Fields[0]
		return fmt.Sprintf("invalid batch: entry %d field %q: %s", f.Index, f.Field, f.Msg)
	}
	return fmt.Sprintf("invalid batch: %d invalid fields", len(e.Fields))
}

// Pipeline turns validated batches into one bulk insert.
type Pipeline struct {
	store store.EventStore
	now   func() time.Time
}

func New(st store.EventStore) *Pipeline {
	return &Pipeline{store: st, now: time.Now}
}

// Ingest validates and persists a batch for one project and returns the
// number of rows actually inserted, which is less than the batch size
// when idempotency keys suppressed duplicates. The write is a single
// bulk insert: a store failure leaves no partial rows.
func (p *Pipeline) Ingest(ctx context.Context, projectID uuid.UUID, specs []EventSpec) (int, error) {
	if len(specs) == 0 {
		return 0, &ValidationError{Fields: []FieldError{
			{Index: -1, Field: "events", Msg: "batch must not be empty"},
		}}
	}
	if len(specs) > MaxBatchSize {
		return 0, &ValidationError{Fields: []FieldError{
			{Index: -1, Field: "events", Msg: fmt.Sprintf("batch exceeds %d entries", MaxBatchSize)},
		}}
	}

	events := make([]model.Event, 0, len(specs))
	var fieldErrs []FieldError
	for i, spec := range specs {
		e, errs := p.normalize(projectID, spec)
		if len(errs) > 0 {
			for _, fe := range errs {
				fe.Index = i
				fieldErrs = append(fieldErrs, fe)
			}
			continue
		}
		events = append(events, e)
	}
	if len(fieldErrs) > 0 {
		return 0, &ValidationError{Fields: fieldErrs}
	}

	inserted, err := p.store.BulkInsert(ctx, events)
	if err != nil {
		return 0, fmt.Errorf("persisting batch: %w", err)
	}
	return inserted, nil
}

// normalize validates one spec and shapes it into a storable event.
// Returned field errors have Index unset; the caller fills it in.
func (p *Pipeline) normalize(projectID uuid.UUID, spec EventSpec) (model.Event, []FieldError) {
	var errs []FieldError

	e := model.Event{
		ProjectID: projectID,
		Seq:       spec.Seq,
		Props:     spec.Props,
	}

	if spec.ID != "" {
		id, err := uuid.Parse(spec.ID)
		if err != nil {
			errs = append(errs, FieldError{Field: "id", Msg: "must be a UUID"})
		} else {
			e.ID = id
		}
	} else {
		e.ID = uuid.New()
	}

	name := strings.TrimSpace(spec.Name)
	switch {
	case name == "":
		errs = append(errs, FieldError{Field: "name", Msg: "required"})
	case len(name) > MaxNameLen:
		errs = append(errs, FieldError{Field: "name", Msg: fmt.Sprintf("longer than %d characters", MaxNameLen)})
	case !nameRe.MatchString(name):
		errs = append(errs, FieldError{Field: "name", Msg: "allowed characters are letters, digits, '_', '.', '-'"})
	default:
		e.Name = name
	}

	if spec.TS == "" {
		e.TS = p.now().UTC()
	} else if ts, err := parseTS(spec.TS); err != nil {
		errs = append(errs, FieldError{Field: "ts", Msg: "must be an ISO8601 timestamp"})
	} else {
		e.TS = ts
	}

	if spec.UserID != nil {
		if len(*spec.UserID) > MaxUserIDLen {
			errs = append(errs, FieldError{Field: "user_id", Msg: fmt.Sprintf("longer than %d characters", MaxUserIDLen)})
		} else if cleaned := strings.TrimSpace(userIDSanitizer.Replace(*spec.UserID)); cleaned != "" {
			e.UserID = &cleaned
		}
	}

	if e.Props == nil {
		e.Props = map[string]any{}
	}
	if exceedsDepth(e.Props, 0) {
		errs = append(errs, FieldError{Field: "props", Msg: fmt.Sprintf("nested deeper than %d levels", MaxPropsDepth)})
	} else if raw, err := json.Marshal(e.Props); err != nil {
		errs = append(errs, FieldError{Field: "props", Msg: "not serializable"})
	} else if len(raw) > MaxPropsBytes {
		errs = append(errs, FieldError{Field: "props", Msg: fmt.Sprintf("serialized form exceeds %d bytes", MaxPropsBytes)})
	}

	if spec.IdempotencyKey != nil {
		key := *spec.IdempotencyKey
		switch {
		case key == "" || len(key) > MaxIdemKeyLen:
			errs = append(errs, FieldError{Field: "idempotency_key", Msg: fmt.Sprintf("must be 1-%d characters", MaxIdemKeyLen)})
		case !idemKeyRe.MatchString(key):
			errs = append(errs, FieldError{Field: "idempotency_key", Msg: "allowed characters are letters, digits, '_', '-'"})
		default:
			e.IdempotencyKey = &key
		}
	}

	return e, errs
}

// tsLayoutNaive covers offset-less ISO8601 input; fractional seconds
// are accepted without being named in the layout.
const tsLayoutNaive = "2006-01-02T15:04:05"

// parseTS accepts ISO8601 timestamps with or without a timezone
// offset. Offset-aware input is converted to UTC; naive input is
// interpreted as already UTC. Stored timezone-naive either way.
func parseTS(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	return time.ParseInLocation(tsLayoutNaive, s, time.UTC)
}

// exceedsDepth reports whether any container nests deeper than
// MaxPropsDepth levels.
func exceedsDepth(v any, depth int) bool {
	if depth > MaxPropsDepth {
		return true
	}
	switch vv := v.(type) {
	case map[string]any:
		for _, child := range vv {
			if exceedsDepth(child, depth+1) {
				return true
			}
		}
	case []any:
		for _, child := range vv {
			if exceedsDepth(child, depth+1) {
				return true
			}
		}
	}
	return false
}

// Package manifest is the durable state store tracking every document's
// progress through the pipeline. All mutation is append-progress-only: a
// record's stage can advance but never regress, so concurrent writers from
// different stages cannot corrupt each other's completions.
package manifest

import (
	"context"

	"github.com/sells-group/sec-digest-cli/internal/model"
)

// Filter specifies criteria for querying documents.
type Filter struct {
	Stage model.Stage `json:"stage,omitempty"`
	Era   string      `json:"era,omitempty"`
	Limit int         `json:"limit,omitempty"`
}

// Summary counts records per stage and, for failed records, per reason.
type Summary struct {
	ByStage  map[model.Stage]int `json:"by_stage"`
	ByReason map[string]int      `json:"by_reason"`
	Total    int                 `json:"total"`
}

// Store is the persistence contract for the manifest. Every mutation is
// durable before the call returns.
type Store interface {
	// Upsert inserts the record or merges it into an existing one with the
	// same ID. Only forward progress is merged: a later stage, a higher
	// retry count, a newly recorded error. A backward stage transition is a
	// no-op, logged as a conflict.
	Upsert(ctx context.Context, rec model.DocumentRecord) error

	// MarkFailed transitions a record to the failed stage, recording which
	// stage failed and why. Prior successful-stage artifacts are kept.
	MarkFailed(ctx context.Context, id string, stage model.Stage, reason string) error

	// Get returns the record with the given ID, or nil if absent.
	Get(ctx context.Context, id string) (*model.DocumentRecord, error)

	// Query returns records matching the filter, ordered by date ascending.
	Query(ctx context.Context, f Filter) ([]model.DocumentRecord, error)

	// Summary returns per-stage and per-failure-reason counts.
	Summary(ctx context.Context) (*Summary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Package storage defines persistence contracts for the fault pipeline.
package storage

import (
	"context"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// LogRepository persists classified log entries. The log sink treats it as
// a best-effort collaborator: a failed write re-queues entries rather than
// surfacing to the code that raised the fault.
type LogRepository interface {
	// InsertMany writes a batch of entries.
	InsertMany(ctx context.Context, entries []*domain.LogEntry) error

	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, filter domain.LogFilter) ([]*domain.LogEntry, error)

	// DeleteOlderThan removes entries logged before the cutoff and returns
	// the number deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Count returns the total number of stored entries.
	Count(ctx context.Context) (int, error)
}

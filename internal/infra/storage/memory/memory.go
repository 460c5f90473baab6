// Package memory provides an in-memory log repository, used when no
// database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// LogRepo implements storage.LogRepository in memory.
type LogRepo struct {
	mu      sync.RWMutex
	entries []*domain.LogEntry
}

// NewLogRepo creates an empty in-memory log repository.
func NewLogRepo() *LogRepo {
	return &LogRepo{}
}

// InsertMany appends entries to the store. Entries whose ID is already
// stored are skipped, matching the database's primary key semantics.
func (r *LogRepo) InsertMany(ctx context.Context, entries []*domain.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool, len(r.entries))
	for _, existing := range r.entries {
		seen[existing.ID] = true
	}
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		c := *e
		r.entries = append(r.entries, &c)
	}
	return nil
}

// Query returns entries matching the filter, newest first.
func (r *LogRepo) Query(ctx context.Context, filter domain.LogFilter) ([]*domain.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*domain.LogEntry, 0)
	for _, e := range r.entries {
		if Matches(e, filter) {
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].LoggedAt.After(matched[j].LoggedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// DeleteOlderThan removes entries logged before the cutoff.
func (r *LogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*domain.LogEntry, 0, len(r.entries))
	var deleted int64
	for _, e := range r.entries {
		if e.LoggedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return deleted, nil
}

// Count returns the number of stored entries.
func (r *LogRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}

// Matches reports whether an entry satisfies the filter. Exported for reuse
// by the log sink's in-buffer queries.
func Matches(e *domain.LogEntry, filter domain.LogFilter) bool {
	if !filter.From.IsZero() && e.LoggedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && e.LoggedAt.After(filter.To) {
		return false
	}
	if filter.Severity != "" && e.Fault.Severity != filter.Severity {
		return false
	}
	if filter.Category != "" && e.Fault.Category != filter.Category {
		return false
	}
	if filter.Module != "" && e.Fault.Module != filter.Module {
		return false
	}
	if filter.UserID != "" && e.UserID != filter.UserID {
		return false
	}
	return true
}

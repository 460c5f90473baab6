// Package logsink buffers classified faults and flushes them to persistent
// storage and the external logging endpoint on a fixed interval.
package logsink

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/faultline/internal/core/classify"
	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/infra/external"
	"github.com/vietddude/faultline/internal/infra/storage"
	"github.com/vietddude/faultline/internal/infra/storage/memory"
	"github.com/vietddude/faultline/internal/metrics"
)

// DefaultFlushInterval is the periodic flush cadence.
const DefaultFlushInterval = 30 * time.Second

// Config holds log sink settings.
type Config struct {
	EnableConsole  bool
	EnableDatabase bool
	EnableExternal bool
	MinSeverity    domain.Severity
	MaxEntries     int
	RetentionDays  int
	FlushInterval  time.Duration
}

// CriticalNotifier is the dispatcher's immediate-notify path, invoked by
// LogCritical independently of the orchestrator.
type CriticalNotifier interface {
	NotifyCritical(ctx context.Context, fault *domain.Fault, extra map[string]any) []domain.DeliveryResult
}

// EntryMeta carries optional delivery metadata for a log entry.
type EntryMeta struct {
	UserID    string
	SessionID string
	RequestID string
	UserAgent string
	IPAddress string
}

// Sink is the buffered log sink. All methods are safe for concurrent use.
type Sink struct {
	cfg     Config
	repo    storage.LogRepository
	shipper *external.Client
	log     *slog.Logger

	mu          sync.Mutex
	buffer      []*domain.LogEntry
	notifier    CriticalNotifier
	acceptedDB  map[string]bool
	acceptedExt map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sink. repo may be nil when database logging is disabled;
// shipper may be nil when external logging is disabled.
func New(cfg Config, repo storage.LogRepository, shipper *external.Client) *Sink {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if !cfg.MinSeverity.Valid() {
		cfg.MinSeverity = domain.SeverityLow
	}
	return &Sink{
		cfg:         cfg,
		repo:        repo,
		shipper:     shipper,
		log:         slog.Default().With("component", "logsink"),
		acceptedDB:  make(map[string]bool),
		acceptedExt: make(map[string]bool),
	}
}

// SetCriticalNotifier wires the dispatcher's immediate-notify path. Called
// once during pipeline assembly.
func (s *Sink) SetCriticalNotifier(n CriticalNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Log classifies the fault if needed, buffers a log entry, and mirrors it to
// the console sink. A critical fault triggers an immediate flush instead of
// waiting for the periodic one.
func (s *Sink) Log(ctx context.Context, fault *domain.Fault, meta EntryMeta) *domain.LogEntry {
	classified := classify.Fault(fault)
	if !classified.Severity.AtLeast(s.cfg.MinSeverity) {
		return nil
	}

	entry := &domain.LogEntry{
		ID:        uuid.NewString(),
		Fault:     classified,
		UserID:    meta.UserID,
		SessionID: meta.SessionID,
		RequestID: meta.RequestID,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		LoggedAt:  time.Now(),
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, entry)
	// Bound the in-memory buffer, dropping oldest first.
	if len(s.buffer) > s.cfg.MaxEntries {
		dropped := s.buffer[:len(s.buffer)-s.cfg.MaxEntries]
		s.forgetLocked(dropped)
		s.buffer = s.buffer[len(s.buffer)-s.cfg.MaxEntries:]
	}
	metrics.BufferSize.Set(float64(len(s.buffer)))
	s.mu.Unlock()

	metrics.FaultsLogged.WithLabelValues(
		string(classified.Severity),
		string(classified.Category),
		classified.Module,
	).Inc()

	if s.cfg.EnableConsole {
		s.mirror(classified, entry)
	}

	if classified.Severity == domain.SeverityCritical {
		go func() {
			if err := s.Flush(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("Immediate flush failed", "error", err)
			}
		}()
	}

	return entry
}

// LogCritical forces the fault's severity to critical, logs it, and invokes
// the dispatcher's immediate-notify path directly.
func (s *Sink) LogCritical(ctx context.Context, fault *domain.Fault, meta EntryMeta) *domain.LogEntry {
	forced := *fault
	forced.Severity = domain.SeverityCritical
	entry := s.Log(ctx, &forced, meta)

	s.mu.Lock()
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil && entry != nil {
		// Fire-and-forget: notification failures never reach the caller.
		go notifier.NotifyCritical(context.WithoutCancel(ctx), entry.Fault, nil)
	}
	return entry
}

func (s *Sink) mirror(f *domain.Fault, entry *domain.LogEntry) {
	args := []any{
		"code", f.Code,
		"category", string(f.Category),
		"module", f.Module,
		"entry_id", entry.ID,
	}
	switch f.Severity {
	case domain.SeverityCritical, domain.SeverityHigh:
		s.log.Error(f.Message, args...)
	case domain.SeverityMedium:
		s.log.Warn(f.Message, args...)
	default:
		s.log.Info(f.Message, args...)
	}
}

// Flush drains the buffer to persistent storage and the external endpoint.
// On failure the drained entries are re-queued at the front of the buffer so
// no entry is ever lost and chronological order is preserved. A target that
// already accepted an entry on an earlier attempt is skipped on the retry,
// so a flaky external endpoint never produces duplicate database rows and
// vice versa.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	drained := s.buffer
	s.buffer = nil
	metrics.BufferSize.Set(0)
	s.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	var flushErr error
	dbOK := true
	if s.cfg.EnableDatabase && s.repo != nil {
		if err := s.repo.InsertMany(ctx, s.pendingFor(s.acceptedDB, drained)); err != nil {
			metrics.FlushFailures.WithLabelValues("database").Inc()
			flushErr = err
			dbOK = false
		}
	}
	extOK := true
	if s.cfg.EnableExternal && s.shipper != nil {
		if err := s.shipper.Post(ctx, s.pendingFor(s.acceptedExt, drained)); err != nil {
			metrics.FlushFailures.WithLabelValues("external").Inc()
			if flushErr == nil {
				flushErr = err
			}
			extOK = false
		}
	}

	if flushErr != nil {
		s.mu.Lock()
		if dbOK {
			for _, e := range drained {
				s.acceptedDB[e.ID] = true
			}
		}
		if extOK {
			for _, e := range drained {
				s.acceptedExt[e.ID] = true
			}
		}
		s.buffer = append(drained, s.buffer...)
		metrics.BufferSize.Set(float64(len(s.buffer)))
		s.mu.Unlock()
		s.log.Warn("Flush failed, entries re-queued", "count", len(drained), "error", flushErr)
		return flushErr
	}

	s.mu.Lock()
	s.forgetLocked(drained)
	s.mu.Unlock()
	return nil
}

// pendingFor filters out entries the target already accepted on a previous
// partially failed flush.
func (s *Sink) pendingFor(accepted map[string]bool, drained []*domain.LogEntry) []*domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(accepted) == 0 {
		return drained
	}
	pending := make([]*domain.LogEntry, 0, len(drained))
	for _, e := range drained {
		if !accepted[e.ID] {
			pending = append(pending, e)
		}
	}
	return pending
}

// forgetLocked drops per-target acceptance marks for entries that either
// flushed everywhere or left the buffer for good.
func (s *Sink) forgetLocked(entries []*domain.LogEntry) {
	for _, e := range entries {
		delete(s.acceptedDB, e.ID)
		delete(s.acceptedExt, e.ID)
	}
}

// Query returns buffered and persisted entries matching the filter, newest
// first, with offset/limit pagination.
func (s *Sink) Query(ctx context.Context, filter domain.LogFilter) ([]*domain.LogEntry, error) {
	paged := filter
	paged.Offset = 0
	paged.Limit = 0

	seen := make(map[string]bool)
	var matched []*domain.LogEntry

	s.mu.Lock()
	for _, e := range s.buffer {
		if memory.Matches(e, paged) {
			matched = append(matched, e)
			seen[e.ID] = true
		}
	}
	s.mu.Unlock()

	if s.cfg.EnableDatabase && s.repo != nil {
		persisted, err := s.repo.Query(ctx, paged)
		if err != nil {
			return nil, err
		}
		for _, e := range persisted {
			if !seen[e.ID] {
				matched = append(matched, e)
			}
		}
	}

	sortNewestFirst(matched)

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

// Statistics summarizes faults logged during the trailing period.
func (s *Sink) Statistics(ctx context.Context, period time.Duration) (*domain.LogStatistics, error) {
	entries, err := s.Query(ctx, domain.LogFilter{From: time.Now().Add(-period)})
	if err != nil {
		return nil, err
	}

	stats := &domain.LogStatistics{
		Total:      len(entries),
		BySeverity: make(map[domain.Severity]int),
		ByCategory: make(map[domain.Category]int),
		ByModule:   make(map[string]int),
	}
	type codeInfo struct {
		count   int
		message string
	}
	codes := make(map[string]*codeInfo)

	for _, e := range entries {
		stats.BySeverity[e.Fault.Severity]++
		stats.ByCategory[e.Fault.Category]++
		stats.ByModule[e.Fault.Module]++
		info := codes[e.Fault.Code]
		if info == nil {
			info = &codeInfo{message: e.Fault.Message}
			codes[e.Fault.Code] = info
		}
		info.count++
	}

	for code, info := range codes {
		stats.TopCodes = append(stats.TopCodes, domain.CodeFrequency{
			Code:    code,
			Count:   info.count,
			Message: info.message,
		})
	}
	sortTopCodes(stats.TopCodes)
	if len(stats.TopCodes) > 10 {
		stats.TopCodes = stats.TopCodes[:10]
	}
	return stats, nil
}

// Cleanup evicts entries older than the retention cutoff from the buffer
// and persistent storage.
func (s *Sink) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = s.cfg.RetentionDays
	}
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var evicted int64
	s.mu.Lock()
	kept := s.buffer[:0]
	for _, e := range s.buffer {
		if e.LoggedAt.Before(cutoff) {
			evicted++
			s.forgetLocked([]*domain.LogEntry{e})
			continue
		}
		kept = append(kept, e)
	}
	s.buffer = kept
	metrics.BufferSize.Set(float64(len(s.buffer)))
	s.mu.Unlock()

	if s.cfg.EnableDatabase && s.repo != nil {
		deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return evicted, err
		}
		evicted += deleted
	}
	return evicted, nil
}

// Start runs the periodic flush loop until the context is cancelled.
func (s *Sink) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.Flush(context.WithoutCancel(runCtx)); err != nil {
					s.log.Warn("Periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the flush timer and performs one final flush.
func (s *Sink) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return s.Flush(ctx)
}

// BufferLen returns the number of unflushed entries.
func (s *Sink) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func sortNewestFirst(entries []*domain.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LoggedAt.After(entries[j].LoggedAt)
	})
}

func sortTopCodes(codes []domain.CodeFrequency) {
	sort.SliceStable(codes, func(i, j int) bool {
		return codes[i].Count > codes[j].Count
	})
}

package logsink

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/infra/external"
)

// =============================================================================
// Mocks
// =============================================================================

type mockRepo struct {
	mu       sync.Mutex
	inserted []*domain.LogEntry
	failNext bool
}

func (m *mockRepo) InsertMany(ctx context.Context, entries []*domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("database unavailable")
	}
	m.inserted = append(m.inserted, entries...)
	return nil
}

func (m *mockRepo) Query(ctx context.Context, filter domain.LogFilter) ([]*domain.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.LogEntry, len(m.inserted))
	copy(out, m.inserted)
	return out, nil
}

func (m *mockRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *mockRepo) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted), nil
}

func (m *mockRepo) insertedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted)
}

type mockNotifier struct {
	mu     sync.Mutex
	faults []*domain.Fault
}

func (m *mockNotifier) NotifyCritical(ctx context.Context, fault *domain.Fault, extra map[string]any) []domain.DeliveryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, fault)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.faults)
}

// =============================================================================
// Buffering and Flush
// =============================================================================

func TestSink_LogBuffersAndFlushes(t *testing.T) {
	repo := &mockRepo{}
	sink := New(Config{EnableDatabase: true, FlushInterval: time.Hour}, repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f := domain.NewFault(fmt.Sprintf("CODE_%d", i), "validation failed")
		sink.Log(ctx, f, EntryMeta{UserID: "u1"})
	}

	if sink.BufferLen() != 3 {
		t.Fatalf("buffer length = %d, want 3", sink.BufferLen())
	}

	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if sink.BufferLen() != 0 {
		t.Errorf("buffer not drained, length = %d", sink.BufferLen())
	}
	if repo.insertedCount() != 3 {
		t.Errorf("inserted = %d, want 3", repo.insertedCount())
	}
}

func TestSink_FlushFailureRequeuesInOrder(t *testing.T) {
	repo := &mockRepo{failNext: true}
	sink := New(Config{EnableDatabase: true, FlushInterval: time.Hour}, repo, nil)
	ctx := context.Background()

	first := sink.Log(ctx, domain.NewFault("FIRST", "x"), EntryMeta{})
	second := sink.Log(ctx, domain.NewFault("SECOND", "x"), EntryMeta{})

	if err := sink.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	if sink.BufferLen() != 2 {
		t.Fatalf("entries lost on failed flush: buffer = %d", sink.BufferLen())
	}

	// Next flush succeeds and preserves chronological order.
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}
	if repo.insertedCount() != 2 {
		t.Fatalf("inserted = %d, want 2", repo.insertedCount())
	}
	if repo.inserted[0].ID != first.ID || repo.inserted[1].ID != second.ID {
		t.Error("re-queued entries lost chronological order")
	}
}

func TestSink_PartialFlushFailureSkipsAcceptedDatabase(t *testing.T) {
	var (
		mu    sync.Mutex
		posts int
		fail  = true
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		posts++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &mockRepo{}
	shipper := external.NewClient(external.Config{Endpoint: srv.URL, APIKey: "key"})
	sink := New(Config{EnableDatabase: true, EnableExternal: true, FlushInterval: time.Hour}, repo, shipper)
	ctx := context.Background()

	sink.Log(ctx, domain.NewFault("A", "x"), EntryMeta{})
	sink.Log(ctx, domain.NewFault("B", "x"), EntryMeta{})

	// First flush: the database accepts the batch, the endpoint rejects it.
	if err := sink.Flush(ctx); err == nil {
		t.Fatal("expected flush error from external endpoint")
	}
	if repo.insertedCount() != 2 {
		t.Fatalf("inserted = %d, want 2", repo.insertedCount())
	}
	if sink.BufferLen() != 2 {
		t.Fatalf("entries lost on partial flush: buffer = %d", sink.BufferLen())
	}

	// Retry: only the endpoint is hit again; no duplicate rows.
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("retry flush failed: %v", err)
	}
	if repo.insertedCount() != 2 {
		t.Errorf("inserted = %d after retry, want 2", repo.insertedCount())
	}
	seen := make(map[string]bool)
	for _, e := range repo.inserted {
		if seen[e.ID] {
			t.Errorf("entry %s inserted more than once", e.ID)
		}
		seen[e.ID] = true
	}
	mu.Lock()
	got := posts
	mu.Unlock()
	if got != 1 {
		t.Errorf("endpoint accepted %d batches, want 1", got)
	}
}

func TestSink_DatabaseRetryDoesNotReshipExternal(t *testing.T) {
	var (
		mu    sync.Mutex
		posts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		posts++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &mockRepo{failNext: true}
	shipper := external.NewClient(external.Config{Endpoint: srv.URL, APIKey: "key"})
	sink := New(Config{EnableDatabase: true, EnableExternal: true, FlushInterval: time.Hour}, repo, shipper)
	ctx := context.Background()

	sink.Log(ctx, domain.NewFault("A", "x"), EntryMeta{})

	// First flush: the database rejects, the endpoint accepts.
	if err := sink.Flush(ctx); err == nil {
		t.Fatal("expected flush error from database")
	}

	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("retry flush failed: %v", err)
	}
	if repo.insertedCount() != 1 {
		t.Errorf("inserted = %d, want 1", repo.insertedCount())
	}
	mu.Lock()
	got := posts
	mu.Unlock()
	if got != 1 {
		t.Errorf("endpoint received %d batches, want 1", got)
	}
}

func TestSink_MinSeverityFilters(t *testing.T) {
	sink := New(Config{MinSeverity: domain.SeverityHigh, FlushInterval: time.Hour}, nil, nil)
	ctx := context.Background()

	low := domain.NewFault("LOW", "x")
	low.Severity = domain.SeverityMedium
	if entry := sink.Log(ctx, low, EntryMeta{}); entry != nil {
		t.Error("medium fault should be filtered below high threshold")
	}

	high := domain.NewFault("HIGH", "x")
	high.Severity = domain.SeverityHigh
	if entry := sink.Log(ctx, high, EntryMeta{}); entry == nil {
		t.Error("high fault should pass the threshold")
	}
}

func TestSink_BufferBounded(t *testing.T) {
	sink := New(Config{MaxEntries: 5, FlushInterval: time.Hour}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		sink.Log(ctx, domain.NewFault(fmt.Sprintf("C%d", i), "x"), EntryMeta{})
	}
	if sink.BufferLen() != 5 {
		t.Errorf("buffer = %d, want bounded at 5", sink.BufferLen())
	}
}

// =============================================================================
// Critical Path
// =============================================================================

func TestSink_LogCriticalNotifiesDirectly(t *testing.T) {
	notifier := &mockNotifier{}
	sink := New(Config{FlushInterval: time.Hour}, nil, nil)
	sink.SetCriticalNotifier(notifier)
	ctx := context.Background()

	f := domain.NewFault("DATA_LOSS", "ledger corrupted")
	f.Severity = domain.SeverityMedium // forced up by LogCritical
	entry := sink.LogCritical(ctx, f, EntryMeta{})

	if entry == nil {
		t.Fatal("LogCritical returned nil entry")
	}
	if entry.Fault.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical", entry.Fault.Severity)
	}
	if f.Severity != domain.SeverityMedium {
		t.Error("caller's fault was mutated")
	}

	// Notification is fire-and-forget.
	deadline := time.Now().Add(time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if notifier.count() != 1 {
		t.Errorf("notifier invoked %d times, want 1", notifier.count())
	}
}

// =============================================================================
// Query and Statistics
// =============================================================================

func TestSink_QueryMergesBufferAndStorage(t *testing.T) {
	repo := &mockRepo{}
	sink := New(Config{EnableDatabase: true, FlushInterval: time.Hour}, repo, nil)
	ctx := context.Background()

	sink.Log(ctx, domain.NewFault("PERSISTED", "x"), EntryMeta{})
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	sink.Log(ctx, domain.NewFault("BUFFERED", "x"), EntryMeta{})

	entries, err := sink.Query(ctx, domain.LogFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Fault.Code != "BUFFERED" {
		t.Errorf("first entry = %s, want BUFFERED", entries[0].Fault.Code)
	}
}

func TestSink_QueryPagination(t *testing.T) {
	sink := New(Config{FlushInterval: time.Hour}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sink.Log(ctx, domain.NewFault(fmt.Sprintf("C%d", i), "x"), EntryMeta{})
	}

	entries, err := sink.Query(ctx, domain.LogFilter{Offset: 2, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}

	entries, err = sink.Query(ctx, domain.LogFilter{Offset: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("offset past end should return nothing, got %d", len(entries))
	}
}

func TestSink_Statistics(t *testing.T) {
	sink := New(Config{FlushInterval: time.Hour}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sink.Log(ctx, domain.NewFault("ACCOUNTING_SYNC_FAILED", "accounting sync failed"), EntryMeta{})
	}
	sink.Log(ctx, domain.NewFault("POS_SYNC_FAILED", "pos network timeout"), EntryMeta{})

	stats, err := sink.Statistics(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.ByModule["accounting"] != 3 {
		t.Errorf("accounting = %d, want 3", stats.ByModule["accounting"])
	}
	if len(stats.TopCodes) == 0 || stats.TopCodes[0].Code != "ACCOUNTING_SYNC_FAILED" {
		t.Errorf("top code should be ACCOUNTING_SYNC_FAILED, got %+v", stats.TopCodes)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestSink_StartStop(t *testing.T) {
	repo := &mockRepo{}
	sink := New(Config{EnableDatabase: true, FlushInterval: 10 * time.Millisecond}, repo, nil)
	ctx := context.Background()

	sink.Start(ctx)
	sink.Log(ctx, domain.NewFault("X", "y"), EntryMeta{})

	// Periodic flush should pick the entry up.
	deadline := time.Now().Add(time.Second)
	for repo.insertedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if repo.insertedCount() != 1 {
		t.Errorf("periodic flush did not run: inserted = %d", repo.insertedCount())
	}

	if err := sink.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

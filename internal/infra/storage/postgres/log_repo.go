package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
)

// LogRepo implements storage.LogRepository using PostgreSQL.
type LogRepo struct {
	db *DB
}

// NewLogRepo creates a new PostgreSQL log repository.
func NewLogRepo(db *DB) *LogRepo {
	return &LogRepo{db: db}
}

type logRow struct {
	ID         string    `db:"id"`
	Code       string    `db:"code"`
	Message    string    `db:"message"`
	Severity   string    `db:"severity"`
	Category   string    `db:"category"`
	Module     string    `db:"module"`
	Context    []byte    `db:"context"`
	StatusCode int       `db:"status_code"`
	UserID     string    `db:"user_id"`
	SessionID  string    `db:"session_id"`
	RequestID  string    `db:"request_id"`
	UserAgent  string    `db:"user_agent"`
	IPAddress  string    `db:"ip_address"`
	FaultAt    time.Time `db:"fault_at"`
	LoggedAt   time.Time `db:"logged_at"`
}

func toRow(e *domain.LogEntry) (*logRow, error) {
	ctxJSON, err := json.Marshal(e.Fault.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fault context: %w", err)
	}
	return &logRow{
		ID:         e.ID,
		Code:       e.Fault.Code,
		Message:    e.Fault.Message,
		Severity:   string(e.Fault.Severity),
		Category:   string(e.Fault.Category),
		Module:     e.Fault.Module,
		Context:    ctxJSON,
		StatusCode: e.Fault.StatusCode,
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		RequestID:  e.RequestID,
		UserAgent:  e.UserAgent,
		IPAddress:  e.IPAddress,
		FaultAt:    e.Fault.Timestamp,
		LoggedAt:   e.LoggedAt,
	}, nil
}

func fromRow(r *logRow) *domain.LogEntry {
	var faultCtx map[string]any
	if len(r.Context) > 0 {
		_ = json.Unmarshal(r.Context, &faultCtx)
	}
	return &domain.LogEntry{
		ID: r.ID,
		Fault: &domain.Fault{
			Code:       r.Code,
			Message:    r.Message,
			Severity:   domain.Severity(r.Severity),
			Category:   domain.Category(r.Category),
			Module:     r.Module,
			Context:    faultCtx,
			Timestamp:  r.FaultAt,
			StatusCode: r.StatusCode,
		},
		UserID:    r.UserID,
		SessionID: r.SessionID,
		RequestID: r.RequestID,
		UserAgent: r.UserAgent,
		IPAddress: r.IPAddress,
		LoggedAt:  r.LoggedAt,
	}
}

// InsertMany writes a batch of log entries in one transaction.
func (r *LogRepo) InsertMany(ctx context.Context, entries []*domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO fault_logs (
			id, code, message, severity, category, module, context,
			status_code, user_id, session_id, request_id, user_agent,
			ip_address, fault_at, logged_at
		) VALUES (
			:id, :code, :message, :severity, :category, :module, :context,
			:status_code, :user_id, :session_id, :request_id, :user_agent,
			:ip_address, :fault_at, :logged_at
		) ON CONFLICT (id) DO NOTHING
	`
	for _, e := range entries {
		row, err := toRow(e)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("failed to insert log entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log entries: %w", err)
	}
	return nil
}

// Query returns entries matching the filter, newest first.
func (r *LogRepo) Query(ctx context.Context, filter domain.LogFilter) ([]*domain.LogEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !filter.From.IsZero() {
		add("logged_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("logged_at <= $%d", filter.To)
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if filter.Category != "" {
		add("category = $%d", string(filter.Category))
	}
	if filter.Module != "" {
		add("module = $%d", filter.Module)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}

	query := "SELECT * FROM fault_logs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY logged_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []*logRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}

	entries := make([]*domain.LogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, fromRow(row))
	}
	return entries, nil
}

// DeleteOlderThan removes entries logged before the cutoff.
func (r *LogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM fault_logs WHERE logged_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old log entries: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Count returns the total number of stored entries.
func (r *LogRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM fault_logs"); err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}
	return count, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType classifies an audit event.
type EventType string

const (
	EventLogin             EventType = "login"
	EventLogout            EventType = "logout"
	EventLoginFailed       EventType = "login_failed"
	EventUserCreated       EventType = "user_created"
	EventUserModified      EventType = "user_modified"
	EventUserDeleted       EventType = "user_deleted"
	EventPasswordChanged   EventType = "password_changed"
	EventPermissionChanged EventType = "permission_changed"
	EventDataRead          EventType = "data_read"
	EventDataCreated       EventType = "data_created"
	EventDataModified      EventType = "data_modified"
	EventDataDeleted       EventType = "data_deleted"
	EventDataExported      EventType = "data_exported"
	EventDataImported      EventType = "data_imported"
	EventBackupCreated     EventType = "backup_created"
	EventBackupRestored    EventType = "backup_restored"
	EventSettingsChanged   EventType = "settings_changed"
	EventSecurityViolation EventType = "security_violation"
	EventEmailSent         EventType = "email_sent"
	EventReportGenerated   EventType = "report_generated"
)

// AllEventTypes lists every event type.
var AllEventTypes = []EventType{
	EventLogin, EventLogout, EventLoginFailed,
	EventUserCreated, EventUserModified, EventUserDeleted,
	EventPasswordChanged, EventPermissionChanged,
	EventDataRead, EventDataCreated, EventDataModified, EventDataDeleted,
	EventDataExported, EventDataImported,
	EventBackupCreated, EventBackupRestored,
	EventSettingsChanged, EventSecurityViolation,
	EventEmailSent, EventReportGenerated,
}

// Severity ranks an audit event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// =============================================================================
// AUDIT EVENT
// =============================================================================

// AuditEvent is an immutable security record.
type AuditEvent struct {
	ID          string         `json:"event_id"`
	Type        EventType      `json:"event_type"`
	UserID      string         `json:"user_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Severity    Severity       `json:"severity"`
}

// AuditQuery filters Query. Zero fields match everything.
type AuditQuery struct {
	UserID string
	Type   EventType
	Since  time.Time // inclusive
	Until  time.Time // inclusive
	Limit  int       // <= 0 means DefaultAuditQueryLimit
}

// DefaultAuditQueryLimit caps queries that do not set a limit.
const DefaultAuditQueryLimit = 100

// DefaultAuditCacheSize is the in-memory ring capacity.
const DefaultAuditCacheSize = 1000

// =============================================================================
// AUDIT LOG
// =============================================================================

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	event_id    TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	timestamp   INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_events(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type);
`

// AuditLog is the append-only audit trail: a SQLite table that is the
// authoritative record, plus a fixed-size ring of recent events evicted in
// insertion order.
type AuditLog struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	ring   []AuditEvent
	head   int // next write position
	filled bool
	closed bool
}

// AuditLogOption configures an AuditLog.
type AuditLogOption func(*AuditLog)

// WithAuditCacheSize sets the ring capacity.
func WithAuditCacheSize(n int) AuditLogOption {
	return func(a *AuditLog) {
		if n > 0 {
			a.ring = make([]AuditEvent, n)
		}
	}
}

// WithAuditClock replaces time.Now for event timestamps.
func WithAuditClock(now func() time.Time) AuditLogOption {
	return func(a *AuditLog) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAuditLogger sets the logger.
func WithAuditLogger(l *slog.Logger) AuditLogOption {
	return func(a *AuditLog) {
		if l != nil {
			a.logger = l
		}
	}
}

// OpenAuditLog opens (creating if needed) the audit database at path.
// ":memory:" gives a private in-process database.
func OpenAuditLog(ctx context.Context, path string, opts ...AuditLogOption) (*AuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// SQLite serializes writers; one connection also keeps ":memory:" alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	a := &AuditLog{
		db:     db,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
		ring:   make([]AuditEvent, DefaultAuditCacheSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Append fills in id, timestamp, and severity when unset, then writes the
// event to the database and the ring. The event is cached even if the
// database write fails; the error wraps ErrPersist.
func (a *AuditLog) Append(ctx context.Context, ev AuditEvent) (AuditEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityLow
	}
	ev.Details = cloneDetails(ev.Details)

	details := []byte("{}")
	if len(ev.Details) > 0 {
		var err error
		if details, err = json.Marshal(ev.Details); err != nil {
			return ev, fmt.Errorf("encode audit details: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ev, ErrAuditClosed
	}

	a.ring[a.head] = ev
	a.head = (a.head + 1) % len(a.ring)
	if a.head == 0 {
		a.filled = true
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_events
			(event_id, event_type, user_id, timestamp, description, details, ip_address, user_agent, session_id, severity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.UserID, ev.Timestamp.UnixNano(), ev.Description,
		string(details), ev.IPAddress, ev.UserAgent, ev.SessionID, string(ev.Severity),
	)
	if err != nil {
		a.logger.Error("audit write failed", "event_type", ev.Type, "event_id", ev.ID, "error", err)
		return ev, fmt.Errorf("%w: audit insert: %w", ErrPersist, err)
	}
	return ev, nil
}

// Recent returns up to n cached events, newest first.
func (a *AuditLog) Recent(n int) []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.head
	if a.filled {
		size = len(a.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]AuditEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (a.head - i + len(a.ring)) % len(a.ring)
		ev := a.ring[idx]
		ev.Details = cloneDetails(ev.Details)
		out = append(out, ev)
	}
	return out
}

func (q AuditQuery) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Type != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, string(q.Type))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Query returns matching events newest first, at most q.Limit of them.
func (a *AuditLog) Query(ctx context.Context, q AuditQuery) ([]AuditEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultAuditQueryLimit
	}
	where, args := q.where()
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx,
		`SELECT event_id, event_type, user_id, timestamp, description, details, ip_address, user_agent, session_id, severity
		 FROM audit_events`+where+`
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			ev      AuditEvent
			ts      int64
			details string
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.UserID, &ts, &ev.Description, &details,
			&ev.IPAddress, &ev.UserAgent, &ev.SessionID, &ev.Severity); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Timestamp = time.Unix(0, ts)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode details of %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of events matching q. q.Limit is ignored.
func (a *AuditLog) Count(ctx context.Context, q AuditQuery) (int, error) {
	where, args := q.where()
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

// Close releases the database. Further appends return ErrAuditClosed.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}

func cloneDetails(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// =============================================================================
// EXPORT
// =============================================================================

var csvHeader = []string{
	"timestamp", "event_type", "user_id", "description", "details",
	"ip_address", "user_agent", "session_id", "severity",
}

// ExportCSV writes the events matching q as CSV with a header row.
func (a *AuditLog) ExportCSV(ctx context.Context, w io.Writer, q AuditQuery) (int, error) {
	events, err := a.Query(ctx, q)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	for _, ev := range events {
		details := ""
		if len(ev.Details) > 0 {
			b, err := json.Marshal(ev.Details)
			if err != nil {
				return 0, fmt.Errorf("encode details of %s: %w", ev.ID, err)
			}
			details = string(b)
		}
		if err := cw.Write([]string{
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			string(ev.Type),
			ev.UserID,
			ev.Description,
			details,
			ev.IPAddress,
			ev.UserAgent,
			ev.SessionID,
			string(ev.Severity),
		}); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(events), nil
}

// ExportJSON writes the events matching q as an indented JSON array.
func (a *AuditLog) ExportJSON(ctx context.Context, w io.Writer, q AuditQuery) (int, error) {
	events, err := a.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	if events == nil {
		events = []AuditEvent{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// Package audit is the append-only invocation log. Every tool call, success
// or failure, produces exactly one entry; ids are assigned by the store and
// strictly increase.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      TEXT    NOT NULL,
	correlation_id TEXT    NOT NULL,
	session_id     TEXT    NOT NULL DEFAULT '',
	tool           TEXT    NOT NULL,
	params         TEXT    NOT NULL,
	success        INTEGER NOT NULL,
	error_code     TEXT    NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_log(tool);
`

// Entry is one audited tool invocation.
type Entry struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	SessionID     string    `json:"session_id,omitempty"`
	Tool          string    `json:"tool"`
	Params        string    `json:"params"`
	Success       bool      `json:"success"`
	ErrorCode     string    `json:"error_code,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
}

// Store is the sqlite-backed audit log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the audit database at path. ":memory:" works for
// tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	// The driver serialises writes; one connection avoids lock contention.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// CanonicalParams renders a tool argument object as the canonical JSON string
// stored in the log. Map keys come out sorted, so equal arguments store
// identically.
func CanonicalParams(args any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}

// SecurityParams replaces parameters for security-violation failures. The
// payload is never persisted, only the pattern family that fired.
func SecurityParams(violationKind string) string {
	return "[redacted: security-violation/" + violationKind + "]"
}

// Append records one invocation. Append failure is logged and returned but
// never blocks the response to the caller.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, correlation_id, session_id, tool, params, success, error_code, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.CorrelationID, e.SessionID, e.Tool, e.Params,
		boolToInt(e.Success), e.ErrorCode, e.DurationMS,
	)
	if err != nil {
		s.logger.Error("audit append failed", "tool", e.Tool, "error", err)
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

// Filter narrows a log query. Zero values mean "no restriction".
type Filter struct {
	Tool    string
	Success *bool
	Since   time.Time
}

// DefaultLogLimit applies when the caller passes a non-positive limit.
const DefaultLogLimit = 100

// MaxLogLimit caps a single query.
const MaxLogLimit = 1000

// Logs returns matching entries newest-first, bounded by limit.
func (s *Store) Logs(ctx context.Context, f Filter, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}

	var conds []string
	var args []any
	if f.Tool != "" {
		conds = append(conds, "tool = ?")
		args = append(args, f.Tool)
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, boolToInt(*f.Success))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}

	q := "SELECT id, timestamp, correlation_id, session_id, tool, params, success, error_code, duration_ms FROM audit_log"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var success int
		if err := rows.Scan(&e.ID, &ts, &e.CorrelationID, &e.SessionID, &e.Tool, &e.Params, &success, &e.ErrorCode, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("audit scan: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Success = success != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package audit is the append-only, write-only record of stimuli, scores and
// governor decisions. Rows can be read back for replay but never changed.
package audit

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	session_id  TEXT,
	turn_id     TEXT,
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_turn ON audit_log(turn_id);
CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_log(kind, seq);

CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit_log is append-only');
END;
CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit_log is append-only');
END;
`

// #endregion schema

// Log is the SQLite-backed audit table.
type Log struct {
	db *sql.DB
}

// NewLog creates the audit table and its guard triggers.
func NewLog(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

// #region append
// Append writes one event and returns its sequence number.
func (l *Log) Append(ev Event) (int64, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := l.db.Exec(
		`INSERT INTO audit_log (kind, session_id, turn_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		string(ev.Kind),
		nullIfEmpty(ev.SessionID),
		nullIfEmpty(ev.TurnID),
		string(ev.Payload),
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("append audit: %w", err)
	}
	return res.LastInsertId()
}

// #endregion append

// #region read
// Filter narrows Read. Zero fields match everything.
type Filter struct {
	Kind     Kind
	TurnID   string
	AfterSeq int64
	Limit    int
}

// Read returns events in sequence order.
func (l *Log) Read(f Filter) ([]Event, error) {
	q := `SELECT seq, kind, session_id, turn_id, payload, created_at FROM audit_log WHERE seq > ?`
	args := []any{f.AfterSeq}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.TurnID != "" {
		q += ` AND turn_id = ?`
		args = append(args, f.TurnID)
	}
	q += ` ORDER BY seq`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var kind, payload, created string
		var session, turn sql.NullString
		if err := rows.Scan(&ev.Seq, &kind, &session, &turn, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.SessionID = session.String
		ev.TurnID = turn.String
		ev.Payload = []byte(payload)
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// #endregion read

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers

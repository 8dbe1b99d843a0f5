package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freshair129/agentic-agent/internal/store"
)

// ErrNotFound is returned when no entry or conflict has the requested id.
var ErrNotFound = errors.New("memory: not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id                   TEXT PRIMARY KEY,
	root_id              TEXT NOT NULL,
	version              INTEGER NOT NULL,
	revision             INTEGER NOT NULL,
	domain               TEXT NOT NULL,
	epistemic            TEXT NOT NULL,
	tier                 TEXT NOT NULL,
	confidence           REAL NOT NULL,
	content              TEXT NOT NULL,
	subject              TEXT NOT NULL DEFAULT '',
	polarity             INTEGER NOT NULL DEFAULT 0,
	tags_json            TEXT,
	thread               TEXT NOT NULL DEFAULT '',
	sequence             INTEGER NOT NULL DEFAULT 0,
	salience             REAL NOT NULL DEFAULT 0,
	affect_json          TEXT,
	texture_json         TEXT,
	evidence_json        TEXT,
	corroborations       INTEGER NOT NULL DEFAULT 0,
	contestations        INTEGER NOT NULL DEFAULT 0,
	externally_confirmed INTEGER NOT NULL DEFAULT 0,
	hit_count            INTEGER NOT NULL DEFAULT 0,
	last_hit_at          TEXT,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	UNIQUE(root_id, version)
);
CREATE INDEX IF NOT EXISTS idx_memory_domain_tier ON memory_entries(domain, tier);
CREATE INDEX IF NOT EXISTS idx_memory_thread ON memory_entries(thread, sequence);

CREATE TABLE IF NOT EXISTS memory_lineage (
	old_id     TEXT PRIMARY KEY,
	new_id     TEXT NOT NULL UNIQUE,
	reason     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (old_id) REFERENCES memory_entries(id),
	FOREIGN KEY (new_id) REFERENCES memory_entries(id)
);

CREATE TABLE IF NOT EXISTS memory_conflicts (
	id            TEXT PRIMARY KEY,
	existing_root TEXT NOT NULL,
	incoming_root TEXT NOT NULL,
	domain        TEXT NOT NULL,
	severity      REAL NOT NULL,
	status        TEXT NOT NULL,
	resolution    TEXT,
	rationale     TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	resolved_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_conflicts_existing ON memory_conflicts(existing_root, status);
CREATE INDEX IF NOT EXISTS idx_conflicts_incoming ON memory_conflicts(incoming_root, status);

CREATE TRIGGER IF NOT EXISTS memory_entries_write_once BEFORE UPDATE ON memory_entries
WHEN OLD.tier != 'session' AND (
	NEW.content != OLD.content OR NEW.confidence != OLD.confidence OR
	NEW.epistemic != OLD.epistemic OR NEW.tier != OLD.tier OR
	NEW.revision != OLD.revision OR NEW.subject != OLD.subject OR
	NEW.polarity != OLD.polarity OR NEW.externally_confirmed != OLD.externally_confirmed
)
BEGIN
	SELECT RAISE(ABORT, 'promoted memory entries are write-once');
END;
CREATE TRIGGER IF NOT EXISTS memory_entries_no_delete BEFORE DELETE ON memory_entries
BEGIN
	SELECT RAISE(ABORT, 'memory entries are never deleted');
END;
`

// #endregion schema

// Store persists entries, lineage and conflicts. Reads are open to anyone;
// writes go through the Governor only.
type Store struct {
	db *sql.DB
}

// NewStore runs migrations on db.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

const entryColumns = `id, root_id, version, revision, domain, epistemic, tier, confidence, content,
	subject, polarity, tags_json, thread, sequence, salience, affect_json, texture_json, evidence_json,
	corroborations, contestations, externally_confirmed, hit_count, last_hit_at, created_at, updated_at`

// #region reads
// Get returns the entry with id, superseded or not.
func (s *Store) Get(id string) (Entry, error) {
	return getEntry(s.db, id)
}

// Head returns the newest version in the lineage rooted at root.
func (s *Store) Head(root string) (Entry, error) {
	return headOf(s.db, root)
}

// Query returns entries matching f.
func (s *Store) Query(f Filter) ([]Entry, error) {
	return s.Entries(context.Background(), f)
}

// Entries returns entries matching f, ordered by descending confidence.
func (s *Store) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	q, args := buildEntryQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return scanEntries(rows)
}

// Lineage returns every version sharing id's root, oldest first.
func (s *Store) Lineage(id string) ([]Entry, error) {
	e, err := getEntry(s.db, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT `+entryColumns+` FROM memory_entries WHERE root_id = ? ORDER BY version`, e.Root)
	if err != nil {
		return nil, fmt.Errorf("lineage: %w", err)
	}
	return scanEntries(rows)
}

// Conflicts returns conflicts matching f, newest first. EntryID may name any
// version of a lineage.
func (s *Store) Conflicts(f ConflictFilter) ([]ConflictRecord, error) {
	q := `SELECT id, existing_root, incoming_root, domain, severity, status, resolution, rationale, created_at, resolved_at
		FROM memory_conflicts WHERE 1=1`
	var args []any
	if f.EntryID != "" {
		root := f.EntryID
		if e, err := getEntry(s.db, f.EntryID); err == nil {
			root = e.Root
		}
		q += ` AND (existing_root = ? OR incoming_root = ?)`
		args = append(args, root, root)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()
	var out []ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// #endregion reads

// #region tx-helpers
// The helpers below take an Execer so the Governor can run them inside its
// transaction. Each drains its rows before returning.

func getEntry(x store.Execer, id string) (Entry, error) {
	rows, err := x.Query(`SELECT `+entryColumns+` FROM memory_entries WHERE id = ?`, id)
	if err != nil {
		return Entry{}, fmt.Errorf("get entry %s: %w", id, err)
	}
	list, err := scanEntries(rows)
	if err != nil {
		return Entry{}, err
	}
	if len(list) == 0 {
		return Entry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return list[0], nil
}

func headOf(x store.Execer, root string) (Entry, error) {
	rows, err := x.Query(`SELECT `+entryColumns+` FROM memory_entries
		WHERE root_id = ? AND id NOT IN (SELECT old_id FROM memory_lineage)`, root)
	if err != nil {
		return Entry{}, fmt.Errorf("head of %s: %w", root, err)
	}
	list, err := scanEntries(rows)
	if err != nil {
		return Entry{}, err
	}
	if len(list) == 0 {
		return Entry{}, fmt.Errorf("lineage %s: %w", root, ErrNotFound)
	}
	return list[0], nil
}

// successorOf returns the id that superseded id, or "" for a head.
func successorOf(x store.Execer, id string) (string, error) {
	var next string
	err := x.QueryRow(`SELECT new_id FROM memory_lineage WHERE old_id = ?`, id).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return next, err
}

func queryEntries(x store.Execer, f Filter) ([]Entry, error) {
	q, args := buildEntryQuery(f)
	rows, err := x.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return scanEntries(rows)
}

func insertEntry(x store.Execer, e Entry) error {
	tags, affect, texture, evidence, err := encodeCollections(e)
	if err != nil {
		return err
	}
	_, err = x.Exec(
		`INSERT INTO memory_entries (`+entryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Root, e.Version, e.Revision, string(e.Domain), string(e.State), string(e.Tier), e.Confidence, e.Content,
		e.Subject, e.Polarity, tags, e.Thread, e.Sequence, e.Salience, affect, texture, evidence,
		e.Corroborations, e.Contestations, boolInt(e.ExternallyConfirmed), e.HitCount, timeOrNil(e.LastHitAt),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

func updateEntry(x store.Execer, e Entry) error {
	tags, affect, texture, evidence, err := encodeCollections(e)
	if err != nil {
		return err
	}
	_, err = x.Exec(
		`UPDATE memory_entries SET revision = ?, epistemic = ?, tier = ?, confidence = ?, content = ?,
		   subject = ?, polarity = ?, tags_json = ?, affect_json = ?, texture_json = ?, evidence_json = ?,
		   corroborations = ?, contestations = ?, externally_confirmed = ?, updated_at = ?
		 WHERE id = ?`,
		e.Revision, string(e.State), string(e.Tier), e.Confidence, e.Content,
		e.Subject, e.Polarity, tags, affect, texture, evidence,
		e.Corroborations, e.Contestations, boolInt(e.ExternallyConfirmed), formatTime(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update entry %s: %w", e.ID, err)
	}
	return nil
}

func recordHit(x store.Execer, id string, at time.Time) error {
	_, err := x.Exec(`UPDATE memory_entries SET hit_count = hit_count + 1, last_hit_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("record hit %s: %w", id, err)
	}
	return nil
}

func linkVersions(x store.Execer, oldID, newID, reason string, at time.Time) error {
	_, err := x.Exec(`INSERT INTO memory_lineage (old_id, new_id, reason, created_at) VALUES (?, ?, ?, ?)`,
		oldID, newID, reason, formatTime(at))
	if err != nil {
		return fmt.Errorf("link %s -> %s: %w", oldID, newID, err)
	}
	return nil
}

func insertConflict(x store.Execer, c ConflictRecord) error {
	_, err := x.Exec(
		`INSERT INTO memory_conflicts (id, existing_root, incoming_root, domain, severity, status, rationale, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ExistingID, c.IncomingID, string(c.Domain), c.Severity, string(c.Status), c.Rationale, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

func getConflict(x store.Execer, id string) (ConflictRecord, error) {
	rows, err := x.Query(`SELECT id, existing_root, incoming_root, domain, severity, status, resolution, rationale, created_at, resolved_at
		FROM memory_conflicts WHERE id = ?`, id)
	if err != nil {
		return ConflictRecord{}, fmt.Errorf("get conflict %s: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ConflictRecord{}, err
		}
		return ConflictRecord{}, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	return scanConflict(rows)
}

// resolveConflicts closes every open conflict touching root and returns how
// many were closed.
func resolveConflicts(x store.Execer, root string, res Resolution, at time.Time) (int64, error) {
	r, err := x.Exec(`UPDATE memory_conflicts SET status = ?, resolution = ?, resolved_at = ?
		WHERE status = ? AND (existing_root = ? OR incoming_root = ?)`,
		string(ConflictResolved), string(res), formatTime(at), string(ConflictOpen), root, root)
	if err != nil {
		return 0, fmt.Errorf("resolve conflicts of %s: %w", root, err)
	}
	return r.RowsAffected()
}

// resolveConflict closes one conflict. It reports false when the conflict
// was no longer open.
func resolveConflict(x store.Execer, id string, res Resolution, rationale string, at time.Time) (bool, error) {
	r, err := x.Exec(`UPDATE memory_conflicts SET status = ?, resolution = ?, rationale = rationale || ' | ' || ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(ConflictResolved), string(res), rationale, formatTime(at), id, string(ConflictOpen))
	if err != nil {
		return false, fmt.Errorf("resolve conflict %s: %w", id, err)
	}
	n, err := r.RowsAffected()
	return n == 1, err
}

func openConflictCount(x store.Execer, root string) (int, error) {
	var n int
	err := x.QueryRow(`SELECT COUNT(*) FROM memory_conflicts WHERE status = ? AND (existing_root = ? OR incoming_root = ?)`,
		string(ConflictOpen), root, root).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conflicts of %s: %w", root, err)
	}
	return n, nil
}

// #endregion tx-helpers

// #region encoding
func buildEntryQuery(f Filter) (string, []any) {
	var where []string
	var args []any
	if !f.IncludeSuperseded {
		where = append(where, `id NOT IN (SELECT old_id FROM memory_lineage)`)
	}
	if f.Domain != "" {
		where = append(where, `domain = ?`)
		args = append(args, string(f.Domain))
	}
	if len(f.Tiers) > 0 {
		where = append(where, `tier IN (`+placeholders(len(f.Tiers))+`)`)
		for _, t := range f.Tiers {
			args = append(args, string(t))
		}
	}
	if len(f.States) > 0 {
		where = append(where, `epistemic IN (`+placeholders(len(f.States))+`)`)
		for _, st := range f.States {
			args = append(args, string(st))
		}
	}
	if f.MinConfidence > 0 {
		where = append(where, `confidence >= ?`)
		args = append(args, f.MinConfidence)
	}
	if f.Thread != "" {
		where = append(where, `thread = ?`)
		args = append(args, f.Thread)
	}
	q := `SELECT ` + entryColumns + ` FROM memory_entries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY confidence DESC, created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return q, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(r rowScanner) (Entry, error) {
	var e Entry
	var domain, state, tier, created, updated string
	var tags, affect, texture, evidence, lastHit sql.NullString
	var ext int
	err := r.Scan(&e.ID, &e.Root, &e.Version, &e.Revision, &domain, &state, &tier, &e.Confidence, &e.Content,
		&e.Subject, &e.Polarity, &tags, &e.Thread, &e.Sequence, &e.Salience, &affect, &texture, &evidence,
		&e.Corroborations, &e.Contestations, &ext, &e.HitCount, &lastHit, &created, &updated)
	if err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Domain, e.State, e.Tier = Domain(domain), Epistemic(state), Tier(tier)
	e.ExternallyConfirmed = ext != 0
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	if lastHit.Valid {
		e.LastHitAt = parseTime(lastHit.String)
	}
	for _, c := range []struct {
		raw sql.NullString
		dst any
	}{{tags, &e.Tags}, {affect, &e.AffectTrace}, {texture, &e.Texture}, {evidence, &e.Evidence}} {
		if !c.raw.Valid || c.raw.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw.String), c.dst); err != nil {
			return Entry{}, fmt.Errorf("decode entry %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func scanConflict(r rowScanner) (ConflictRecord, error) {
	var c ConflictRecord
	var domain, status, created string
	var resolution, resolved sql.NullString
	if err := r.Scan(&c.ID, &c.ExistingID, &c.IncomingID, &domain, &c.Severity, &status, &resolution, &c.Rationale, &created, &resolved); err != nil {
		return ConflictRecord{}, fmt.Errorf("scan conflict: %w", err)
	}
	c.Domain, c.Status, c.Resolution = Domain(domain), ConflictStatus(status), Resolution(resolution.String)
	c.CreatedAt = parseTime(created)
	if resolved.Valid {
		c.ResolvedAt = parseTime(resolved.String)
	}
	return c, nil
}

func encodeCollections(e Entry) (tags, affect, texture, evidence any, err error) {
	enc := func(v any, empty bool) (any, error) {
		if empty {
			return nil, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		return string(b), nil
	}
	if tags, err = enc(e.Tags, len(e.Tags) == 0); err != nil {
		return
	}
	if affect, err = enc(e.AffectTrace, len(e.AffectTrace) == 0); err != nil {
		return
	}
	if texture, err = enc(e.Texture, len(e.Texture) == 0); err != nil {
		return
	}
	evidence, err = enc(e.Evidence, len(e.Evidence) == 0)
	return
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion encoding

// OpenConflicts counts unresolved conflicts touching id's lineage.
func (s *Store) OpenConflicts(id string) (int, error) {
	root := id
	if e, err := getEntry(s.db, id); err == nil {
		root = e.Root
	}
	return openConflictCount(s.db, root)
}

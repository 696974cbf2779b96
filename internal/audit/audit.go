// Package audit persists dispatch records to a SQLite file so responses
// survive the process. It implements dispatch.Sink.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/timvw/pane-pilot/internal/dispatch"
	"github.com/timvw/pane-pilot/internal/logging"
	"github.com/timvw/pane-pilot/internal/prompt"
)

// SchemaVersion tracks the current database schema version.
const SchemaVersion = 1

var log = logging.ForComponent(logging.CompAudit)

// Store is a SQLite-backed dispatch log. Safe for concurrent use; multiple
// processes may read while one writes (WAL mode).
type Store struct {
	db *sql.DB
	// runID tags every record written by this process.
	runID string
}

var _ dispatch.Sink = (*Store)(nil)

// Open creates or opens the database at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, runID: uuid.New().String()}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// RunID identifies the process writing to the store.
func (s *Store) RunID() string { return s.runID }

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates tables if they don't exist.
func (s *Store) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("audit: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("audit: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS dispatches (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			ts          INTEGER NOT NULL,
			session     TEXT NOT NULL,
			target      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			pattern_id  TEXT NOT NULL,
			keys        TEXT NOT NULL,
			snippet     TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL DEFAULT 0,
			error       TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("audit: create dispatches: %w", err)
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatches_session_ts ON dispatches (session, ts)`); err != nil {
		return fmt.Errorf("audit: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("audit: set schema version: %w", err)
	}

	return tx.Commit()
}

// Record appends one dispatch record.
func (s *Store) Record(ctx context.Context, r dispatch.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dispatches (
			id, run_id, ts, session, target, kind, pattern_id, keys, snippet, duration_ns, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, s.runID, r.Time.UnixNano(), r.Session, r.Target, r.Kind.String(),
		r.PatternID, r.Keys, r.Snippet, int64(r.Duration), r.Err,
	)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", r.ID, err)
	}
	log.Debug("dispatch_recorded", "id", r.ID, "session", r.Session)
	return nil
}

// Query filters Recent. Zero values match everything.
type Query struct {
	Session string
	Since   time.Time
	// Limit caps the result; 0 means 100.
	Limit int
	// FailedOnly keeps records with an error.
	FailedOnly bool
}

// Recent returns matching records, oldest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]dispatch.Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, ts, session, target, kind, pattern_id, keys, snippet, duration_ns, error
		FROM dispatches WHERE 1=1`
	var args []any
	if q.Session != "" {
		query += ` AND session = ?`
		args = append(args, q.Session)
	}
	if !q.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Since.UnixNano())
	}
	if q.FailedOnly {
		query += ` AND error != ''`
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []dispatch.Record
	for rows.Next() {
		var (
			r        dispatch.Record
			ts, dur  int64
			kindName string
		)
		if err := rows.Scan(&r.ID, &ts, &r.Session, &r.Target, &kindName, &r.PatternID, &r.Keys, &r.Snippet, &dur, &r.Err); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		r.Time = time.Unix(0, ts)
		r.Duration = time.Duration(dur)
		if k, err := prompt.ParseKind(kindName); err == nil {
			r.Kind = k
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}

	// Newest were selected; hand them back oldest first like History.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dispatches").Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count: %w", err)
	}
	return n, nil
}

// Package store provides SQLite-based persistence for test run
// history: which tests last succeeded when, and content fingerprints
// of the files that contain them. One store instance is shared by all
// stateful sessions; each session opens it at start and closes it at
// end.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fenwick-dev/samplebox/internal/sample"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// ErrDatabaseUnreadable is returned by Open when the path exists but
// does not hold a usable store and recreating it was not permitted.
var ErrDatabaseUnreadable = errors.New("database file exists but is not a usable store")

// RunRecord is one row of recorded success: a test identity and the
// UTC instant it last qualified.
type RunRecord struct {
	ID      sample.TestID
	LastRun time.Time
}

// SessionRecord summarizes one completed session for diagnostics.
type SessionRecord struct {
	RunID     string
	StartedAt time.Time
	Mode      string
	Executed  int
	Skipped   int
	Passed    int
	Failed    int
}

// Store is the SQLite-backed history store.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the store at path and runs migrations. If the
// file exists but is not a valid store, Open fails with
// ErrDatabaseUnreadable unless allowRecreate is set, in which case the
// file is truncated and an empty store is created in place.
//
// logger may be nil to disable store-level logging.
func Open(path string, allowRecreate bool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "store")

	s, err := open(path, logger)
	if err == nil {
		return s, nil
	}

	if !allowRecreate {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseUnreadable, err)
	}

	logger.Warn("recreating unreadable database file", "path", path, "error", err)
	if terr := os.Truncate(path, 0); terr != nil {
		return nil, fmt.Errorf("truncating broken database %s: %w", path, terr)
	}
	s, err = open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("%w after recreation: %v", ErrDatabaseUnreadable, err)
	}
	return s, nil
}

func open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance. This is
	// also the first statement to touch the file, so it surfaces
	// corruption before any schema work.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema if not already at the current version.
func (s *Store) migrate() error {
	s.logger.Debug("sql", "op", "migrate")

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		// Fresh database, apply full schema.
		if _, err := s.db.Exec(schemaSQL); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		_, err = s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", version, currentSchemaVersion)
	}
	return nil
}

// --- Run records ---

// GetLastRun returns the recorded last-success instant for id, and
// whether such a record exists.
func (s *Store) GetLastRun(id sample.TestID) (time.Time, bool, error) {
	s.logger.Debug("sql", "op", "select", "table", "run_records", "id", id.String())

	var raw string
	err := s.db.QueryRow(
		"SELECT last_run_utc FROM run_records WHERE file = ? AND name = ?",
		id.File, id.Name,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading run record: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing run timestamp %q: %w", raw, err)
	}
	return ts, true, nil
}

// UpsertRun records a qualifying success. Idempotent, last write wins.
func (s *Store) UpsertRun(id sample.TestID, at time.Time) error {
	s.logger.Debug("sql", "op", "upsert", "table", "run_records", "id", id.String())

	_, err := s.db.Exec(
		`INSERT INTO run_records (file, name, last_run_utc) VALUES (?, ?, ?)
		 ON CONFLICT(file, name) DO UPDATE SET last_run_utc = excluded.last_run_utc`,
		id.File, id.Name, at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting run record: %w", err)
	}
	return nil
}

// DeleteRun removes the record for id, if any.
func (s *Store) DeleteRun(id sample.TestID) error {
	s.logger.Debug("sql", "op", "delete", "table", "run_records", "id", id.String())

	_, err := s.db.Exec(
		"DELETE FROM run_records WHERE file = ? AND name = ?", id.File, id.Name,
	)
	if err != nil {
		return fmt.Errorf("deleting run record: %w", err)
	}
	return nil
}

// DeleteRunsForFile removes all records for tests in the given file.
// Used when a file's fingerprint changes.
func (s *Store) DeleteRunsForFile(file string) (int64, error) {
	s.logger.Debug("sql", "op", "delete_by_file", "table", "run_records", "file", file)

	res, err := s.db.Exec("DELETE FROM run_records WHERE file = ?", file)
	if err != nil {
		return 0, fmt.Errorf("deleting run records for %s: %w", file, err)
	}
	return res.RowsAffected()
}

// ListRuns returns all run records ordered by ascending last-run time,
// ties broken by file and name.
func (s *Store) ListRuns() ([]RunRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "run_records")

	rows, err := s.db.Query(
		"SELECT file, name, last_run_utc FROM run_records ORDER BY last_run_utc, file, name",
	)
	if err != nil {
		return nil, fmt.Errorf("listing run records: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var raw string
		if err := rows.Scan(&r.ID.File, &r.ID.Name, &raw); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		r.LastRun, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing run timestamp %q: %w", raw, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountRuns returns the number of run records.
func (s *Store) CountRuns() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM run_records").Scan(&n)
	return n, err
}

// ClearRuns deletes every run record, leaving fingerprints untouched.
// Used by the saturation reset.
func (s *Store) ClearRuns() (int64, error) {
	s.logger.Debug("sql", "op", "clear", "table", "run_records")

	res, err := s.db.Exec("DELETE FROM run_records")
	if err != nil {
		return 0, fmt.Errorf("clearing run records: %w", err)
	}
	return res.RowsAffected()
}

// ClearFingerprints deletes every file fingerprint.
func (s *Store) ClearFingerprints() (int64, error) {
	s.logger.Debug("sql", "op", "clear", "table", "file_fingerprints")

	res, err := s.db.Exec("DELETE FROM file_fingerprints")
	if err != nil {
		return 0, fmt.Errorf("clearing fingerprints: %w", err)
	}
	return res.RowsAffected()
}

// CommitBatch applies a set of recorded successes in one transaction.
// Either all records land or none do.
func (s *Store) CommitBatch(records []RunRecord) error {
	s.logger.Debug("sql", "op", "commit_batch", "table", "run_records", "count", len(records))

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO run_records (file, name, last_run_utc) VALUES (?, ?, ?)
		 ON CONFLICT(file, name) DO UPDATE SET last_run_utc = excluded.last_run_utc`,
	)
	if err != nil {
		return fmt.Errorf("preparing batch upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.ID.File, r.ID.Name, r.LastRun.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("batch upsert %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// --- Fingerprints ---

// GetFingerprint returns the stored content hash for file, and whether
// one exists.
func (s *Store) GetFingerprint(file string) (string, bool, error) {
	s.logger.Debug("sql", "op", "select", "table", "file_fingerprints", "file", file)

	var hash string
	err := s.db.QueryRow(
		"SELECT hash FROM file_fingerprints WHERE file = ?", file,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading fingerprint: %w", err)
	}
	return hash, true, nil
}

// UpsertFingerprint records the current content hash for file.
func (s *Store) UpsertFingerprint(file, hash string) error {
	s.logger.Debug("sql", "op", "upsert", "table", "file_fingerprints", "file", file)

	_, err := s.db.Exec(
		`INSERT INTO file_fingerprints (file, hash) VALUES (?, ?)
		 ON CONFLICT(file) DO UPDATE SET hash = excluded.hash`,
		file, hash,
	)
	if err != nil {
		return fmt.Errorf("upserting fingerprint: %w", err)
	}
	return nil
}

// DeleteFingerprint removes the fingerprint row for file, if any.
func (s *Store) DeleteFingerprint(file string) error {
	s.logger.Debug("sql", "op", "delete", "table", "file_fingerprints", "file", file)

	_, err := s.db.Exec("DELETE FROM file_fingerprints WHERE file = ?", file)
	if err != nil {
		return fmt.Errorf("deleting fingerprint: %w", err)
	}
	return nil
}

// CountFingerprints returns the number of fingerprint rows.
func (s *Store) CountFingerprints() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM file_fingerprints").Scan(&n)
	return n, err
}

// --- Pruning ---

// PruneRuns deletes run records whose identity is absent from the
// current universe. Records for identities still collected are kept.
func (s *Store) PruneRuns(universe []sample.TestID) (int64, error) {
	s.logger.Debug("sql", "op", "prune", "table", "run_records", "universe", len(universe))

	known := make(map[sample.TestID]struct{}, len(universe))
	for _, id := range universe {
		known[id] = struct{}{}
	}

	rows, err := s.db.Query("SELECT file, name FROM run_records")
	if err != nil {
		return 0, fmt.Errorf("listing run records for pruning: %w", err)
	}
	var stale []sample.TestID
	for rows.Next() {
		var id sample.TestID
		if err := rows.Scan(&id.File, &id.Name); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning run record: %w", err)
		}
		if _, ok := known[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback()
	for _, id := range stale {
		if _, err := tx.Exec("DELETE FROM run_records WHERE file = ? AND name = ?", id.File, id.Name); err != nil {
			return 0, fmt.Errorf("pruning %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return int64(len(stale)), nil
}

// PruneFingerprints deletes fingerprint rows for files absent from the
// current set of collected files.
func (s *Store) PruneFingerprints(files []string) (int64, error) {
	s.logger.Debug("sql", "op", "prune", "table", "file_fingerprints", "files", len(files))

	known := make(map[string]struct{}, len(files))
	for _, f := range files {
		known[f] = struct{}{}
	}

	rows, err := s.db.Query("SELECT file FROM file_fingerprints")
	if err != nil {
		return 0, fmt.Errorf("listing fingerprints for pruning: %w", err)
	}
	var stale []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning fingerprint: %w", err)
		}
		if _, ok := known[f]; !ok {
			stale = append(stale, f)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	var pruned int64
	for _, f := range stale {
		res, err := s.db.Exec("DELETE FROM file_fingerprints WHERE file = ?", f)
		if err != nil {
			return pruned, fmt.Errorf("pruning fingerprint %s: %w", f, err)
		}
		n, _ := res.RowsAffected()
		pruned += n
	}
	return pruned, nil
}

// PruneMissing removes run records and fingerprints whose keys are
// absent from the supplied current sets.
func (s *Store) PruneMissing(universe []sample.TestID, files []string) (runs, fingerprints int64, err error) {
	runs, err = s.PruneRuns(universe)
	if err != nil {
		return runs, 0, err
	}
	fingerprints, err = s.PruneFingerprints(files)
	return runs, fingerprints, err
}

// --- Sessions ---

// RecordSession writes the diagnostic summary row for one session.
func (s *Store) RecordSession(rec SessionRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "sessions", "run_id", rec.RunID)

	_, err := s.db.Exec(
		`INSERT INTO sessions (run_id, started_at_utc, mode, executed, skipped, passed, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Mode,
		rec.Executed, rec.Skipped, rec.Passed, rec.Failed,
	)
	if err != nil {
		return fmt.Errorf("recording session: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]SessionRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "sessions", "limit", limit)

	rows, err := s.db.Query(
		`SELECT run_id, started_at_utc, mode, executed, skipped, passed, failed
		 FROM sessions ORDER BY started_at_utc DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var raw string
		if err := rows.Scan(&rec.RunID, &raw, &rec.Mode, &rec.Executed, &rec.Skipped, &rec.Passed, &rec.Failed); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		rec.StartedAt, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing session timestamp %q: %w", raw, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

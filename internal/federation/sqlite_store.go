package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS federated_entries (
    project_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    repo_root TEXT NOT NULL,
    repo_fingerprint TEXT NOT NULL,
    primary_language TEXT NOT NULL DEFAULT '',
    confidence_tier TEXT NOT NULL DEFAULT '',
    ambiguity INTEGER NOT NULL DEFAULT 0,
    capabilities_path TEXT NOT NULL DEFAULT '',
    updated_at_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_updated ON federated_entries(updated_at_ns);

-- endpoint and keyword signals; path is set for endpoints only
CREATE TABLE IF NOT EXISTS federated_signals (
    project_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    value TEXT NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (project_id, kind, value),
    FOREIGN KEY (project_id) REFERENCES federated_entries(project_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_signals_value ON federated_signals(kind, value);
CREATE INDEX IF NOT EXISTS idx_signals_path ON federated_signals(kind, path);
`

const (
	signalEndpoint = "endpoint"
	signalKeyword  = "keyword"
)

// SQLiteStore keeps the index in a SQLite database. The database is opened
// lazily; reads against a missing database return no entries without
// creating it.
type SQLiteStore struct {
	path       string
	maxEntries int

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore returns a store over path.
func NewSQLiteStore(path string, maxEntries int) *SQLiteStore {
	return &SQLiteStore{path: path, maxEntries: maxEntries}
}

// Path returns the database path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) open(create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if _, err := os.Stat(s.path); err != nil {
		if !errors.Is(err, os.ErrNotExist) || !create {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return nil, fmt.Errorf("create federation dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	var version int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case version > SchemaVersion:
		return bdkerrors.Newf(bdkerrors.InternalError, "schema_mismatch",
			"federated index schema_version %d is newer than supported %d", version, SchemaVersion)
	}
	return nil
}

// Upsert replaces the entry and signals of e.ProjectID in one transaction
// and evicts the least recent entries beyond the bound.
func (s *SQLiteStore) Upsert(ctx context.Context, e Entry) error {
	db, err := s.open(true)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO federated_entries (project_id, run_id, repo_root, repo_fingerprint, primary_language,
			confidence_tier, ambiguity, capabilities_path, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			run_id = excluded.run_id,
			repo_root = excluded.repo_root,
			repo_fingerprint = excluded.repo_fingerprint,
			primary_language = excluded.primary_language,
			confidence_tier = excluded.confidence_tier,
			ambiguity = excluded.ambiguity,
			capabilities_path = excluded.capabilities_path,
			updated_at_ns = excluded.updated_at_ns
	`, e.ProjectID, e.RunID, e.RepoRoot, e.RepoFingerprint, e.PrimaryLanguage,
		e.ConfidenceTier, e.Ambiguity, e.CapabilitiesPath, e.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM federated_signals WHERE project_id = ?", e.ProjectID); err != nil {
		return fmt.Errorf("clear signals: %w", err)
	}
	insert := `INSERT OR IGNORE INTO federated_signals (project_id, kind, value, path) VALUES (?, ?, ?, ?)`
	for _, ep := range e.Endpoints {
		if _, err := tx.ExecContext(ctx, insert, e.ProjectID, signalEndpoint, ep, endpointPath(ep)); err != nil {
			return fmt.Errorf("insert endpoint: %w", err)
		}
	}
	for _, kw := range e.Keywords {
		if _, err := tx.ExecContext(ctx, insert, e.ProjectID, signalKeyword, kw, ""); err != nil {
			return fmt.Errorf("insert keyword: %w", err)
		}
	}

	if s.maxEntries > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM federated_entries WHERE project_id NOT IN (
				SELECT project_id FROM federated_entries
				ORDER BY updated_at_ns DESC, project_id ASC
				LIMIT ?
			)
		`, s.maxEntries)
		if err != nil {
			return fmt.Errorf("evict entries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// All returns every entry, most recent first.
func (s *SQLiteStore) All(ctx context.Context) ([]Entry, error) {
	return s.load(ctx, Filter{})
}

// Query preselects candidates by signal in SQL and ranks them.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]Match, error) {
	entries, err := s.load(ctx, f)
	if err != nil {
		return nil, err
	}
	return Rank(entries, f), nil
}

func (s *SQLiteStore) load(ctx context.Context, f Filter) ([]Entry, error) {
	db, err := s.open(false)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	query := `
		SELECT project_id, run_id, repo_root, repo_fingerprint, primary_language,
		       confidence_tier, ambiguity, capabilities_path, updated_at_ns
		FROM federated_entries
	`
	var args []interface{}
	var clauses []string
	if f.Endpoint != "" {
		clauses = append(clauses, "(kind = ? AND (value = ? OR path = ?))")
		args = append(args, signalEndpoint, f.Endpoint, f.Endpoint)
	}
	if f.Keyword != "" {
		clauses = append(clauses, "(kind = ? AND value = ? COLLATE NOCASE)")
		args = append(args, signalKeyword, f.Keyword)
	}
	if len(clauses) > 0 {
		query += " WHERE project_id IN (SELECT project_id FROM federated_signals WHERE " +
			strings.Join(clauses, " OR ") + ")"
	}
	query += " ORDER BY updated_at_ns DESC, project_id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	var entries []Entry
	byID := map[string]int{}
	for rows.Next() {
		var e Entry
		var ns int64
		if err := rows.Scan(&e.ProjectID, &e.RunID, &e.RepoRoot, &e.RepoFingerprint, &e.PrimaryLanguage,
			&e.ConfidenceTier, &e.Ambiguity, &e.CapabilitiesPath, &ns); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.UpdatedAt = time.Unix(0, ns).UTC()
		byID[e.ProjectID] = len(entries)
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	sigs, err := db.QueryContext(ctx, `SELECT project_id, kind, value FROM federated_signals ORDER BY project_id, kind, value`)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer sigs.Close()
	for sigs.Next() {
		var projectID, kind, value string
		if err := sigs.Scan(&projectID, &kind, &value); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		i, ok := byID[projectID]
		if !ok {
			continue
		}
		switch kind {
		case signalEndpoint:
			entries[i].Endpoints = append(entries[i].Endpoints, value)
		case signalKeyword:
			entries[i].Keywords = append(entries[i].Keywords, value)
		}
	}
	return entries, sigs.Err()
}

// Close closes the database if it was opened.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Package history persists a per-title reconstitution history summary in
// SQLite, used by the /health and /api/history/{title} endpoints.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sjpalmer/wikivandal/internal/models"
)

// Store manages reconstitution-history persistence in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path and runs
// migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}

	// SQLite doesn't support concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		title               TEXT PRIMARY KEY,
		vandalisms_merged   INTEGER NOT NULL DEFAULT 0,
		sections_abandoned  INTEGER NOT NULL DEFAULT 0,
		last_run_at         TEXT NOT NULL,
		last_run_duration_ns INTEGER NOT NULL DEFAULT 0,
		run_count           INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_history_last_run_at ON history(last_run_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun upserts the history summary for title after a completed
// reconstitution request.
func (s *Store) RecordRun(title string, result models.ReconstitutionResult) error {
	_, err := s.db.Exec(`
		INSERT INTO history (title, vandalisms_merged, sections_abandoned, last_run_at, last_run_duration_ns, run_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(title) DO UPDATE SET
			vandalisms_merged    = excluded.vandalisms_merged,
			sections_abandoned   = excluded.sections_abandoned,
			last_run_at          = excluded.last_run_at,
			last_run_duration_ns = excluded.last_run_duration_ns,
			run_count            = history.run_count + 1`,
		title, result.VandalismsMerged, result.SectionsAbandoned,
		result.CompletedAt.Format(time.RFC3339), result.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("history: record run for %q: %w", title, err)
	}
	return nil
}

// GetHistory fetches the recorded summary for title. Returns nil, nil if
// the title has never been reconstituted.
func (s *Store) GetHistory(title string) (*models.HistorySummary, error) {
	row := s.db.QueryRow(`
		SELECT title, vandalisms_merged, sections_abandoned, last_run_at, last_run_duration_ns
		FROM history WHERE title = ?`, title)

	var h models.HistorySummary
	var lastRunAt string
	var durationNS int64

	err := row.Scan(&h.Title, &h.VandalismsMerged, &h.SectionsAbandoned, &lastRunAt, &durationNS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: scan %q: %w", title, err)
	}

	h.LastRunAt, _ = time.Parse(time.RFC3339, lastRunAt)
	h.LastRunDuration = time.Duration(durationNS)
	return &h, nil
}

// RecentTitles returns the most recently reconstituted titles, newest
// first, up to limit — used by the /health summary.
func (s *Store) RecentTitles(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT title FROM history ORDER BY last_run_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("history: scan title: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// Count returns the total number of distinct titles with recorded history.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&count)
	return count, err
}

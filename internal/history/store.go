// Package history records finished scans in a SQLite database so earlier
// results can be listed and inspected after the process exits.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/logscan/internal/models"
)

// ErrNotFound is returned when a scan id is unknown.
var ErrNotFound = errors.New("scan not found")

// recordTimeout bounds Record, which has no caller context.
const recordTimeout = 30 * time.Second

// ScanSummary is one row of scan history.
type ScanSummary struct {
	ID             string
	Root           string
	State          models.ScanState
	Completed      int
	Total          int
	Errors         int
	MatchCount     int
	SnapshotPath   string
	Fatal          string
	StartedAt      time.Time
	FinishedAt     time.Time
	CategoryCounts map[string]int
	FileErrors     map[string]string
}

// Duration returns the scan's wall clock.
func (s *ScanSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Store manages the SQLite history database
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new Store instance and initializes the database
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return openAndInitStore(dbPath)
}

func openAndInitStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores a terminal scan result.
func (s *Store) Record(result *models.ScanResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	return s.RecordScan(ctx, result)
}

// RecordScan stores a terminal scan result with its categories, file errors
// and matches in a single transaction.
func (s *Store) RecordScan(ctx context.Context, result *models.ScanResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	fatal := ""
	if result.Fatal != nil {
		fatal = result.Fatal.Error()
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO scans (id, root, state, completed, total, errors, match_count, snapshot_path, fatal, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.JobID, result.Root, string(result.State), result.Completed, result.Total, result.Errors,
		len(result.Matches), result.SnapshotPath, fatal, result.StartedAt.UTC(), result.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	for category, count := range result.CategoryCounts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO scan_categories (scan_id, category, count) VALUES (?, ?, ?)`,
			result.JobID, category, count); err != nil {
			return fmt.Errorf("insert category %s: %w", category, err)
		}
	}
	for path, message := range result.FileErrors {
		if _, err := tx.ExecContext(ctx, `INSERT INTO scan_errors (scan_id, path, message) VALUES (?, ?, ?)`,
			result.JobID, path, message); err != nil {
			return fmt.Errorf("insert file error: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO scan_matches (scan_id, seq, line_number, line, fragment, category, file, full_path, device, detected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare match insert: %w", err)
	}
	defer stmt.Close()
	for i, m := range result.Matches {
		if _, err := stmt.ExecContext(ctx, result.JobID, i, m.LineNumber, m.Line, m.Fragment, m.Category,
			m.File, m.FullPath, m.Device, m.DetectedAt.UTC()); err != nil {
			return fmt.Errorf("insert match %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scan: %w", err)
	}
	return nil
}

// ListScans returns the most recent scans, newest first. limit <= 0 means all.
func (s *Store) ListScans(ctx context.Context, limit int) ([]*ScanSummary, error) {
	query := `
SELECT id, root, state, completed, total, errors, match_count, COALESCE(snapshot_path, ''), COALESCE(fatal, ''), started_at, finished_at
FROM scans ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []*ScanSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (*ScanSummary, error) {
	s := &ScanSummary{}
	var state string
	if err := row.Scan(&s.ID, &s.Root, &state, &s.Completed, &s.Total, &s.Errors, &s.MatchCount,
		&s.SnapshotPath, &s.Fatal, &s.StartedAt, &s.FinishedAt); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	s.State = models.ScanState(state)
	return s, nil
}

// GetScan returns one scan with its category counts and file errors. A
// unique id prefix is accepted.
func (s *Store) GetScan(ctx context.Context, id string) (*ScanSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, root, state, completed, total, errors, match_count, COALESCE(snapshot_path, ''), COALESCE(fatal, ''), started_at, finished_at
FROM scans WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2`, id, id+"%")
	if err != nil {
		return nil, fmt.Errorf("query scan: %w", err)
	}
	var found []*ScanSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, summary)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan: %w", err)
	}

	var summary *ScanSummary
	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case found[0].ID == id || len(found) == 1:
		summary = found[0]
	default:
		return nil, fmt.Errorf("scan id prefix %q is ambiguous", id)
	}

	if summary.CategoryCounts, err = s.categoryCounts(ctx, summary.ID); err != nil {
		return nil, err
	}
	if summary.FileErrors, err = s.fileErrors(ctx, summary.ID); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Store) categoryCounts(ctx context.Context, scanID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, count FROM scan_categories WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

func (s *Store) fileErrors(ctx context.Context, scanID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, message FROM scan_errors WHERE scan_id = ?`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query file errors: %w", err)
	}
	defer rows.Close()

	errs := make(map[string]string)
	for rows.Next() {
		var path, message string
		if err := rows.Scan(&path, &message); err != nil {
			return nil, fmt.Errorf("scan file error: %w", err)
		}
		errs[path] = message
	}
	return errs, rows.Err()
}

// MatchFilter narrows GetMatches.
type MatchFilter struct {
	Category string
	Device   string
	Limit    int
}

// GetMatches returns a scan's matches in their original aggregate order.
func (s *Store) GetMatches(ctx context.Context, scanID string, filter MatchFilter) ([]models.Match, error) {
	query := `
SELECT line_number, line, fragment, category, COALESCE(file, ''), COALESCE(full_path, ''), COALESCE(device, ''), detected_at
FROM scan_matches WHERE scan_id = ?`
	args := []interface{}{scanID}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.Device != "" {
		query += " AND device = ?"
		args = append(args, filter.Device)
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.LineNumber, &m.Line, &m.Fragment, &m.Category, &m.File, &m.FullPath, &m.Device, &m.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CategoryTrend sums category counts over the most recent scans of root.
func (s *Store) CategoryTrend(ctx context.Context, root string, scans int) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.category, SUM(c.count)
FROM scan_categories c
JOIN (SELECT id FROM scans WHERE root = ? ORDER BY started_at DESC LIMIT ?) recent ON recent.id = c.scan_id
GROUP BY c.category`, root, scans)
	if err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	defer rows.Close()

	trend := make(map[string]int)
	for rows.Next() {
		var category string
		var total int
		if err := rows.Scan(&category, &total); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		trend[category] = total
	}
	return trend, rows.Err()
}

// SortedCategories orders a count map by descending count, then name.
func SortedCategories(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for c := range counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

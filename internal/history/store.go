package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages the run ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the ledger at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a finished run.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.RunID == "" {
		return fmt.Errorf("record run: missing run id")
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.FinishedAt
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
            run_id, archive_path, status, started_at, finished_at,
            original_size, new_size, bytes_saved, files, reverted,
            skipped_entries, failed_classes, error_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.ArchivePath,
		string(entry.Status),
		formatTime(entry.StartedAt),
		formatTime(entry.FinishedAt),
		entry.OriginalSize,
		entry.NewSize,
		entry.BytesSaved,
		entry.Files,
		entry.Reverted,
		entry.SkippedEntries,
		nullableString(strings.Join(entry.FailedClasses, ",")),
		nullableString(entry.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, run_id, archive_path, status, started_at, finished_at,
        original_size, new_size, bytes_saved, files, reverted, skipped_entries,
        failed_classes, error_message
        FROM runs ORDER BY finished_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return entries, nil
}

// Totals aggregates every recorded run.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var totals Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1),
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status = ? THEN 0 ELSE bytes_saved END), 0)
        FROM runs`,
		string(StatusFailed), string(StatusPartial), string(StatusFailed),
	).Scan(&totals.Runs, &totals.Failed, &totals.Partial, &totals.BytesSaved)
	if err != nil {
		return Totals{}, fmt.Errorf("aggregate runs: %w", err)
	}
	return totals, nil
}

// Clear removes every recorded run.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs")
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry         Entry
		status        string
		startedAt     string
		finishedAt    string
		failedClasses sql.NullString
		errorMessage  sql.NullString
	)
	if err := row.Scan(
		&entry.ID,
		&entry.RunID,
		&entry.ArchivePath,
		&status,
		&startedAt,
		&finishedAt,
		&entry.OriginalSize,
		&entry.NewSize,
		&entry.BytesSaved,
		&entry.Files,
		&entry.Reverted,
		&entry.SkippedEntries,
		&failedClasses,
		&errorMessage,
	); err != nil {
		return Entry{}, fmt.Errorf("scan run: %w", err)
	}
	entry.Status = Status(status)
	entry.StartedAt = parseTime(startedAt)
	entry.FinishedAt = parseTime(finishedAt)
	if failedClasses.Valid && failedClasses.String != "" {
		entry.FailedClasses = strings.Split(failedClasses.String, ",")
	}
	entry.ErrorMessage = errorMessage.String
	return entry, nil
}

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

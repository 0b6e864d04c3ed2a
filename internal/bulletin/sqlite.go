package bulletin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/episurv-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite. It backs
// standalone and field deployments that run without a PostgreSQL
// instance.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite bulletin store. It creates the
// database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bulletins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		epi_year INTEGER NOT NULL,
		epi_week INTEGER NOT NULL,
		format TEXT NOT NULL DEFAULT 'json',
		generated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		payload TEXT NOT NULL,
		UNIQUE(epi_year, epi_week)
	);

	CREATE INDEX IF NOT EXISTS idx_bulletins_year ON bulletins(epi_year);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores a generated bulletin, replacing any existing bulletin for
// the same epi-week.
func (s *SQLiteStore) Save(ctx context.Context, b *Bulletin) error {
	payload, err := json.Marshal(b.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	var existingID int64
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM bulletins WHERE epi_year = ? AND epi_week = ?",
		b.EpiYear, b.EpiWeek,
	).Scan(&existingID)

	if err == nil {
		b.ID = existingID
		_, err = s.db.ExecContext(ctx, `
			UPDATE bulletins SET
				title = ?,
				format = ?,
				generated_at = ?,
				payload = ?
			WHERE id = ?
		`, b.Title, b.Format, b.GeneratedAt, string(payload), existingID)
		return err
	}

	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO bulletins (title, epi_year, epi_week, format, generated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.Title, b.EpiYear, b.EpiWeek, b.Format, b.GeneratedAt, string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	b.ID = id

	return nil
}

// Get retrieves a bulletin by ID.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Bulletin, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, epi_year, epi_week, format, generated_at, payload
		FROM bulletins
		WHERE id = ?
	`, id)

	b, err := scanBulletin(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return b, nil
}

// ListByYear returns all bulletins generated for an epi-year, newest
// week first.
func (s *SQLiteStore) ListByYear(ctx context.Context, epiYear int) ([]*Bulletin, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, epi_year, epi_week, format, generated_at, payload
		FROM bulletins
		WHERE epi_year = ?
		ORDER BY epi_week DESC
	`, epiYear)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Bulletin
	for rows.Next() {
		b, err := scanBulletin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBulletin(s scanner) (*Bulletin, error) {
	b := &Bulletin{}
	var payload string

	err := s.Scan(&b.ID, &b.Title, &b.EpiYear, &b.EpiWeek, &b.Format, &b.GeneratedAt, &payload)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &b.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return b, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

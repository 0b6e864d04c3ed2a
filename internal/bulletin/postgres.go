package bulletin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/episurv-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL. The
// payload is kept as JSONB so renderers can consume it as-is.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL bulletin store. It expects the
// bulletins table to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a PostgreSQL bulletin store from a
// connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Save stores a generated bulletin, replacing any existing bulletin for
// the same epi-week.
func (s *PostgresStore) Save(ctx context.Context, b *Bulletin) error {
	payload, err := json.Marshal(b.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
		INSERT INTO bulletins (title, epi_year, epi_week, format, generated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (epi_year, epi_week) DO UPDATE SET
			title = EXCLUDED.title,
			format = EXCLUDED.format,
			generated_at = EXCLUDED.generated_at,
			payload = EXCLUDED.payload
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		b.Title, b.EpiYear, b.EpiWeek, b.Format, b.GeneratedAt, payload,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to save bulletin: %w", err)
	}
	return nil
}

// Get retrieves a bulletin by ID.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Bulletin, error) {
	query := `
		SELECT id, title, epi_year, epi_week, format, generated_at, payload
		FROM bulletins
		WHERE id = $1
	`

	b := &Bulletin{}
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.Title, &b.EpiYear, &b.EpiWeek, &b.Format, &b.GeneratedAt, &payload,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bulletin: %w", err)
	}

	if err := json.Unmarshal(payload, &b.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return b, nil
}

// ListByYear returns all bulletins generated for an epi-year, newest
// week first.
func (s *PostgresStore) ListByYear(ctx context.Context, epiYear int) ([]*Bulletin, error) {
	query := `
		SELECT id, title, epi_year, epi_week, format, generated_at, payload
		FROM bulletins
		WHERE epi_year = $1
		ORDER BY epi_week DESC
	`

	rows, err := s.db.QueryContext(ctx, query, epiYear)
	if err != nil {
		return nil, fmt.Errorf("failed to list bulletins: %w", err)
	}
	defer rows.Close()

	var result []*Bulletin
	for rows.Next() {
		b := &Bulletin{}
		var payload []byte
		if err := rows.Scan(&b.ID, &b.Title, &b.EpiYear, &b.EpiWeek, &b.Format, &b.GeneratedAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(payload, &b.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

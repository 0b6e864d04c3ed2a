package repository

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/episurv-server/internal/domain"
)

// getTestPool returns a pgx pool for testing.
// Skip test if TEST_DATABASE_URL is not set.
func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS disease_types (
			id BIGSERIAL PRIMARY KEY,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE TABLE IF NOT EXISTS disease_groups (
			id BIGSERIAL PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE TABLE IF NOT EXISTS disease_group_members (
			group_id BIGINT NOT NULL REFERENCES disease_groups(id),
			disease_type_id BIGINT NOT NULL REFERENCES disease_types(id),
			PRIMARY KEY (group_id, disease_type_id)
		);
	`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		DELETE FROM disease_group_members;
		DELETE FROM disease_groups;
		DELETE FROM disease_types;
	`)
	require.NoError(t, err)

	return pool
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}

func TestCatalogRepository_GroupMemberIDs(t *testing.T) {
	pool := getTestPool(t)
	repo := NewCatalogRepository(pool, testLogger())
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO disease_types (id, code, name) VALUES
			(1, 'A90', 'Dengue'), (2, 'J10', 'Influenza'), (3, 'B06', 'Rubeola');
		INSERT INTO disease_groups (id, slug, name) VALUES
			(10, 'arbovirosis', 'Arbovirosis');
		INSERT INTO disease_group_members (group_id, disease_type_id) VALUES
			(10, 1), (10, 3);
	`)
	require.NoError(t, err)

	ids, err := repo.GroupMemberIDs(ctx, domain.GroupRef{Slug: "arbovirosis"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	ids, err = repo.GroupMemberIDs(ctx, domain.GroupRef{ID: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestCatalogRepository_UnknownGroup(t *testing.T) {
	pool := getTestPool(t)
	repo := NewCatalogRepository(pool, testLogger())

	_, err := repo.GroupMemberIDs(context.Background(), domain.GroupRef{Slug: "no-such-group"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GroupMemberIDs(context.Background(), domain.GroupRef{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogRepository_ListGroups(t *testing.T) {
	pool := getTestPool(t)
	repo := NewCatalogRepository(pool, testLogger())
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO disease_groups (id, slug, name, active) VALUES
			(20, 'respiratorias', 'Respiratorias', TRUE),
			(21, 'inactivas', 'Inactivas', FALSE);
	`)
	require.NoError(t, err)

	groups, err := repo.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "respiratorias", groups[0].Slug)
}

// Package repository contains the pgx-backed catalog repositories:
// disease types, disease groups and their many-to-many membership, plus
// static reference lookups (population figures).
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/domain"
)

// CatalogRepository reads the disease/group catalog.
type CatalogRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *pgxpool.Pool, logger *logrus.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:  db,
		log: logger,
	}
}

// GroupMemberIDs returns the distinct disease-type IDs belonging to the
// referenced group. ErrNotFound for an unknown or inactive group.
func (r *CatalogRepository) GroupMemberIDs(ctx context.Context, ref domain.GroupRef) ([]int64, error) {
	if ref.IsZero() {
		return nil, domain.ErrNotFound
	}

	var groupID int64
	err := r.db.QueryRow(ctx, `
		SELECT id FROM disease_groups
		WHERE active AND (id = $1 OR slug = $2)`,
		ref.ID, ref.Slug,
	).Scan(&groupID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("group id=%d slug=%q: %w", ref.ID, ref.Slug, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"group_id":   ref.ID,
			"group_slug": ref.Slug,
			"error":      err,
		}).Error("Failed to look up disease group")
		return nil, fmt.Errorf("looking up disease group: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT m.disease_type_id
		FROM disease_group_members m
		JOIN disease_types dt ON dt.id = m.disease_type_id
		WHERE m.group_id = $1 AND dt.active
		ORDER BY m.disease_type_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying group members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning group member row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group member rows: %w", err)
	}

	return ids, nil
}

// ListGroups returns all active disease groups ordered by name.
func (r *CatalogRepository) ListGroups(ctx context.Context) ([]domain.DiseaseGroup, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, slug, name, active
		FROM disease_groups
		WHERE active
		ORDER BY name`)
	if err != nil {
		r.log.WithError(err).Error("Failed to list disease groups")
		return nil, fmt.Errorf("listing disease groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.DiseaseGroup
	for rows.Next() {
		var g domain.DiseaseGroup
		if err := rows.Scan(&g.ID, &g.Slug, &g.Name, &g.Active); err != nil {
			return nil, fmt.Errorf("scanning disease group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating disease group rows: %w", err)
	}

	return groups, nil
}

// GetDiseaseType retrieves one catalog entry by ID.
func (r *CatalogRepository) GetDiseaseType(ctx context.Context, id int64) (*domain.DiseaseType, error) {
	var dt domain.DiseaseType
	err := r.db.QueryRow(ctx, `
		SELECT id, code, name, active
		FROM disease_types
		WHERE id = $1`, id,
	).Scan(&dt.ID, &dt.Code, &dt.Name, &dt.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("disease type %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting disease type: %w", err)
	}
	return &dt, nil
}

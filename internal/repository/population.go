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

// PopulationRepository reads the static population tables.
type PopulationRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPopulationRepository creates a new population repository
func NewPopulationRepository(db *pgxpool.Pool, logger *logrus.Logger) *PopulationRepository {
	return &PopulationRepository{
		db:  db,
		log: logger,
	}
}

// PopulationFor returns the projected population of a locality for the
// given calendar year.
func (r *PopulationRepository) PopulationFor(ctx context.Context, year int, localityID int64) (int64, error) {
	var population int64
	err := r.db.QueryRow(ctx, `
		SELECT population
		FROM population_figures
		WHERE year = $1 AND locality_id = $2`,
		year, localityID,
	).Scan(&population)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("population for year %d locality %d: %w", year, localityID, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"year":        year,
			"locality_id": localityID,
			"error":       err,
		}).Error("Failed to look up population figure")
		return 0, fmt.Errorf("looking up population figure: %w", err)
	}
	return population, nil
}

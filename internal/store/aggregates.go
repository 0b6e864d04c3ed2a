// Package store implements the read-only storage collaborator: windowed
// aggregate queries over case events and the weekly datamart. Queries
// run through a circuit breaker so a failing database sheds load fast
// instead of piling up timeouts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/episurv-server/internal/domain"
)

// AggregateStore executes aggregate queries against PostgreSQL.
type AggregateStore struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger
}

// NewAggregateStore creates a new aggregate store over an open database
// handle.
func NewAggregateStore(db *sql.DB, logger *logrus.Logger) *AggregateStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "aggregates",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &AggregateStore{
		db:      db,
		breaker: breaker,
		log:     logger,
	}
}

// anchorColumn maps an anchor field to its case_events column. The
// anchor is a required, explicit parameter; there is no default column.
func anchorColumn(anchor domain.AnchorField) (string, error) {
	switch anchor {
	case domain.AnchorSymptomOnset:
		return "symptom_onset", nil
	case domain.AnchorCaseOpened:
		return "opened_at", nil
	case domain.AnchorMinEvidence:
		return "min_evidence_at", nil
	default:
		return "", domain.NewValidationError("fecha_ancla", "anchor date field is required", string(anchor))
	}
}

// groupJoin maps a grouping dimension to its join clause and the
// labeled entity columns.
func groupJoin(groupBy domain.GroupByKey) (join string, err error) {
	switch groupBy {
	case domain.GroupByDisease:
		return "JOIN disease_types g ON g.id = ce.disease_type_id", nil
	case domain.GroupByEstablishment:
		return "JOIN establishments g ON g.id = ce.establishment_id", nil
	case domain.GroupByProvince:
		return `JOIN localities l ON l.id = ce.locality_id
			JOIN departments dp ON dp.id = l.department_id
			JOIN provinces g ON g.id = dp.province_id`, nil
	default:
		return "", domain.NewValidationError("agrupar_por", "unknown grouping dimension", string(groupBy))
	}
}

// CountByEntity runs COUNT(DISTINCT case) grouped by the requested
// entity dimension over the anchor-date window.
func (s *AggregateStore) CountByEntity(ctx context.Context, q domain.AggregateQuery) ([]domain.EntityCount, error) {
	anchor, err := anchorColumn(q.Anchor)
	if err != nil {
		return nil, err
	}
	join, err := groupJoin(q.GroupBy)
	if err != nil {
		return nil, err
	}

	where := []string{fmt.Sprintf("ce.%s BETWEEN $1 AND $2", anchor)}
	args := []interface{}{q.DateFrom, q.DateTo}

	if len(q.EntityIDs) > 0 {
		args = append(args, pq.Array(q.EntityIDs))
		where = append(where, fmt.Sprintf("ce.disease_type_id = ANY($%d)", len(args)))
	}
	if len(q.Classifications) > 0 {
		args = append(args, pq.Array(classificationStrings(q.Classifications)))
		where = append(where, fmt.Sprintf("ce.classification = ANY($%d)", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT g.id, g.name, COUNT(DISTINCT ce.id)
		FROM case_events ce
		%s
		WHERE %s
		GROUP BY g.id, g.name
		ORDER BY g.name, g.id`, join, strings.Join(where, " AND "))

	rows, err := s.queryThroughBreaker(ctx, query, args)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"group_by": q.GroupBy,
			"anchor":   q.Anchor,
			"error":    err,
		}).Error("Failed to count cases by entity")
		return nil, fmt.Errorf("counting cases by entity: %w", err)
	}
	defer rows.Close()

	var counts []domain.EntityCount
	for rows.Next() {
		var c domain.EntityCount
		if err := rows.Scan(&c.EntityID, &c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning entity count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity count rows: %w", err)
	}

	return counts, nil
}

// WeeklyCounts returns per-(epi-year, epi-week) counts from the weekly
// datamart for the requested years.
func (s *AggregateStore) WeeklyCounts(ctx context.Context, q domain.WeeklyQuery) ([]domain.WeeklyCount, error) {
	anchor := string(q.Anchor)
	if !q.Anchor.Valid() {
		return nil, domain.NewValidationError("fecha_ancla", "anchor date field is required", anchor)
	}

	years := make([]int64, len(q.Years))
	for i, y := range q.Years {
		years[i] = int64(y)
	}

	where := []string{"anchor = $1", "epi_year = ANY($2)"}
	args := []interface{}{anchor, pq.Array(years)}

	if len(q.EntityIDs) > 0 {
		args = append(args, pq.Array(q.EntityIDs))
		where = append(where, fmt.Sprintf("disease_type_id = ANY($%d)", len(args)))
	}
	if len(q.Classifications) > 0 {
		args = append(args, pq.Array(classificationStrings(q.Classifications)))
		where = append(where, fmt.Sprintf("classification = ANY($%d)", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT epi_year, epi_week, SUM(case_count)
		FROM weekly_case_counts
		WHERE %s
		GROUP BY epi_year, epi_week
		ORDER BY epi_year, epi_week`, strings.Join(where, " AND "))

	rows, err := s.queryThroughBreaker(ctx, query, args)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"years":  q.Years,
			"anchor": q.Anchor,
			"error":  err,
		}).Error("Failed to query weekly counts")
		return nil, fmt.Errorf("querying weekly counts: %w", err)
	}
	defer rows.Close()

	var counts []domain.WeeklyCount
	for rows.Next() {
		var c domain.WeeklyCount
		if err := rows.Scan(&c.Year, &c.Week, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning weekly count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating weekly count rows: %w", err)
	}

	return counts, nil
}

// DailyCounts returns per-anchor-date counts for the datamart
// refresher, grouped by disease type and classification.
func (s *AggregateStore) DailyCounts(ctx context.Context, anchor domain.AnchorField, from, to time.Time) ([]domain.DailyCount, error) {
	column, err := anchorColumn(anchor)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT ce.%s, ce.disease_type_id, ce.classification, COUNT(DISTINCT ce.id)
		FROM case_events ce
		WHERE ce.%s BETWEEN $1 AND $2
		GROUP BY ce.%s, ce.disease_type_id, ce.classification`, column, column, column)

	rows, err := s.queryThroughBreaker(ctx, query, []interface{}{from, to})
	if err != nil {
		return nil, fmt.Errorf("querying daily counts: %w", err)
	}
	defer rows.Close()

	var counts []domain.DailyCount
	for rows.Next() {
		var c domain.DailyCount
		if err := rows.Scan(&c.Date, &c.DiseaseTypeID, &c.Classification, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning daily count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating daily count rows: %w", err)
	}

	return counts, nil
}

// ReplaceWeeklyCounts atomically swaps the datamart rows for one
// (anchor, epi-year) pair.
func (s *AggregateStore) ReplaceWeeklyCounts(ctx context.Context, anchor domain.AnchorField, epiYear int, rowsIn []domain.WeeklyCountRow) error {
	if !anchor.Valid() {
		return domain.NewValidationError("fecha_ancla", "anchor date field is required", string(anchor))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning datamart transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM weekly_case_counts WHERE anchor = $1 AND epi_year = $2`,
		string(anchor), epiYear); err != nil {
		return fmt.Errorf("clearing weekly counts: %w", err)
	}

	const insert = `
		INSERT INTO weekly_case_counts (anchor, epi_year, epi_week, disease_type_id, classification, case_count)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, row := range rowsIn {
		if _, err := tx.ExecContext(ctx, insert,
			string(anchor), row.Year, row.Week, row.DiseaseTypeID, string(row.Classification), row.Count); err != nil {
			return fmt.Errorf("inserting weekly count row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing datamart transaction: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"anchor":   anchor,
		"epi_year": epiYear,
		"rows":     len(rowsIn),
	}).Info("Weekly datamart refreshed")

	return nil
}

func (s *AggregateStore) queryThroughBreaker(ctx context.Context, query string, args []interface{}) (*sql.Rows, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.db.QueryContext(ctx, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return result.(*sql.Rows), nil
}

func classificationStrings(cs []domain.ClassificationStatus) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

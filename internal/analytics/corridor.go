package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/domain"
	"github.com/episurv-server/internal/epiweek"
)

// Envelope methods for the historical corridor bounds.
const (
	MethodMinMax = "minmax"
	MethodMeanSD = "meansd"
)

// CorridorRequest describes an endemic-channel aggregation: the current
// year's weekly curve plotted against an envelope built from curated
// historical years (anomalous years are expected to be excluded by the
// caller).
type CorridorRequest struct {
	HistoricalYears []int
	CurrentYear     int
	UpToWeek        int

	Anchor          domain.AnchorField
	EntityIDs       []int64
	Classifications []domain.ClassificationStatus

	// Method selects the envelope statistic; empty means MethodMinMax.
	Method string

	// MinDataPoints is advisory: weeks with fewer historical points
	// still use whatever subset exists. Only zero points yields nil
	// bounds.
	MinDataPoints int
}

// ComputeCorridor aggregates historical weekly counts into a
// low/median/high envelope per epi-week 1..53 plus the current year's
// actual counts up to the requested week.
func (e *Engine) ComputeCorridor(ctx context.Context, req CorridorRequest) (*domain.CorridorSeries, error) {
	if !req.Anchor.Valid() {
		return nil, domain.NewValidationError("fecha_ancla", "anchor date field is required", string(req.Anchor))
	}
	if len(req.HistoricalYears) == 0 {
		return nil, domain.NewValidationError("anios_historicos", "at least one historical year is required", req.HistoricalYears)
	}
	if req.UpToWeek < 1 || req.UpToWeek > epiweek.WeeksInYear(req.CurrentYear) {
		return nil, fmt.Errorf("hasta_semana %d for year %d: %w",
			req.UpToWeek, req.CurrentYear, domain.ErrInvalidEpiWeek)
	}
	method := req.Method
	if method == "" {
		method = MethodMinMax
	}
	if method != MethodMinMax && method != MethodMeanSD {
		return nil, domain.NewValidationError("metodo", "unknown corridor method", method)
	}

	years := append(append([]int{}, req.HistoricalYears...), req.CurrentYear)
	rows, err := e.store.WeeklyCounts(ctx, domain.WeeklyQuery{
		Years:           years,
		Anchor:          req.Anchor,
		EntityIDs:       req.EntityIDs,
		Classifications: req.Classifications,
	})
	if err != nil {
		return nil, &domain.AggregationQueryError{Op: "weekly counts", Err: err}
	}

	counts := make(map[int]map[int]int, len(years))
	for _, row := range rows {
		if counts[row.Year] == nil {
			counts[row.Year] = make(map[int]int)
		}
		counts[row.Year][row.Week] += row.Count
	}

	series := &domain.CorridorSeries{
		CurrentYear:     req.CurrentYear,
		HistoricalYears: req.HistoricalYears,
		Method:          method,
		Points:          make([]domain.CorridorPoint, 0, 53),
	}

	sparseWeeks := 0
	for week := 1; week <= 53; week++ {
		point := domain.CorridorPoint{EpiWeek: week}

		// A week contributes a data point for every historical year in
		// which it exists, even when the count is zero. Week 53 only
		// exists in 53-week years, so its sample may be smaller.
		var values []float64
		for _, y := range req.HistoricalYears {
			if week <= epiweek.WeeksInYear(y) {
				values = append(values, float64(counts[y][week]))
			}
		}
		if len(values) > 0 && len(values) < req.MinDataPoints {
			sparseWeeks++
		}
		point.Low, point.Median, point.High = envelope(values, method)

		if week <= req.UpToWeek && week <= epiweek.WeeksInYear(req.CurrentYear) {
			actual := counts[req.CurrentYear][week]
			point.CurrentActual = &actual
		}

		series.Points = append(series.Points, point)
	}

	e.log.WithFields(logrus.Fields{
		"current_year":     req.CurrentYear,
		"historical_years": len(req.HistoricalYears),
		"up_to_week":       req.UpToWeek,
		"method":           method,
		"sparse_weeks":     sparseWeeks,
	}).Debug("Corridor computed")

	return series, nil
}

// envelope computes the lower/middle/upper corridor bounds for one
// week. Nil bounds mean no historical data exists for the week.
func envelope(values []float64, method string) (low, mid, high *float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}

	switch method {
	case MethodMeanSD:
		m := mean(values)
		sd := stddev(values, m)
		l := math.Max(0, round2(m-sd))
		h := round2(m + sd)
		c := round2(m)
		return &l, &c, &h
	default:
		sorted := append([]float64{}, values...)
		sort.Float64s(sorted)
		l := sorted[0]
		h := sorted[len(sorted)-1]
		c := median(sorted)
		return &l, &c, &h
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

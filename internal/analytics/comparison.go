// Package analytics contains the period-comparison engine and the
// endemic-corridor aggregator. Both are pure computation layers over
// the read-only storage collaborator: they hold no state and perform
// no writes, so a failed request leaves nothing to clean up.
package analytics

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/domain"
)

// Engine executes comparison and corridor aggregations.
type Engine struct {
	store domain.AggregateStore
	log   *logrus.Logger
}

// NewEngine creates a new analytics engine over the given store.
func NewEngine(store domain.AggregateStore, logger *logrus.Logger) *Engine {
	return &Engine{
		store: store,
		log:   logger,
	}
}

// CompareRequest describes a period-over-period comparison.
type CompareRequest struct {
	Current  domain.PeriodWindow
	Previous domain.PeriodWindow

	Anchor          domain.AnchorField
	GroupBy         domain.GroupByKey
	EntityIDs       []int64
	Classifications []domain.ClassificationStatus

	// IncludePreviousOnly keeps entities that reported cases only in
	// the previous period. Off by default: the engine reports
	// current-period activity.
	IncludePreviousOnly bool

	// TopN switches ordering to |percentage_delta| descending with the
	// given limit. Zero keeps the default label-ascending order.
	TopN int
}

type countReply struct {
	rows []domain.EntityCount
	err  error
}

// Compare runs the current- and previous-window aggregate queries
// concurrently, joins them by entity key and computes deltas. Results
// are deterministic for identical inputs and unchanged data.
func (e *Engine) Compare(ctx context.Context, req CompareRequest) ([]domain.ComparisonResult, error) {
	if !req.Anchor.Valid() {
		return nil, domain.NewValidationError("fecha_ancla", "anchor date field is required", string(req.Anchor))
	}
	if !req.GroupBy.Valid() {
		return nil, domain.NewValidationError("agrupar_por", "unknown grouping dimension", string(req.GroupBy))
	}

	currentCh := make(chan countReply, 1)
	previousCh := make(chan countReply, 1)

	go func() {
		rows, err := e.store.CountByEntity(ctx, e.query(req, req.Current))
		currentCh <- countReply{rows: rows, err: err}
	}()
	go func() {
		rows, err := e.store.CountByEntity(ctx, e.query(req, req.Previous))
		previousCh <- countReply{rows: rows, err: err}
	}()

	current := <-currentCh
	previous := <-previousCh

	if current.err != nil {
		return nil, &domain.AggregationQueryError{Op: "current period", Err: current.err}
	}
	if previous.err != nil {
		return nil, &domain.AggregationQueryError{Op: "previous period", Err: previous.err}
	}

	results := join(current.rows, previous.rows, req.IncludePreviousOnly)
	order(results, req.TopN)
	results = Limit(results, req.TopN)

	e.log.WithFields(logrus.Fields{
		"group_by":   req.GroupBy,
		"anchor":     req.Anchor,
		"entities":   len(results),
		"date_from":  req.Current.DateFrom.Format("2006-01-02"),
		"date_to":    req.Current.DateTo.Format("2006-01-02"),
	}).Debug("Comparison computed")

	return results, nil
}

func (e *Engine) query(req CompareRequest, w domain.PeriodWindow) domain.AggregateQuery {
	return domain.AggregateQuery{
		DateFrom:        w.DateFrom,
		DateTo:          w.DateTo,
		Anchor:          req.Anchor,
		GroupBy:         req.GroupBy,
		EntityIDs:       req.EntityIDs,
		Classifications: req.Classifications,
	}
}

// join merges the two result sets by entity key with outer-join
// semantics: current-only entities get a zero previous count;
// previous-only entities are excluded unless requested.
func join(current, previous []domain.EntityCount, includePreviousOnly bool) []domain.ComparisonResult {
	prevByID := make(map[int64]domain.EntityCount, len(previous))
	for _, row := range previous {
		prevByID[row.EntityID] = row
	}

	results := make([]domain.ComparisonResult, 0, len(current))
	seen := make(map[int64]bool, len(current))

	for _, cur := range current {
		seen[cur.EntityID] = true
		results = append(results, buildResult(cur.EntityID, cur.Label, cur.Count, prevByID[cur.EntityID].Count))
	}

	if includePreviousOnly {
		for _, prev := range previous {
			if !seen[prev.EntityID] {
				results = append(results, buildResult(prev.EntityID, prev.Label, 0, prev.Count))
			}
		}
	}

	return results
}

func buildResult(id int64, label string, cur, prev int) domain.ComparisonResult {
	pct := percentageDelta(cur, prev)
	return domain.ComparisonResult{
		EntityID:        id,
		EntityLabel:     label,
		CountCurrent:    cur,
		CountPrevious:   prev,
		AbsoluteDelta:   cur - prev,
		PercentageDelta: pct,
		Trend:           trend(pct),
	}
}

// percentageDelta applies the delta policy: the 999.99 sentinel for a
// zero previous count with current activity, 0 when both are zero, and
// the usual relative change rounded to 2 decimals otherwise.
func percentageDelta(cur, prev int) float64 {
	if prev == 0 {
		if cur > 0 {
			return domain.PercentageDeltaSentinel
		}
		return 0
	}
	return round2(float64(cur-prev) / float64(prev) * 100)
}

func trend(pct float64) domain.TrendCategory {
	switch {
	case pct > 0:
		return domain.TrendGrowth
	case pct < 0:
		return domain.TrendDecline
	default:
		return domain.TrendStable
	}
}

func order(results []domain.ComparisonResult, topN int) {
	if topN > 0 {
		sort.SliceStable(results, func(i, j int) bool {
			return math.Abs(results[i].PercentageDelta) > math.Abs(results[j].PercentageDelta)
		})
		return
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].EntityLabel != results[j].EntityLabel {
			return results[i].EntityLabel < results[j].EntityLabel
		}
		return results[i].EntityID < results[j].EntityID
	})
}

// Limit applies the top-N cut after ordering. Exposed separately so the
// dashboard can reuse the full ordered set.
func Limit(results []domain.ComparisonResult, n int) []domain.ComparisonResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

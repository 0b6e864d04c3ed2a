package bulletin

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/analytics"
	"github.com/episurv-server/internal/domain"
	"github.com/episurv-server/internal/period"
)

// Generator assembles and persists weekly bulletins.
type Generator struct {
	engine *analytics.Engine
	store  Store
	log    *logrus.Logger
}

// NewGenerator creates a bulletin generator.
func NewGenerator(engine *analytics.Engine, store Store, logger *logrus.Logger) *Generator {
	return &Generator{
		engine: engine,
		store:  store,
		log:    logger,
	}
}

// GenerateRequest describes one weekly bulletin.
type GenerateRequest struct {
	Title    string
	EpiYear  int
	EpiWeek  int
	NumWeeks int

	Anchor          domain.AnchorField
	GroupBy         domain.GroupByKey
	EntityIDs       []int64
	Classifications []domain.ClassificationStatus

	// HistoricalYears feed the corridor section; empty skips it.
	HistoricalYears []int
	CorridorMethod  string
}

// Generate computes the comparison table and, when historical years are
// given, the endemic corridor, then saves the assembled bulletin.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*Bulletin, error) {
	current, previous, err := period.Resolve(req.EpiWeek, req.EpiYear, req.NumWeeks)
	if err != nil {
		return nil, err
	}

	comparisons, err := g.engine.Compare(ctx, analytics.CompareRequest{
		Current:         current,
		Previous:        previous,
		Anchor:          req.Anchor,
		GroupBy:         req.GroupBy,
		EntityIDs:       req.EntityIDs,
		Classifications: req.Classifications,
	})
	if err != nil {
		return nil, fmt.Errorf("computing comparison section: %w", err)
	}

	var corridor *domain.CorridorSeries
	if len(req.HistoricalYears) > 0 {
		corridor, err = g.engine.ComputeCorridor(ctx, analytics.CorridorRequest{
			HistoricalYears: req.HistoricalYears,
			CurrentYear:     req.EpiYear,
			UpToWeek:        req.EpiWeek,
			Anchor:          req.Anchor,
			EntityIDs:       req.EntityIDs,
			Classifications: req.Classifications,
			Method:          req.CorridorMethod,
		})
		if err != nil {
			return nil, fmt.Errorf("computing corridor section: %w", err)
		}
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Boletín epidemiológico SE %d/%d", req.EpiWeek, req.EpiYear)
	}

	b := &Bulletin{
		Title:       title,
		EpiYear:     req.EpiYear,
		EpiWeek:     req.EpiWeek,
		Format:      "json",
		GeneratedAt: time.Now().UTC(),
		Payload: BulletinPayload{
			Window:      current,
			Comparisons: comparisons,
			Corridor:    corridor,
		},
	}

	if err := g.store.Save(ctx, b); err != nil {
		return nil, fmt.Errorf("saving bulletin: %w", err)
	}

	g.log.WithFields(logrus.Fields{
		"bulletin_id": b.ID,
		"epi_year":    b.EpiYear,
		"epi_week":    b.EpiWeek,
		"entities":    len(comparisons),
		"corridor":    corridor != nil,
	}).Info("Bulletin generated")

	return b, nil
}

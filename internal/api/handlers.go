package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/analytics"
	"github.com/episurv-server/internal/bulletin"
	"github.com/episurv-server/internal/domain"
	"github.com/episurv-server/internal/epiweek"
	"github.com/episurv-server/internal/grouping"
	"github.com/episurv-server/internal/period"
)

const dateLayout = "2006-01-02"

type groupRefRequest struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}

type comparisonRequest struct {
	SemanaActual        int              `json:"semana_actual"`
	AnioActual          int              `json:"anio_actual"`
	NumSemanas          int              `json:"num_semanas"`
	FechaAncla          string           `json:"fecha_ancla"`
	AgruparPor          string           `json:"agrupar_por"`
	EntityIDs           []int64          `json:"entity_ids"`
	GrupoID             int64            `json:"grupo_id"`
	Grupo               *groupRefRequest `json:"grupo"`
	ClasificacionFilter []string         `json:"clasificacion_filter"`
	FechaDesde          string           `json:"fecha_desde"`
	FechaHasta          string           `json:"fecha_hasta"`
	IncluirSoloPrevios  bool             `json:"incluir_solo_previos"`
	TopN                int              `json:"top_n"`
}

type comparisonResponse struct {
	PeriodoActual   domain.PeriodWindow       `json:"periodo_actual"`
	PeriodoAnterior domain.PeriodWindow       `json:"periodo_anterior"`
	Resultados      []domain.ComparisonResult `json:"resultados"`
}

// handleComparison runs a period-over-period comparison.
func (s *Server) handleComparison(c *gin.Context) {
	var req comparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "invalid JSON payload", err.Error()))
		return
	}

	classifications, err := parseClassifications(req.ClasificacionFilter)
	if err != nil {
		s.respondError(c, err)
		return
	}

	entityIDs, err := s.resolveEntityIDs(c, req.EntityIDs, groupRef(req.GrupoID, req.Grupo))
	if err != nil {
		s.respondError(c, err)
		return
	}

	current, previous, err := s.resolveWindows(req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	results, err := s.deps.Engine.Compare(c.Request.Context(), analytics.CompareRequest{
		Current:             current,
		Previous:            previous,
		Anchor:              domain.AnchorField(req.FechaAncla),
		GroupBy:             domain.GroupByKey(req.AgruparPor),
		EntityIDs:           entityIDs,
		Classifications:     classifications,
		IncludePreviousOnly: req.IncluirSoloPrevios,
		TopN:                req.TopN,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, comparisonResponse{
		PeriodoActual:   current,
		PeriodoAnterior: previous,
		Resultados:      results,
	})
}

// resolveWindows builds the comparison windows, honoring explicit date
// overrides when both bounds are given.
func (s *Server) resolveWindows(req comparisonRequest) (current, previous domain.PeriodWindow, err error) {
	if req.FechaDesde != "" || req.FechaHasta != "" {
		from, perr := time.Parse(dateLayout, req.FechaDesde)
		if perr != nil {
			return current, previous, domain.NewValidationError("fecha_desde", "expected YYYY-MM-DD", req.FechaDesde)
		}
		to, perr := time.Parse(dateLayout, req.FechaHasta)
		if perr != nil {
			return current, previous, domain.NewValidationError("fecha_hasta", "expected YYYY-MM-DD", req.FechaHasta)
		}
		current, err = period.WindowFromDates(from, to)
		if err != nil {
			return current, previous, err
		}
		// Previous window: same length, ending the day before.
		days := int(to.Sub(from)/(24*time.Hour)) + 1
		previous, err = period.WindowFromDates(from.AddDate(0, 0, -days), from.AddDate(0, 0, -1))
		return current, previous, err
	}
	return period.Resolve(req.SemanaActual, req.AnioActual, req.NumSemanas)
}

type corridorRequest struct {
	AnioActual          int              `json:"anio_actual"`
	HastaSemana         int              `json:"hasta_semana"`
	AniosHistoricos     []int            `json:"anios_historicos"`
	FechaAncla          string           `json:"fecha_ancla"`
	EntityIDs           []int64          `json:"entity_ids"`
	GrupoID             int64            `json:"grupo_id"`
	Grupo               *groupRefRequest `json:"grupo"`
	ClasificacionFilter []string         `json:"clasificacion_filter"`
	Metodo              string           `json:"metodo"`
}

// handleCorridor computes the endemic corridor for the requested year.
func (s *Server) handleCorridor(c *gin.Context) {
	var req corridorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "invalid JSON payload", err.Error()))
		return
	}

	classifications, err := parseClassifications(req.ClasificacionFilter)
	if err != nil {
		s.respondError(c, err)
		return
	}

	entityIDs, err := s.resolveEntityIDs(c, req.EntityIDs, groupRef(req.GrupoID, req.Grupo))
	if err != nil {
		s.respondError(c, err)
		return
	}

	cfg := s.configManager.GetConfig().Analytics
	method := req.Metodo
	if method == "" {
		method = cfg.CorridorMethod
	}

	series, err := s.deps.Engine.ComputeCorridor(c.Request.Context(), analytics.CorridorRequest{
		HistoricalYears: req.AniosHistoricos,
		CurrentYear:     req.AnioActual,
		UpToWeek:        req.HastaSemana,
		Anchor:          domain.AnchorField(req.FechaAncla),
		EntityIDs:       entityIDs,
		Classifications: classifications,
		Method:          method,
		MinDataPoints:   cfg.CorridorMinDataPoints,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, series)
}

type epiWeekResponse struct {
	Anio       int    `json:"anio"`
	Semana     int    `json:"semana"`
	FechaDesde string `json:"fecha_desde"`
	FechaHasta string `json:"fecha_hasta"`
}

// handleEpiWeekForDate resolves the epi-week containing a calendar date.
func (s *Server) handleEpiWeekForDate(c *gin.Context) {
	raw := c.Query("fecha")
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		s.respondError(c, domain.NewValidationError("fecha", "expected YYYY-MM-DD", raw))
		return
	}

	bucket := epiweek.Bucket(d)
	start, end, err := epiweek.EpiWeekRange(bucket.Year, bucket.Week)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, epiWeekResponse{
		Anio:       bucket.Year,
		Semana:     bucket.Week,
		FechaDesde: start.Format(dateLayout),
		FechaHasta: end.Format(dateLayout),
	})
}

// handleEpiWeekRange returns the date span of one epi-week.
func (s *Server) handleEpiWeekRange(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("anio"))
	if err != nil {
		s.respondError(c, domain.NewValidationError("anio", "expected a year", c.Param("anio")))
		return
	}
	week, err := strconv.Atoi(c.Param("semana"))
	if err != nil {
		s.respondError(c, domain.NewValidationError("semana", "expected a week number", c.Param("semana")))
		return
	}

	start, end, err := epiweek.EpiWeekRange(year, week)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, epiWeekResponse{
		Anio:       year,
		Semana:     week,
		FechaDesde: start.Format(dateLayout),
		FechaHasta: end.Format(dateLayout),
	})
}

// handlePopulation looks up the projected population of a locality.
func (s *Server) handlePopulation(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("anio"))
	if err != nil {
		s.respondError(c, domain.NewValidationError("anio", "expected a year", c.Param("anio")))
		return
	}
	localityID, err := strconv.ParseInt(c.Param("localidad"), 10, 64)
	if err != nil {
		s.respondError(c, domain.NewValidationError("localidad", "expected a numeric locality ID", c.Param("localidad")))
		return
	}

	population, err := s.deps.Population.Population(c.Request.Context(), year, localityID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"anio":      year,
		"localidad": localityID,
		"poblacion": population,
	})
}

// handleListGroups lists the active disease groups.
func (s *Server) handleListGroups(c *gin.Context) {
	groups, err := s.deps.GroupRepo.ListGroups(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grupos": groups})
}

type bulletinRequest struct {
	Titulo              string           `json:"titulo"`
	SemanaActual        int              `json:"semana_actual"`
	AnioActual          int              `json:"anio_actual"`
	NumSemanas          int              `json:"num_semanas"`
	FechaAncla          string           `json:"fecha_ancla"`
	AgruparPor          string           `json:"agrupar_por"`
	EntityIDs           []int64          `json:"entity_ids"`
	GrupoID             int64            `json:"grupo_id"`
	Grupo               *groupRefRequest `json:"grupo"`
	ClasificacionFilter []string         `json:"clasificacion_filter"`
	AniosHistoricos     []int            `json:"anios_historicos"`
}

// handleGenerateBulletin assembles and stores a weekly bulletin, then
// notifies dashboard subscribers.
func (s *Server) handleGenerateBulletin(c *gin.Context) {
	var req bulletinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "invalid JSON payload", err.Error()))
		return
	}

	classifications, err := parseClassifications(req.ClasificacionFilter)
	if err != nil {
		s.respondError(c, err)
		return
	}

	entityIDs, err := s.resolveEntityIDs(c, req.EntityIDs, groupRef(req.GrupoID, req.Grupo))
	if err != nil {
		s.respondError(c, err)
		return
	}

	b, err := s.deps.Generator.Generate(c.Request.Context(), bulletin.GenerateRequest{
		Title:           req.Titulo,
		EpiYear:         req.AnioActual,
		EpiWeek:         req.SemanaActual,
		NumWeeks:        req.NumSemanas,
		Anchor:          domain.AnchorField(req.FechaAncla),
		GroupBy:         domain.GroupByKey(req.AgruparPor),
		EntityIDs:       entityIDs,
		Classifications: classifications,
		HistoricalYears: req.AniosHistoricos,
		CorridorMethod:  s.configManager.GetConfig().Analytics.CorridorMethod,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.hub.Broadcast(DashboardEvent{
		Type:     "boletin_generado",
		EpiYear:  b.EpiYear,
		EpiWeek:  b.EpiWeek,
		Bulletin: b.ID,
	})

	c.JSON(http.StatusCreated, b)
}

// handleGetBulletin retrieves a stored bulletin by ID.
func (s *Server) handleGetBulletin(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.respondError(c, domain.NewValidationError("id", "expected a numeric bulletin ID", c.Param("id")))
		return
	}

	b, err := s.deps.BulletinStore.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// handleListBulletins lists the bulletins of one epi-year.
func (s *Server) handleListBulletins(c *gin.Context) {
	year := time.Now().UTC()
	epiYear, _ := epiweek.DateToEpiWeek(year)
	if raw := c.Query("anio"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(c, domain.NewValidationError("anio", "expected a year", raw))
			return
		}
		epiYear = parsed
	}

	bulletins, err := s.deps.BulletinStore.ListByYear(c.Request.Context(), epiYear)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anio": epiYear, "boletines": bulletins})
}

type dashboardSummary struct {
	Anio    int                       `json:"anio"`
	Semana  int                       `json:"semana"`
	Periodo domain.PeriodWindow       `json:"periodo"`
	Top     []domain.ComparisonResult `json:"top"`
}

// handleDashboardSummary returns the current week's largest movers.
func (s *Server) handleDashboardSummary(c *gin.Context) {
	summary, err := s.computeDashboardSummary(c, time.Now().UTC())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) computeDashboardSummary(c *gin.Context, now time.Time) (*dashboardSummary, error) {
	anchor := c.DefaultQuery("fecha_ancla", string(domain.AnchorSymptomOnset))
	groupBy := c.DefaultQuery("agrupar_por", string(domain.GroupByDisease))

	epiYear, epiWeek := epiweek.DateToEpiWeek(now)
	current, previous, err := period.Resolve(epiWeek, epiYear, 1)
	if err != nil {
		return nil, err
	}

	results, err := s.deps.Engine.Compare(c.Request.Context(), analytics.CompareRequest{
		Current:  current,
		Previous: previous,
		Anchor:   domain.AnchorField(anchor),
		GroupBy:  domain.GroupByKey(groupBy),
		TopN:     s.configManager.GetConfig().Analytics.DashboardTopN,
	})
	if err != nil {
		return nil, err
	}

	return &dashboardSummary{
		Anio:    epiYear,
		Semana:  epiWeek,
		Periodo: current,
		Top:     results,
	}, nil
}

// groupRef normalizes the two ways clients reference a group: the
// legacy flat grupo_id and the structured grupo object.
func groupRef(grupoID int64, ref *groupRefRequest) domain.GroupRef {
	if ref != nil {
		return domain.GroupRef{ID: ref.ID, Slug: ref.Slug}
	}
	return domain.GroupRef{ID: grupoID}
}

// resolveEntityIDs merges explicit entity IDs with the members of a
// referenced disease group. Group lookups use a fresh per-request
// cache.
func (s *Server) resolveEntityIDs(c *gin.Context, explicit []int64, ref domain.GroupRef) ([]int64, error) {
	if ref.IsZero() {
		return explicit, nil
	}

	cache := grouping.NewRequestCache()
	members, err := s.deps.Groups.ResolveGroup(c.Request.Context(), cache, ref)
	if err != nil {
		return nil, err
	}
	return append(append([]int64{}, explicit...), members...), nil
}

func parseClassifications(raw []string) ([]domain.ClassificationStatus, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]domain.ClassificationStatus, 0, len(raw))
	for _, v := range raw {
		cs := domain.ClassificationStatus(v)
		switch cs {
		case domain.ClassificationSuspected, domain.ClassificationConfirmed,
			domain.ClassificationDiscarded, domain.ClassificationUnderInvestigation:
			out = append(out, cs)
		default:
			return nil, domain.NewValidationError("clasificacion_filter", "unknown classification", v)
		}
	}
	return out, nil
}

// respondError maps domain errors onto the standardized API error body.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")

	var vErr *domain.ValidationError
	var aggErr *domain.AggregationQueryError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeValidation, vErr.Message, fmt.Sprintf("field: %s", vErr.Field), requestID))
	case errors.Is(err, domain.ErrInvalidWindowSize):
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidWindowSize, "num_semanas must be between 1 and 52", err.Error(), requestID))
	case errors.Is(err, domain.ErrInvalidEpiWeek):
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidEpiWeek, "invalid epidemiological week reference", err.Error(), requestID))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, domain.NewAPIError(
			domain.ErrCodeValidation, "resource not found", "", requestID))
	case errors.As(err, &aggErr):
		// Storage detail stays in the logs, not the response.
		s.deps.Logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"op":         aggErr.Op,
		}).WithError(aggErr.Err).Error("Aggregation query failed")
		c.JSON(http.StatusServiceUnavailable, domain.NewAPIError(
			domain.ErrCodeAggregationQuery, "analytics backend unavailable", "", requestID))
	default:
		s.deps.Logger.WithField("request_id", requestID).WithError(err).Error("Unhandled request error")
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrCodeInternalServer, "internal server error", "", requestID))
	}
}

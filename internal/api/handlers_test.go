package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/episurv-server/internal/analytics"
	"github.com/episurv-server/internal/bulletin"
	"github.com/episurv-server/internal/domain"
	"github.com/episurv-server/internal/grouping"
	"github.com/episurv-server/internal/refdata"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeConfigManager struct {
	cfg domain.Config
}

func (f *fakeConfigManager) GetConfig() *domain.Config                 { return &f.cfg }
func (f *fakeConfigManager) GetDatabaseConfig() *domain.DatabaseConfig { return &f.cfg.Database }
func (f *fakeConfigManager) GetServerConfig() *domain.ServerConfig     { return &f.cfg.Server }
func (f *fakeConfigManager) Validate() error                           { return nil }
func (f *fakeConfigManager) GetDatabaseConnectionString() string       { return "" }
func (f *fakeConfigManager) GetDatabaseURL() string                    { return "" }

type fakeAggregateStore struct {
	mu      sync.Mutex
	byFrom  map[string][]domain.EntityCount
	weekly  []domain.WeeklyCount
	err     error
	queries []domain.AggregateQuery
}

func (f *fakeAggregateStore) CountByEntity(ctx context.Context, q domain.AggregateQuery) ([]domain.EntityCount, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byFrom[q.DateFrom.Format("2006-01-02")], nil
}

func (f *fakeAggregateStore) WeeklyCounts(ctx context.Context, q domain.WeeklyQuery) ([]domain.WeeklyCount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.weekly, nil
}

type fakeGroupRepo struct {
	members     map[string][]int64
	membersByID map[int64][]int64
	groups      []domain.DiseaseGroup
}

func (f *fakeGroupRepo) GroupMemberIDs(ctx context.Context, ref domain.GroupRef) ([]int64, error) {
	if ids, ok := f.members[ref.Slug]; ok {
		return ids, nil
	}
	if ids, ok := f.membersByID[ref.ID]; ok {
		return ids, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeGroupRepo) ListGroups(ctx context.Context) ([]domain.DiseaseGroup, error) {
	return f.groups, nil
}

type fakeBulletinStore struct {
	saved map[int64]*bulletin.Bulletin
}

func (f *fakeBulletinStore) Save(ctx context.Context, b *bulletin.Bulletin) error {
	if f.saved == nil {
		f.saved = make(map[int64]*bulletin.Bulletin)
	}
	b.ID = int64(len(f.saved) + 1)
	f.saved[b.ID] = b
	return nil
}

func (f *fakeBulletinStore) Get(ctx context.Context, id int64) (*bulletin.Bulletin, error) {
	b, ok := f.saved[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBulletinStore) ListByYear(ctx context.Context, epiYear int) ([]*bulletin.Bulletin, error) {
	var out []*bulletin.Bulletin
	for _, b := range f.saved {
		if b.EpiYear == epiYear {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBulletinStore) Close() error { return nil }

type fakePopulationRepo struct {
	figures map[int64]int64
}

func (f *fakePopulationRepo) PopulationFor(ctx context.Context, year int, localityID int64) (int64, error) {
	pop, ok := f.figures[localityID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return pop, nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestServer(agg *fakeAggregateStore, groupRepo *fakeGroupRepo) (*Server, *fakeBulletinStore) {
	log := testLogger()
	engine := analytics.NewEngine(agg, log)
	store := &fakeBulletinStore{}
	cfgMgr := &fakeConfigManager{cfg: domain.Config{
		Server: domain.ServerConfig{RateLimit: 1000, RateBurst: 1000},
		Analytics: domain.AnalyticsConfig{
			CorridorMethod:        "minmax",
			CorridorMinDataPoints: 3,
			DashboardTopN:         5,
		},
	}}

	population, _ := refdata.NewPopulationService(domain.CacheConfig{},
		&fakePopulationRepo{figures: map[int64]int64{7: 125000}}, log)

	srv := NewServer(cfgMgr, Dependencies{
		Engine:        engine,
		Groups:        grouping.NewResolver(groupRepo, log),
		GroupRepo:     groupRepo,
		Generator:     bulletin.NewGenerator(engine, store, log),
		BulletinStore: store,
		Population:    population,
		Logger:        log,
	})
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleComparison(t *testing.T) {
	agg := &fakeAggregateStore{
		byFrom: map[string][]domain.EntityCount{
			"2023-12-24": {
				{EntityID: 1, Label: "Dengue", Count: 50},
			},
			"2023-11-26": {
				{EntityID: 1, Label: "Dengue", Count: 40},
				{EntityID: 2, Label: "Zika", Count: 10},
			},
		},
	}
	srv, _ := newTestServer(agg, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/analytics/comparacion", gin.H{
		"semana_actual": 3,
		"anio_actual":   2024,
		"num_semanas":   4,
		"fecha_ancla":   "inicio_sintomas",
		"agrupar_por":   "enfermedad",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp comparisonResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 52, resp.PeriodoActual.WeekFrom)
	assert.Equal(t, 2023, resp.PeriodoActual.YearFrom)
	assert.Equal(t, 3, resp.PeriodoActual.WeekTo)
	assert.Equal(t, 2024, resp.PeriodoActual.YearTo)

	// Zika reported only in the previous period and is excluded.
	require.Len(t, resp.Resultados, 1)
	assert.Equal(t, "Dengue", resp.Resultados[0].EntityLabel)
	assert.Equal(t, float64(25), resp.Resultados[0].PercentageDelta)
	assert.Equal(t, domain.TrendGrowth, resp.Resultados[0].Trend)
}

func TestHandleComparison_GroupExpansion(t *testing.T) {
	agg := &fakeAggregateStore{byFrom: map[string][]domain.EntityCount{}}
	groupRepo := &fakeGroupRepo{members: map[string][]int64{
		"arbovirosis": {3, 7, 9},
	}}
	srv, _ := newTestServer(agg, groupRepo)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/analytics/comparacion", gin.H{
		"semana_actual": 10,
		"anio_actual":   2024,
		"num_semanas":   2,
		"fecha_ancla":   "apertura",
		"agrupar_por":   "enfermedad",
		"grupo":         gin.H{"slug": "arbovirosis"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, agg.queries, 2)
	assert.Equal(t, []int64{3, 7, 9}, agg.queries[0].EntityIDs)
}

func TestHandleComparison_FlatGroupID(t *testing.T) {
	agg := &fakeAggregateStore{byFrom: map[string][]domain.EntityCount{}}
	groupRepo := &fakeGroupRepo{membersByID: map[int64][]int64{
		4: {11, 12},
	}}
	srv, _ := newTestServer(agg, groupRepo)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/analytics/comparacion", gin.H{
		"semana_actual": 10,
		"anio_actual":   2024,
		"num_semanas":   2,
		"fecha_ancla":   "apertura",
		"agrupar_por":   "enfermedad",
		"grupo_id":      4,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, agg.queries, 2)
	assert.Equal(t, []int64{11, 12}, agg.queries[0].EntityIDs)
}

func TestHandleComparison_DateOverride(t *testing.T) {
	agg := &fakeAggregateStore{byFrom: map[string][]domain.EntityCount{}}
	srv, _ := newTestServer(agg, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/analytics/comparacion", gin.H{
		"fecha_ancla": "inicio_sintomas",
		"agrupar_por": "enfermedad",
		"fecha_desde": "2024-01-01",
		"fecha_hasta": "2024-01-14",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp comparisonResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Previous window is the preceding 14 days.
	assert.Equal(t, "2023-12-18", resp.PeriodoAnterior.DateFrom.Format("2006-01-02"))
	assert.Equal(t, "2023-12-31", resp.PeriodoAnterior.DateTo.Format("2006-01-02"))
}

func TestHandleComparison_ValidationFailures(t *testing.T) {
	srv, _ := newTestServer(&fakeAggregateStore{}, &fakeGroupRepo{})

	tests := []struct {
		name string
		body gin.H
		code string
	}{
		{
			name: "window too large",
			body: gin.H{"semana_actual": 3, "anio_actual": 2024, "num_semanas": 53,
				"fecha_ancla": "inicio_sintomas", "agrupar_por": "enfermedad"},
			code: domain.ErrCodeInvalidWindowSize,
		},
		{
			name: "missing window size",
			body: gin.H{"semana_actual": 3, "anio_actual": 2024,
				"fecha_ancla": "inicio_sintomas", "agrupar_por": "enfermedad"},
			code: domain.ErrCodeInvalidWindowSize,
		},
		{
			name: "week beyond year length",
			body: gin.H{"semana_actual": 53, "anio_actual": 2024, "num_semanas": 1,
				"fecha_ancla": "inicio_sintomas", "agrupar_por": "enfermedad"},
			code: domain.ErrCodeInvalidEpiWeek,
		},
		{
			name: "missing anchor",
			body: gin.H{"semana_actual": 3, "anio_actual": 2024, "num_semanas": 1,
				"agrupar_por": "enfermedad"},
			code: domain.ErrCodeValidation,
		},
		{
			name: "unknown classification",
			body: gin.H{"semana_actual": 3, "anio_actual": 2024, "num_semanas": 1,
				"fecha_ancla": "inicio_sintomas", "agrupar_por": "enfermedad",
				"clasificacion_filter": []string{"probable"}},
			code: domain.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/v1/analytics/comparacion", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var apiErr domain.APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestHandleComparison_StorageUnavailable(t *testing.T) {
	agg := &fakeAggregateStore{err: errors.New("connection refused")}
	srv, _ := newTestServer(agg, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/analytics/comparacion", gin.H{
		"semana_actual": 3,
		"anio_actual":   2024,
		"num_semanas":   1,
		"fecha_ancla":   "inicio_sintomas",
		"agrupar_por":   "enfermedad",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.ErrCodeAggregationQuery, apiErr.Code)
	// No storage detail leaks into the response.
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestHandleCorridor(t *testing.T) {
	agg := &fakeAggregateStore{
		weekly: []domain.WeeklyCount{
			{Year: 2022, Week: 1, Count: 10},
			{Year: 2023, Week: 1, Count: 30},
			{Year: 2024, Week: 1, Count: 25},
		},
	}
	srv, _ := newTestServer(agg, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/analytics/corredor", gin.H{
		"anio_actual":      2024,
		"hasta_semana":     10,
		"anios_historicos": []int{2022, 2023},
		"fecha_ancla":      "inicio_sintomas",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var series domain.CorridorSeries
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	assert.Equal(t, 2024, series.CurrentYear)
	assert.Equal(t, "minmax", series.Method)
	require.NotEmpty(t, series.Points)
	require.NotNil(t, series.Points[0].Low)
	assert.Equal(t, float64(10), *series.Points[0].Low)
	require.NotNil(t, series.Points[0].CurrentActual)
	assert.Equal(t, 25, *series.Points[0].CurrentActual)
}

func TestHandleEpiWeekForDate(t *testing.T) {
	srv, _ := newTestServer(&fakeAggregateStore{}, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/epiweek?fecha=2024-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp epiWeekResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2024, resp.Anio)
	assert.Equal(t, 1, resp.Semana)
	assert.Equal(t, "2023-12-31", resp.FechaDesde)
	assert.Equal(t, "2024-01-06", resp.FechaHasta)
}

func TestHandleEpiWeekRange(t *testing.T) {
	srv, _ := newTestServer(&fakeAggregateStore{}, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/epiweek/2025/53", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp epiWeekResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-12-28", resp.FechaDesde)
	assert.Equal(t, "2026-01-03", resp.FechaHasta)

	// 2024 only has 52 weeks.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/epiweek/2024/53", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, domain.ErrCodeInvalidEpiWeek, apiErr.Code)
}

func TestHandleListGroups(t *testing.T) {
	groupRepo := &fakeGroupRepo{groups: []domain.DiseaseGroup{
		{ID: 1, Slug: "arbovirosis", Name: "Arbovirosis", Active: true},
	}}
	srv, _ := newTestServer(&fakeAggregateStore{}, groupRepo)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/grupos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arbovirosis")
}

func TestBulletinLifecycle(t *testing.T) {
	agg := &fakeAggregateStore{byFrom: map[string][]domain.EntityCount{}}
	srv, store := newTestServer(agg, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/boletines", gin.H{
		"semana_actual": 3,
		"anio_actual":   2024,
		"num_semanas":   4,
		"fecha_ancla":   "inicio_sintomas",
		"agrupar_por":   "enfermedad",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created bulletin.Bulletin
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Len(t, store.saved, 1)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/boletines/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/boletines/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePopulation(t *testing.T) {
	srv, _ := newTestServer(&fakeAggregateStore{}, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/poblacion/2024/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "125000")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/poblacion/2024/99", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(&fakeAggregateStore{}, &fakeGroupRepo{})

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

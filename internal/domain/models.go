package domain

import (
	"time"
)

// AnchorField selects which date on a case buckets it into an epi-week.
// Every analytical query must name its anchor explicitly; there is no
// default.
type AnchorField string

const (
	AnchorSymptomOnset AnchorField = "inicio_sintomas"
	AnchorCaseOpened   AnchorField = "apertura"
	AnchorMinEvidence  AnchorField = "minima_evidencia"
)

// Valid reports whether the anchor is one of the known date fields.
func (a AnchorField) Valid() bool {
	switch a {
	case AnchorSymptomOnset, AnchorCaseOpened, AnchorMinEvidence:
		return true
	}
	return false
}

// ClassificationStatus is the epidemiological classification of a case.
type ClassificationStatus string

const (
	ClassificationSuspected          ClassificationStatus = "sospechoso"
	ClassificationConfirmed          ClassificationStatus = "confirmado"
	ClassificationDiscarded          ClassificationStatus = "descartado"
	ClassificationUnderInvestigation ClassificationStatus = "en_estudio"
)

// CaseEvent is a single reported case as read from storage. The engine
// never writes these.
type CaseEvent struct {
	ID              int64                `json:"id"`
	CitizenID       int64                `json:"citizen_id"`
	DiseaseTypeID   int64                `json:"disease_type_id"`
	EstablishmentID int64                `json:"establishment_id"`
	LocalityID      int64                `json:"locality_id"`
	Classification  ClassificationStatus `json:"classification"`
	SymptomOnset    *time.Time           `json:"symptom_onset,omitempty"`
	OpenedAt        *time.Time           `json:"opened_at,omitempty"`
	MinEvidenceAt   *time.Time           `json:"min_evidence_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

// DiseaseType is a catalog entry for a notifiable disease or event type.
type DiseaseType struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// DiseaseGroup is a named grouping of disease types. Membership is
// many-to-many: a disease type may belong to several groups.
type DiseaseGroup struct {
	ID     int64  `json:"id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// GroupRef identifies a disease group either by numeric ID or by slug.
type GroupRef struct {
	ID   int64  `json:"id,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// IsZero reports whether the reference names no group at all.
func (r GroupRef) IsZero() bool {
	return r.ID == 0 && r.Slug == ""
}

// Establishment is a notifying health establishment.
type Establishment struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	LocalityID int64  `json:"locality_id"`
}

// EpiWeekBucket is the derived aggregation key for a case date. It is
// never persisted; always recomputed from an anchor date.
type EpiWeekBucket struct {
	Year int `json:"anio"`
	Week int `json:"semana"`
}

// PeriodWindow is a resolved span of whole epi-weeks with its concrete
// date boundaries. Immutable once computed.
type PeriodWindow struct {
	DateFrom time.Time `json:"fecha_desde"`
	DateTo   time.Time `json:"fecha_hasta"`
	WeekFrom int       `json:"semana_desde"`
	WeekTo   int       `json:"semana_hasta"`
	YearFrom int       `json:"anio_desde"`
	// YearTo is the reference year of the window (the year of its last
	// week); serialized as "anio" for upstream consumers.
	YearTo int `json:"anio"`
}

// GroupByKey selects the entity dimension for aggregate queries.
type GroupByKey string

const (
	GroupByDisease       GroupByKey = "enfermedad"
	GroupByEstablishment GroupByKey = "establecimiento"
	GroupByProvince      GroupByKey = "provincia"
)

// Valid reports whether the key maps to a known grouping dimension.
func (g GroupByKey) Valid() bool {
	switch g {
	case GroupByDisease, GroupByEstablishment, GroupByProvince:
		return true
	}
	return false
}

// TrendCategory classifies a period-over-period change by its sign.
type TrendCategory string

const (
	TrendGrowth  TrendCategory = "growth"
	TrendDecline TrendCategory = "decline"
	TrendStable  TrendCategory = "stable"
)

// PercentageDeltaSentinel marks "new entity" growth: a current-period
// count with no previous-period baseline. Downstream consumers detect
// it by value comparison instead of handling a division error.
const PercentageDeltaSentinel = 999.99

// ComparisonResult is one row of a period comparison. Computed per
// request, never persisted.
type ComparisonResult struct {
	EntityID        int64         `json:"entity_id"`
	EntityLabel     string        `json:"entity_label"`
	CountCurrent    int           `json:"count_current"`
	CountPrevious   int           `json:"count_previous"`
	AbsoluteDelta   int           `json:"absolute_delta"`
	PercentageDelta float64       `json:"percentage_delta"`
	Trend           TrendCategory `json:"trend_category"`
}

// EntityCount is one aggregate row returned by the storage collaborator.
type EntityCount struct {
	EntityID int64
	Label    string
	Count    int
}

// AggregateQuery describes a windowed COUNT(DISTINCT case) query.
type AggregateQuery struct {
	DateFrom        time.Time
	DateTo          time.Time
	Anchor          AnchorField
	GroupBy         GroupByKey
	EntityIDs       []int64
	Classifications []ClassificationStatus
}

// WeeklyQuery describes a per-epi-week count query over the weekly
// datamart, restricted to a set of epi-years.
type WeeklyQuery struct {
	Years           []int
	Anchor          AnchorField
	EntityIDs       []int64
	Classifications []ClassificationStatus
}

// WeeklyCount is one (epi-year, epi-week) count row.
type WeeklyCount struct {
	Year  int
	Week  int
	Count int
}

// DailyCount is a per-anchor-date count row used when rebuilding the
// weekly datamart.
type DailyCount struct {
	Date           time.Time
	DiseaseTypeID  int64
	Classification ClassificationStatus
	Count          int
}

// WeeklyCountRow is one datamart row produced by the refresher.
type WeeklyCountRow struct {
	Year           int
	Week           int
	DiseaseTypeID  int64
	Classification ClassificationStatus
	Count          int
}

// CorridorPoint is one epi-week of the endemic corridor. Bounds are nil
// when no historical year contributes data for that week; nil means
// "unknown", not "zero cases expected".
type CorridorPoint struct {
	EpiWeek       int      `json:"epi_week"`
	Low           *float64 `json:"historical_low"`
	Median        *float64 `json:"historical_median"`
	High          *float64 `json:"historical_high"`
	CurrentActual *int     `json:"current_actual"`
}

// CorridorSeries is the full corridor for a current year against its
// historical envelope, ready for area+line chart rendering.
type CorridorSeries struct {
	CurrentYear     int             `json:"anio_actual"`
	HistoricalYears []int           `json:"anios_historicos"`
	Method          string          `json:"metodo"`
	Points          []CorridorPoint `json:"points"`
}

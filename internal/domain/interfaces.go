package domain

import (
	"context"
	"time"
)

// AggregateStore is the storage collaborator consumed by the analytics
// engine. Implementations execute read-only aggregate queries; the
// engine treats rows as opaque (count + grouping key columns).
type AggregateStore interface {
	// CountByEntity runs COUNT(DISTINCT case) grouped by the query's
	// entity dimension over the anchor-date window.
	CountByEntity(ctx context.Context, q AggregateQuery) ([]EntityCount, error)
	// WeeklyCounts returns per-(epi-year, epi-week) counts from the
	// weekly datamart for the requested years.
	WeeklyCounts(ctx context.Context, q WeeklyQuery) ([]WeeklyCount, error)
}

// DatamartStore is the write side of the weekly datamart, used only by
// the background refresher.
type DatamartStore interface {
	DailyCounts(ctx context.Context, anchor AnchorField, from, to time.Time) ([]DailyCount, error)
	ReplaceWeeklyCounts(ctx context.Context, anchor AnchorField, epiYear int, rows []WeeklyCountRow) error
}

// GroupRepository resolves disease-group membership.
type GroupRepository interface {
	// GroupMemberIDs returns the distinct disease-type IDs belonging to
	// the referenced group. ErrNotFound for an unknown or inactive
	// group.
	GroupMemberIDs(ctx context.Context, ref GroupRef) ([]int64, error)
	ListGroups(ctx context.Context) ([]DiseaseGroup, error)
}

// PopulationRepository is the read-only population lookup collaborator.
type PopulationRepository interface {
	PopulationFor(ctx context.Context, year int, localityID int64) (int64, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
}

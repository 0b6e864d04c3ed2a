package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Datamart  DatamartConfig  `mapstructure:"datamart"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents the reference-data cache configuration.
// An empty RedisURL disables caching; lookups fall through to storage.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AnalyticsConfig tunes the comparison/corridor engines.
type AnalyticsConfig struct {
	// CorridorMethod selects the envelope statistic: "minmax" or
	// "meansd".
	CorridorMethod string `mapstructure:"corridor_method"`
	// CorridorMinDataPoints is the preferred minimum number of
	// historical data points per week; weeks with fewer still use the
	// available subset.
	CorridorMinDataPoints int `mapstructure:"corridor_min_data_points"`
	// DashboardTopN limits the dashboard summary to the N largest
	// movers.
	DashboardTopN int `mapstructure:"dashboard_top_n"`
}

// DatamartConfig configures the weekly-counts refresh job.
type DatamartConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Schedule is a cron expression; default rebuilds nightly.
	Schedule string `mapstructure:"schedule"`
	// YearsBack is how many epi-years before the current one are
	// rebuilt on each run.
	YearsBack int `mapstructure:"years_back"`
}

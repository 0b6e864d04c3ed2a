// Package refdata serves read-only reference lookups (population
// figures) with a Redis cache in front of the repository. Reference
// tables change yearly, so a generous TTL is safe; a cache outage
// degrades to direct repository reads.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/domain"
)

// PopulationService resolves population figures with caching.
type PopulationService struct {
	redis *redis.Client
	repo  domain.PopulationRepository
	ttl   time.Duration
	log   *logrus.Logger
}

type cachedPopulation struct {
	Population int64     `json:"population"`
	CachedAt   time.Time `json:"cached_at"`
}

// NewPopulationService creates the service. An empty RedisURL disables
// caching; all lookups then go straight to the repository.
func NewPopulationService(cfg domain.CacheConfig, repo domain.PopulationRepository, logger *logrus.Logger) (*PopulationService, error) {
	s := &PopulationService{
		repo: repo,
		ttl:  cfg.DefaultTTL,
		log:  logger,
	}
	if s.ttl == 0 {
		s.ttl = 24 * time.Hour
	}

	if cfg.RedisURL == "" {
		logger.Info("Reference-data cache disabled, lookups go to storage")
		return s, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.PoolTimeout
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	s.redis = client
	return s, nil
}

// Population returns the projected population for (year, locality),
// serving from cache when possible. Cache errors are logged and fall
// through to the repository; they never fail a lookup.
func (s *PopulationService) Population(ctx context.Context, year int, localityID int64) (int64, error) {
	key := populationKey(year, localityID)

	if s.redis != nil {
		val, err := s.redis.Get(ctx, key).Result()
		switch {
		case err == nil:
			var cached cachedPopulation
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return cached.Population, nil
			}
			// corrupt entry, fall through to storage
		case err != redis.Nil:
			s.log.WithError(err).Warn("Population cache read failed")
		}
	}

	population, err := s.repo.PopulationFor(ctx, year, localityID)
	if err != nil {
		return 0, err
	}

	if s.redis != nil {
		payload, err := json.Marshal(cachedPopulation{
			Population: population,
			CachedAt:   time.Now().UTC(),
		})
		if err == nil {
			if err := s.redis.Set(ctx, key, payload, s.ttl).Err(); err != nil {
				s.log.WithError(err).Warn("Population cache write failed")
			}
		}
	}

	return population, nil
}

// Close releases the Redis client.
func (s *PopulationService) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func populationKey(year int, localityID int64) string {
	return fmt.Sprintf("refdata:population:%d:%d", year, localityID)
}

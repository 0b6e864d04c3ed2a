// Package grouping resolves disease-group references into concrete
// entity-ID sets. Lookups are cached per request: the cache is an
// explicit value created at the request boundary and passed down the
// call chain, never instance state that outlives a request.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/domain"
)

// RequestCache memoizes group resolutions within a single request. Not
// safe for concurrent use; a request resolves groups sequentially.
type RequestCache struct {
	groups map[string][]int64
}

// NewRequestCache creates an empty per-request cache.
func NewRequestCache() *RequestCache {
	return &RequestCache{groups: make(map[string][]int64)}
}

// Resolver turns group references into disease-type ID sets.
type Resolver struct {
	repo domain.GroupRepository
	log  *logrus.Logger
}

// NewResolver creates a new group resolver.
func NewResolver(repo domain.GroupRepository, logger *logrus.Logger) *Resolver {
	return &Resolver{
		repo: repo,
		log:  logger,
	}
}

// ResolveGroup returns the distinct, sorted disease-type IDs belonging
// to the referenced group. An unknown or inactive group resolves to an
// empty set, not an error: downstream charts render "no data".
func (r *Resolver) ResolveGroup(ctx context.Context, cache *RequestCache, ref domain.GroupRef) ([]int64, error) {
	key := cacheKey(ref)
	if ids, ok := cache.groups[key]; ok {
		return ids, nil
	}

	ids, err := r.repo.GroupMemberIDs(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.log.WithFields(logrus.Fields{
				"group_id":   ref.ID,
				"group_slug": ref.Slug,
			}).Warn("Unknown group reference resolved to empty set")
			ids = []int64{}
			cache.groups[key] = ids
			return ids, nil
		}
		return nil, fmt.Errorf("resolving group members: %w", err)
	}

	ids = dedupe(ids)
	cache.groups[key] = ids
	return ids, nil
}

// dedupe sorts and removes duplicate IDs so a disease belonging to the
// group through several memberships is counted once.
func dedupe(ids []int64) []int64 {
	if len(ids) == 0 {
		return []int64{}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

func cacheKey(ref domain.GroupRef) string {
	if ref.Slug != "" {
		return "slug:" + ref.Slug
	}
	return fmt.Sprintf("id:%d", ref.ID)
}

// Package resolver maps a platform channel/server identifier to the
// community that owns it, caching results with a TTL (default 600s).
//
// A cache miss queries the persistent store; a store miss after that is a
// CommunityNotFound error and the event is not processed further. There is no
// negative cache: unmapped channels are a configuration error, expected to be
// rare, and an operator fixing the mapping should not wait out a TTL.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/repo"
)

// ErrCommunityNotFound indicates the channel is not mapped to any community.
var ErrCommunityNotFound = errors.New("community not found")

// CommunityRepo defines the repository contract required by Resolver.
type CommunityRepo interface {
	FindCommunity(ctx context.Context, db *gorm.DB, platform, channelID string) (string, error)
}

// Resolver provides cached entity-to-community resolution. Construct one at
// startup and share it; it is safe for concurrent use.
type Resolver struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the community mapping repository used by this resolver.
	Repo CommunityRepo

	cache *gocache.Cache
	ttl   time.Duration
}

// New constructs a Resolver with the given cache TTL (default 600s when
// non-positive).
func New(db *gorm.DB, r CommunityRepo, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &Resolver{
		DB:    db,
		Repo:  r,
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func mappingKey(platform domain.Platform, channelID string) string {
	return string(platform) + "|" + channelID
}

// Resolve returns the community ID owning (platform, channelID), or
// ErrCommunityNotFound.
func (r *Resolver) Resolve(ctx context.Context, platform domain.Platform, channelID string) (string, error) {
	key := mappingKey(platform, channelID)
	if v, ok := r.cache.Get(key); ok {
		return v.(string), nil
	}

	communityID, err := r.Repo.FindCommunity(ctx, r.DB, string(platform), channelID)
	switch {
	case err == nil:
		r.cache.Set(key, communityID, r.ttl)
		return communityID, nil
	case errors.Is(err, repo.ErrNotFound):
		return "", ErrCommunityNotFound
	default:
		return "", fmt.Errorf("community lookup: %w", err)
	}
}

// Invalidate drops the cached mapping for (platform, channelID), used when an
// administrative action reassigns a channel.
func (r *Resolver) Invalidate(platform domain.Platform, channelID string) {
	r.cache.Delete(mappingKey(platform, channelID))
}

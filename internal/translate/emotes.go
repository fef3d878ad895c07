package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// EmoteSource supplies the full emote name set for the deployment's
// platforms. The production implementation calls the platform emote API; the
// static implementation serves fixed sets for tests and offline setups.
type EmoteSource interface {
	Emotes(ctx context.Context) ([]string, error)
}

// StaticEmotes is an EmoteSource over a fixed list.
type StaticEmotes []string

// Emotes returns the fixed list.
func (s StaticEmotes) Emotes(context.Context) ([]string, error) { return s, nil }

// HTTPEmoteSource fetches the emote name list from a JSON endpoint returning
// an array of strings.
type HTTPEmoteSource struct {
	URL    string
	Client *http.Client
}

// Emotes performs the fetch.
func (h *HTTPEmoteSource) Emotes(ctx context.Context) ([]string, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("emote source: unexpected status %d", resp.StatusCode)
	}
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, fmt.Errorf("emote source: decode: %w", err)
	}
	return names, nil
}

const emoteCacheKey = "emotes"

// EmoteResolver caches the emote set from a source with its own TTL and
// answers membership checks. A failed refresh logs and reports no emotes so
// translation proceeds without emote preservation rather than failing.
type EmoteResolver struct {
	source EmoteSource
	cache  *gocache.Cache
	ttl    time.Duration
	log    zerolog.Logger
}

// NewEmoteResolver constructs a resolver over source with the given cache
// TTL (default 600s when non-positive).
func NewEmoteResolver(source EmoteSource, ttl time.Duration, log zerolog.Logger) *EmoteResolver {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &EmoteResolver{
		source: source,
		cache:  gocache.New(ttl, 2*ttl),
		ttl:    ttl,
		log:    log,
	}
}

// IsEmote reports whether word is a known emote name. Emote names are
// case-sensitive on every supported platform.
func (r *EmoteResolver) IsEmote(ctx context.Context, word string) bool {
	set := r.set(ctx)
	_, ok := set[word]
	return ok
}

func (r *EmoteResolver) set(ctx context.Context) map[string]struct{} {
	if v, ok := r.cache.Get(emoteCacheKey); ok {
		return v.(map[string]struct{})
	}
	names, err := r.source.Emotes(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("emote refresh failed, skipping emote preservation")
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	r.cache.Set(emoteCacheKey, set, r.ttl)
	return set
}

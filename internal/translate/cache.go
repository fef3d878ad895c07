package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/repo"
	"github.com/openflux/eventrouter/internal/store"
)

// Cache tiers, in lookup order.
const (
	TierLocal      = "local"
	TierShared     = "shared"
	TierPersistent = "persistent"
)

// Cached is the value held by the upper cache tiers.
type Cached struct {
	Text       string  `json:"text"`
	Provider   string  `json:"provider"`
	Confidence float64 `json:"confidence"`
}

// CacheKey derives the canonical cache key for a translation triple.
func CacheKey(sourceText, sourceLang, targetLang string) string {
	h := sha256.Sum256([]byte(sourceText + "\x00" + sourceLang + "\x00" + targetLang))
	return hex.EncodeToString(h[:])
}

// TranslationRepo defines the persistent-tier contract required by Tiered.
type TranslationRepo interface {
	GetTranslation(ctx context.Context, db *gorm.DB, key string) (*domain.TranslationEntry, error)
	UpsertTranslation(ctx context.Context, db *gorm.DB, e *domain.TranslationEntry) error
}

// Tiered is the 3-tier translation cache: a small in-process tier with a
// short TTL, a shared Redis tier with a medium TTL, and the authoritative
// persistent tier with access bookkeeping. A hit at a lower tier promotes the
// value into all tiers above it. Every tier is optional; a missing or failing
// tier is skipped, never fatal.
type Tiered struct {
	local     *gocache.Cache
	shared    store.KV // nil when no shared store configured
	db        *gorm.DB // nil disables the persistent tier
	repo      TranslationRepo
	sharedTTL time.Duration
	localTTL  time.Duration
	localMax  int
	log       zerolog.Logger
}

// NewTiered constructs the cache. localTTL/sharedTTL fall back to 60s and 1h
// when non-positive; localMax bounds the in-process tier (default 256).
func NewTiered(shared store.KV, db *gorm.DB, r TranslationRepo, localTTL, sharedTTL time.Duration, localMax int, log zerolog.Logger) *Tiered {
	if localTTL <= 0 {
		localTTL = 60 * time.Second
	}
	if sharedTTL <= 0 {
		sharedTTL = time.Hour
	}
	if localMax <= 0 {
		localMax = 256
	}
	return &Tiered{
		local:     gocache.New(localTTL, 2*localTTL),
		shared:    shared,
		db:        db,
		repo:      r,
		localTTL:  localTTL,
		sharedTTL: sharedTTL,
		localMax:  localMax,
		log:       log,
	}
}

func sharedKey(key string) string { return "tr:" + key }

// Get looks key up tier by tier. On a hit it returns the cached value and the
// tier that served it, after promoting the value upward and bumping the
// persistent access bookkeeping (best-effort).
func (t *Tiered) Get(ctx context.Context, key string) (*Cached, string, bool) {
	if v, ok := t.local.Get(key); ok {
		c := v.(*Cached)
		t.touch(ctx, key)
		return c, TierLocal, true
	}

	if t.shared != nil {
		raw, err := t.shared.Get(ctx, sharedKey(key))
		switch {
		case err == nil:
			var c Cached
			if jerr := json.Unmarshal([]byte(raw), &c); jerr == nil {
				t.setLocal(key, &c)
				t.touch(ctx, key)
				return &c, TierShared, true
			}
		case !errors.Is(err, store.ErrMiss):
			t.log.Warn().Err(err).Msg("shared translation tier unavailable")
		}
	}

	if t.db != nil && t.repo != nil {
		e, err := t.repo.GetTranslation(ctx, t.db, key)
		switch {
		case err == nil:
			c := &Cached{Text: e.TranslatedText, Provider: e.Provider, Confidence: e.Confidence}
			t.promote(ctx, key, c)
			return c, TierPersistent, true
		case !errors.Is(err, repo.ErrNotFound):
			t.log.Warn().Err(err).Msg("persistent translation tier unavailable")
		}
	}

	return nil, "", false
}

// touch bumps the persistent access bookkeeping for an upper-tier hit. The
// persistent row is the only place access counts live; losing a bump to an
// outage only skews eviction scoring.
func (t *Tiered) touch(ctx context.Context, key string) {
	if t.db == nil || t.repo == nil {
		return
	}
	if _, err := t.repo.GetTranslation(ctx, t.db, key); err != nil && !errors.Is(err, repo.ErrNotFound) {
		t.log.Debug().Err(err).Msg("translation access bump failed")
	}
}

// setLocal inserts into the in-process tier unless it is full. go-cache
// has no eviction policy, so the bound is enforced at insert time; a
// skipped entry still lives in the tiers below.
func (t *Tiered) setLocal(key string, c *Cached) {
	if _, ok := t.local.Get(key); !ok && t.local.ItemCount() >= t.localMax {
		return
	}
	t.local.Set(key, c, t.localTTL)
}

// promote writes the value into the tiers above the persistent one.
func (t *Tiered) promote(ctx context.Context, key string, c *Cached) {
	t.setLocal(key, c)
	if t.shared != nil {
		raw, _ := json.Marshal(c)
		if err := t.shared.Set(ctx, sharedKey(key), string(raw), t.sharedTTL); err != nil {
			t.log.Warn().Err(err).Msg("shared translation tier write failed")
		}
	}
}

// Put stores a fresh translation in all tiers.
func (t *Tiered) Put(ctx context.Context, key string, entry *domain.TranslationEntry) {
	c := &Cached{Text: entry.TranslatedText, Provider: entry.Provider, Confidence: entry.Confidence}
	t.promote(ctx, key, c)
	if t.db != nil && t.repo != nil {
		if err := t.repo.UpsertTranslation(ctx, t.db, entry); err != nil {
			t.log.Warn().Err(err).Msg("persistent translation tier write failed")
		}
	}
}

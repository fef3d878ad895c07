// Package registry maps command strings to handler bindings, with
// community-over-global precedence, a TTL cache, and write-through mutations.
//
// Resolution order for Lookup(command, communityID):
//  1. the community-scoped binding for communityID, when one exists;
//  2. otherwise the global binding (community_id NULL).
//
// A community-scoped binding always wins when present; if it is disabled the
// lookup returns ErrCommandDisabled (distinct from ErrCommandNotFound) so the
// caller can produce a clear user-facing message rather than "unknown
// command".
//
// Bindings are cached per scope key with a TTL. Mutations write through to
// the persistent store and invalidate only the affected scope key; Reload
// flushes the whole cache and warms it from the store. The cache is never
// mutated from arbitrary call sites.
package registry

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

// Registry errors.
var (
	// ErrCommandNotFound indicates no binding applies to the command for the
	// community, after considering global bindings.
	ErrCommandNotFound = errors.New("command not found")

	// ErrCommandDisabled indicates the applicable binding exists but is
	// switched off.
	ErrCommandDisabled = errors.New("command disabled")

	// ErrDuplicateBinding is returned when registering a second binding for
	// the same (command, community) scope.
	ErrDuplicateBinding = errors.New("binding already exists for this command and community")
)

// BindingRepo defines the repository contract required by Registry.
type BindingRepo interface {
	CreateBinding(ctx context.Context, db *gorm.DB, b *domain.CommandBinding) error
	GetBinding(ctx context.Context, db *gorm.DB, id string) (*domain.CommandBinding, error)
	FindBinding(ctx context.Context, db *gorm.DB, command string, communityID *string) (*domain.CommandBinding, error)
	ListBindings(ctx context.Context, db *gorm.DB) ([]domain.CommandBinding, error)
	UpdateBinding(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error
	SetBindingEnabled(ctx context.Context, db *gorm.DB, id string, enabled bool) error
	DeleteBinding(ctx context.Context, db *gorm.DB, id string) error
}

// notFound is the negative-cache marker stored for absent scope keys.
type notFound struct{}

// Registry provides cached command binding lookups and write-through
// mutations. Construct one at startup and share it; it is safe for
// concurrent use.
type Registry struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the binding repository used by this registry.
	Repo BindingRepo

	cache *gocache.Cache
	ttl   time.Duration
}

// New constructs a Registry with the given cache TTL (default 300s when
// non-positive).
func New(db *gorm.DB, r BindingRepo, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Registry{
		DB:    db,
		Repo:  r,
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// scopeKey addresses one (command, community) scope in the cache. The global
// scope uses a marker that cannot collide with a community ID.
func scopeKey(command string, communityID *string) string {
	if communityID == nil {
		return command + "|*"
	}
	return command + "|" + *communityID
}

// Lookup resolves the binding that applies to command within communityID.
// It returns ErrCommandDisabled when the winning binding is disabled and
// ErrCommandNotFound when no binding applies.
func (r *Registry) Lookup(ctx context.Context, command, communityID string) (*domain.CommandBinding, error) {
	// Community scope wins when present, enabled or not.
	if b, err := r.cachedFind(ctx, command, &communityID); err == nil {
		if !b.IsEnabled {
			return nil, ErrCommandDisabled
		}
		return b, nil
	} else if !errors.Is(err, ErrCommandNotFound) {
		return nil, err
	}

	b, err := r.cachedFind(ctx, command, nil)
	if err != nil {
		return nil, err
	}
	if !b.IsEnabled {
		return nil, ErrCommandDisabled
	}
	return b, nil
}

// cachedFind looks up one scope key through the cache, storing a negative
// marker on repo misses so absent commands do not hammer the store.
func (r *Registry) cachedFind(ctx context.Context, command string, communityID *string) (*domain.CommandBinding, error) {
	key := scopeKey(command, communityID)
	if v, ok := r.cache.Get(key); ok {
		switch b := v.(type) {
		case *domain.CommandBinding:
			return b, nil
		case notFound:
			return nil, ErrCommandNotFound
		}
	}

	b, err := r.Repo.FindBinding(ctx, r.DB, command, communityID)
	switch {
	case err == nil:
		r.cache.Set(key, b, r.ttl)
		return b, nil
	case errors.Is(err, repo.ErrNotFound):
		r.cache.Set(key, notFound{}, r.ttl)
		return nil, ErrCommandNotFound
	default:
		return nil, fmt.Errorf("binding lookup: %w", err)
	}
}

// Enabled reads the binding's enabled flag straight from the store,
// bypassing the cache, so a disable that happened after a cached lookup
// is observed. A binding that no longer exists reports false.
func (r *Registry) Enabled(ctx context.Context, id string) (bool, error) {
	b, err := r.Repo.GetBinding(ctx, r.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return b.IsEnabled, nil
}

// Register creates a new binding, writing through to the store and
// invalidating the affected scope key. Registering a duplicate
// (command, community) scope returns ErrDuplicateBinding.
func (r *Registry) Register(ctx context.Context, b *domain.CommandBinding) error {
	if _, err := r.Repo.FindBinding(ctx, r.DB, b.Command, b.CommunityID); err == nil {
		return ErrDuplicateBinding
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := r.Repo.CreateBinding(ctx, r.DB, b); err != nil {
		return err
	}
	r.cache.Delete(scopeKey(b.Command, b.CommunityID))
	return nil
}

// Update applies field changes to a binding by ID and invalidates its scope.
func (r *Registry) Update(ctx context.Context, id string, fields map[string]any) error {
	b, err := r.Repo.GetBinding(ctx, r.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCommandNotFound
		}
		return err
	}
	if err := r.Repo.UpdateBinding(ctx, r.DB, id, fields); err != nil {
		return err
	}
	r.cache.Delete(scopeKey(b.Command, b.CommunityID))
	return nil
}

// Unregister removes a binding by ID and invalidates its scope.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	b, err := r.Repo.GetBinding(ctx, r.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCommandNotFound
		}
		return err
	}
	if err := r.Repo.DeleteBinding(ctx, r.DB, id); err != nil {
		return err
	}
	r.cache.Delete(scopeKey(b.Command, b.CommunityID))
	return nil
}

// Enable switches a binding on.
func (r *Registry) Enable(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, true)
}

// Disable switches a binding off. Lookups then return ErrCommandDisabled for
// its scope.
func (r *Registry) Disable(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, false)
}

func (r *Registry) setEnabled(ctx context.Context, id string, enabled bool) error {
	b, err := r.Repo.GetBinding(ctx, r.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCommandNotFound
		}
		return err
	}
	if err := r.Repo.SetBindingEnabled(ctx, r.DB, id, enabled); err != nil {
		return err
	}
	r.cache.Delete(scopeKey(b.Command, b.CommunityID))
	return nil
}

// Reload flushes the cache and repopulates it from the persistent store.
// Exposed as an explicit administrative operation; it is the only call site
// allowed to rebuild the cache wholesale.
func (r *Registry) Reload(ctx context.Context) (int, error) {
	bindings, err := r.Repo.ListBindings(ctx, r.DB)
	if err != nil {
		return 0, fmt.Errorf("registry reload: %w", err)
	}
	r.cache.Flush()
	for i := range bindings {
		b := bindings[i]
		r.cache.Set(scopeKey(b.Command, b.CommunityID), &b, r.ttl)
	}
	return len(bindings), nil
}

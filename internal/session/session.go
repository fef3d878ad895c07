// Package session assigns correlation identifiers to in-flight events and
// holds ephemeral handler responses.
//
// A session ID is an opaque UUID created at ingress; the dispatcher (or a
// handler posting asynchronously) stores the response under it, and callers
// fetch it until the TTL expires. Responses ride the shared store so any
// router instance can serve the fetch; storage failures are logged by the
// caller and never block dispatch.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/store"
)

// ErrResponseNotFound is returned by Get when no response is stored for the
// session (never stored, already consumed, or expired).
var ErrResponseNotFound = errors.New("response not found")

// Manager creates session identifiers.
type Manager struct{}

// NewManager constructs a Manager.
func NewManager() *Manager { return &Manager{} }

// Create returns a new opaque, non-guessable session ID for the given
// community and user. The arguments are accepted for symmetry with the
// ingress call site; the ID itself carries no derivable information.
func (Manager) Create(_ context.Context, _, _ string) string {
	return uuid.NewString()
}

// Store holds handler responses keyed by session ID for a bounded time.
type Store struct {
	kv  store.KV
	ttl time.Duration
}

// NewStore constructs a response store over the given KV with a default
// response TTL. kv is typically the shared Redis store; tests pass a Memory.
func NewStore(kv store.KV, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl}
}

func respKey(sessionID string) string { return "resp:" + sessionID }

// Put stores resp under sessionID. A non-positive ttl uses the store default.
func (s *Store) Put(ctx context.Context, sessionID string, resp *domain.HandlerResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return s.kv.Set(ctx, respKey(sessionID), string(raw), ttl)
}

// Get fetches the response stored under sessionID, or ErrResponseNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.HandlerResponse, error) {
	raw, err := s.kv.Get(ctx, respKey(sessionID))
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	var resp domain.HandlerResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Exists reports whether a response is stored under sessionID without
// decoding it. Used by the ingest idempotency check.
func (s *Store) Exists(ctx context.Context, sessionID string) bool {
	_, err := s.kv.Get(ctx, respKey(sessionID))
	return err == nil
}

// Delete removes a consumed response.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.kv.Del(ctx, respKey(sessionID))
}

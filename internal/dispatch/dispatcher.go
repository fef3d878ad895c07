// Package dispatch executes a resolved command binding against its handler
// service. This file implements the dispatcher itself: execution-time policy
// re-validation, retry with exponential backoff on the preferred transport,
// a single fallback to the alternate transport, response storage, and
// fire-and-forget collaborator notification.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/ratelimit"
	"github.com/openflux/eventrouter/internal/session"
)

// Dispatch errors.
var (
	// ErrBindingDisabled is returned when the binding was switched off
	// between lookup and execution.
	ErrBindingDisabled = errors.New("binding disabled")

	// ErrHandlerUnavailable is returned after both transports are exhausted.
	ErrHandlerUnavailable = errors.New("handler unavailable")
)

// CooldownActiveError reports an execution-time cooldown rejection with the
// remaining wait.
type CooldownActiveError struct {
	Remaining time.Duration
}

// Error implements the error interface.
func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active for %s", e.Remaining)
}

// Notifier receives fire-and-forget notifications after a successful
// dispatch. Implementations must not block.
type Notifier interface {
	CommandExecuted(ev domain.Event, communityID, command string)
}

// BindingState reports whether a binding is currently enabled, reading
// fresh state rather than the copy the lookup returned. A binding that no
// longer exists reports false.
type BindingState interface {
	Enabled(ctx context.Context, bindingID string) (bool, error)
}

// Options configures retry policy.
type Options struct {
	Timeout        time.Duration // per attempt
	MaxAttempts    int           // attempts on the preferred transport
	InitialBackoff time.Duration
}

// Dispatcher executes command bindings. Construct one at startup and share
// it; it is safe for concurrent use.
type Dispatcher struct {
	rpc       Transport
	http      Transport
	state     BindingState // may be nil
	cooldowns *ratelimit.Cooldown
	responses *session.Store
	signer    *Signer
	notifier  Notifier // may be nil
	opts      Options
	log       zerolog.Logger
}

// New constructs a Dispatcher. state and notifier may be nil; without a
// BindingState the enabled check relies on the flag from lookup alone.
func New(rpc, httpT Transport, state BindingState, cooldowns *ratelimit.Cooldown, responses *session.Store, signer *Signer, notifier Notifier, opts Options, log zerolog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	return &Dispatcher{
		rpc:       rpc,
		http:      httpT,
		state:     state,
		cooldowns: cooldowns,
		responses: responses,
		signer:    signer,
		notifier:  notifier,
		opts:      opts,
		log:       log,
	}
}

// Execute runs the binding's handler for ev. It re-reads the enabled flag
// from the store and claims the cooldown gate at execution time, closing
// the race between a cached lookup and execution; the cooldown claim is
// atomic, so under concurrency exactly one request per (user, command)
// passes.
//
// The returned response has already been stored under sessionID (best
// effort) when err is nil.
func (d *Dispatcher) Execute(ctx context.Context, binding *domain.CommandBinding, ev domain.Event, communityID, sessionID string) (*domain.HandlerResponse, error) {
	enabled := binding.IsEnabled
	if d.state != nil {
		if fresh, err := d.state.Enabled(ctx, binding.ID); err != nil {
			// Fresh read unavailable; fall back to the flag from lookup.
			d.log.Warn().Err(err).Str("binding_id", binding.ID).Msg("binding state read failed")
		} else {
			enabled = fresh
		}
	}
	if !enabled {
		return nil, ErrBindingDisabled
	}
	if ready, remaining := d.cooldowns.Acquire(ctx, ev.UserID, binding.Command, binding.Cooldown()); !ready {
		return nil, &CooldownActiveError{Remaining: remaining}
	}

	req, err := d.buildRequest(binding, ev, communityID, sessionID)
	if err != nil {
		return nil, err
	}

	resp, err := d.deliver(ctx, binding, req)
	if err != nil {
		// The handler never ran; reopen the cooldown gate so the user can
		// retry once the handler recovers.
		d.cooldowns.Release(ctx, ev.UserID, binding.Command)
		return nil, err
	}

	if serr := d.responses.Put(ctx, sessionID, resp, 0); serr != nil {
		d.log.Warn().Err(serr).Str("session_id", sessionID).
			Msg("response store write failed, serving inline only")
	}
	if d.notifier != nil {
		d.notifier.CommandExecuted(ev, communityID, binding.Command)
	}
	return resp, nil
}

func (d *Dispatcher) buildRequest(binding *domain.CommandBinding, ev domain.Event, communityID, sessionID string) (*Request, error) {
	token, err := d.signer.Sign(ev.UserID, communityID, binding.Command)
	if err != nil {
		return nil, err
	}
	return &Request{
		SessionID:   sessionID,
		CommunityID: communityID,
		Command:     binding.Command,
		Event:       ev,
		Token:       token,
	}, nil
}

// deliver runs the preferred transport with retries, then falls back once.
// Only gRPC bindings have a fallback: the HTTP locator is derived from the
// same address, whereas an HTTP-only handler has nothing else to try.
func (d *Dispatcher) deliver(ctx context.Context, binding *domain.CommandBinding, req *Request) (*domain.HandlerResponse, error) {
	preferred := d.rpc
	if binding.Protocol == domain.ProtocolHTTP {
		preferred = d.http
	}

	resp, err := d.attempt(ctx, preferred, binding.Address, req)
	if err == nil {
		return resp, nil
	}

	if binding.Protocol == domain.ProtocolGRPC {
		d.log.Warn().Err(err).Str("command", binding.Command).Str("address", binding.Address).
			Msg("rpc transport exhausted, falling back to http")
		resp, ferr := d.fallbackOnce(ctx, binding.Address, req)
		if ferr == nil {
			return resp, nil
		}
		d.log.Error().Err(ferr).Str("command", binding.Command).Msg("http fallback failed")
	}

	return nil, fmt.Errorf("%w: %s", ErrHandlerUnavailable, binding.Address)
}

// attempt retries the transport with exponential backoff. Handler-decided
// errors are permanent; only transport-level signals are retried.
func (d *Dispatcher) attempt(ctx context.Context, t Transport, address string, req *Request) (*domain.HandlerResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.opts.InitialBackoff

	return backoff.Retry(ctx, func() (*domain.HandlerResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
		resp, err := t.Execute(callCtx, address, req)
		if err != nil {
			if retryable(err) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(d.opts.MaxAttempts)))
}

// fallbackOnce makes a single HTTP attempt with the per-attempt timeout.
func (d *Dispatcher) fallbackOnce(ctx context.Context, address string, req *Request) (*domain.HandlerResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	return d.http.Execute(callCtx, address, req)
}

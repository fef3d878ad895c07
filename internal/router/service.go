// Package router orchestrates the event pipeline: validation, session
// assignment, community resolution, rate limiting, command lookup,
// translation, and dispatch. It owns the outcome taxonomy the transport
// layers (HTTP and stream) surface to callers.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openflux/eventrouter/internal/dispatch"
	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/ratelimit"
	"github.com/openflux/eventrouter/internal/registry"
	"github.com/openflux/eventrouter/internal/resolver"
	"github.com/openflux/eventrouter/internal/translate"
)

// ErrBatchTooLarge is returned when a batch exceeds the configured maximum.
// The batch is rejected before any event is processed.
var ErrBatchTooLarge = errors.New("batch too large")

// Outcome is the per-event result of the pipeline. Reason is always set;
// Response is set for successfully dispatched commands and for chat
// messages (the possibly-translated text).
type Outcome struct {
	SessionID  string                  `json:"session_id,omitempty"`
	Reason     Reason                  `json:"reason"`
	Message    string                  `json:"message,omitempty"`
	RetryAfter int                     `json:"retry_after,omitempty"` // seconds
	Response   *domain.HandlerResponse `json:"response,omitempty"`
	SourceLang string                  `json:"source_lang,omitempty"`
	Translated bool                    `json:"translated,omitempty"`
}

// Sessions creates correlation identifiers at ingress.
type Sessions interface {
	Create(ctx context.Context, communityID, userID string) string
}

// CommunityResolver maps a platform channel to a community.
type CommunityResolver interface {
	Resolve(ctx context.Context, platform domain.Platform, channelID string) (string, error)
}

// BindingLookup resolves a command string to its handler binding.
type BindingLookup interface {
	Lookup(ctx context.Context, command, communityID string) (*domain.CommandBinding, error)
}

// RateLimiter decides whether a command invocation is within limit.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error)
}

// Translator runs the best-effort translation pipeline.
type Translator interface {
	Translate(ctx context.Context, communityID, text string) translate.Result
}

// Executor dispatches a resolved binding to its handler service.
type Executor interface {
	Execute(ctx context.Context, binding *domain.CommandBinding, ev domain.Event, communityID, sessionID string) (*domain.HandlerResponse, error)
}

// StreamNotifier receives platform stream events (raids, subscriptions)
// for workflow evaluation. Fire-and-forget.
type StreamNotifier interface {
	StreamEvent(ev domain.Event, communityID string)
}

// Options carries the rate-limit policy and batch bounds.
type Options struct {
	RateLimit       int
	RateWindow      time.Duration
	BatchMaxEvents  int
	BatchConcurrent int
}

// Service is the orchestrating pipeline. Construct once at startup.
type Service struct {
	sessions   Sessions
	resolver   CommunityResolver
	limiter    RateLimiter
	registry   BindingLookup
	translator Translator
	executor   Executor
	notifier   StreamNotifier // may be nil
	opts       Options
	log        zerolog.Logger
}

// NewService constructs a Service. translator and notifier may be nil.
func NewService(sessions Sessions, res CommunityResolver, limiter RateLimiter, reg BindingLookup, translator Translator, executor Executor, notifier StreamNotifier, opts Options, log zerolog.Logger) *Service {
	if opts.RateLimit < 1 {
		opts.RateLimit = 30
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.BatchMaxEvents < 1 {
		opts.BatchMaxEvents = 100
	}
	if opts.BatchConcurrent < 1 {
		opts.BatchConcurrent = 8
	}
	return &Service{
		sessions:   sessions,
		resolver:   res,
		limiter:    limiter,
		registry:   reg,
		translator: translator,
		executor:   executor,
		notifier:   notifier,
		opts:       opts,
		log:        log,
	}
}

// Process runs one event through the full pipeline and returns its Outcome.
// The returned Outcome always carries a Reason; infrastructure errors map
// onto the taxonomy rather than leaking out.
func (s *Service) Process(ctx context.Context, ev domain.Event) Outcome {
	out := s.process(ctx, ev)
	outcomeCount.WithLabelValues(string(out.Reason)).Inc()
	return out
}

func (s *Service) process(ctx context.Context, ev domain.Event) Outcome {
	if err := ev.Validate(); err != nil {
		return Outcome{Reason: ReasonValidationError, Message: err.Error()}
	}

	communityID, err := s.resolver.Resolve(ctx, ev.Platform, ev.ChannelID)
	if err != nil {
		if errors.Is(err, resolver.ErrCommunityNotFound) {
			return Outcome{
				Reason:  ReasonCommunityNotFound,
				Message: fmt.Sprintf("no community mapped for %s channel %s", ev.Platform, ev.ChannelID),
			}
		}
		// A store outage is not "no mapping"; keep it retryable so the
		// durable path redelivers once the store recovers.
		s.log.Error().Err(err).Str("channel_id", ev.ChannelID).Msg("community resolution failed")
		return Outcome{Reason: ReasonInternalError, Message: "community resolution failed"}
	}

	sessionID := s.sessions.Create(ctx, communityID, ev.UserID)

	if ev.IsCommand() {
		return s.processCommand(ctx, ev, communityID, sessionID)
	}
	return s.processMessage(ctx, ev, communityID, sessionID)
}

// processCommand applies rate limiting, registry lookup, and dispatch.
// Rate limits apply only here: plain chat is never counted.
func (s *Service) processCommand(ctx context.Context, ev domain.Event, communityID, sessionID string) Outcome {
	command := ev.Command()

	decision, err := s.limiter.Allow(ctx, ratelimit.Key(ev.UserID, command), s.opts.RateLimit, s.opts.RateWindow)
	if err != nil {
		// The limiter degrades internally; an error here means even the
		// in-memory fallback failed. Failing open keeps commands usable.
		s.log.Error().Err(err).Str("user_id", ev.UserID).Msg("rate limit check failed, allowing")
	} else if !decision.Allowed {
		return Outcome{
			SessionID:  sessionID,
			Reason:     ReasonRateLimited,
			Message:    fmt.Sprintf("rate limited, retry in %ds", decision.RetryAfterSeconds()),
			RetryAfter: decision.RetryAfterSeconds(),
		}
	}

	binding, err := s.registry.Lookup(ctx, command, communityID)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrCommandDisabled):
			return Outcome{
				SessionID: sessionID,
				Reason:    ReasonCommandDisabled,
				Message:   fmt.Sprintf("command %q is disabled", command),
			}
		case errors.Is(err, registry.ErrCommandNotFound):
			return Outcome{
				SessionID: sessionID,
				Reason:    ReasonCommandNotFound,
				Message:   fmt.Sprintf("unknown command %q", command),
			}
		default:
			s.log.Error().Err(err).Str("command", command).Msg("registry lookup failed")
			return Outcome{SessionID: sessionID, Reason: ReasonInternalError, Message: "command lookup failed"}
		}
	}

	resp, err := s.executor.Execute(ctx, binding, ev, communityID, sessionID)
	if err != nil {
		var cd *dispatch.CooldownActiveError
		switch {
		case errors.As(err, &cd):
			secs := int(math.Ceil(cd.Remaining.Seconds()))
			return Outcome{
				SessionID:  sessionID,
				Reason:     ReasonCooldownActive,
				Message:    fmt.Sprintf("command on cooldown, retry in %ds", secs),
				RetryAfter: secs,
			}
		case errors.Is(err, dispatch.ErrBindingDisabled):
			return Outcome{
				SessionID: sessionID,
				Reason:    ReasonCommandDisabled,
				Message:   fmt.Sprintf("command %q is disabled", command),
			}
		default:
			s.log.Error().Err(err).Str("command", command).Str("address", binding.Address).
				Msg("dispatch failed")
			return Outcome{
				SessionID: sessionID,
				Reason:    ReasonHandlerUnavailable,
				Message:   fmt.Sprintf("handler for %q unavailable", command),
			}
		}
	}

	return Outcome{SessionID: sessionID, Reason: ReasonOK, Response: resp}
}

// processMessage handles non-command traffic: stream events fan out to the
// workflow evaluator, chat flows through best-effort translation.
func (s *Service) processMessage(ctx context.Context, ev domain.Event, communityID, sessionID string) Outcome {
	if ev.MessageType == domain.MessageTypeStreamEvent {
		if s.notifier != nil {
			s.notifier.StreamEvent(ev, communityID)
		}
		return Outcome{SessionID: sessionID, Reason: ReasonOK}
	}

	out := Outcome{
		SessionID: sessionID,
		Reason:    ReasonOK,
		Response:  &domain.HandlerResponse{Content: ev.Message, Type: "chat"},
	}
	if s.translator != nil {
		res := s.translator.Translate(ctx, communityID, ev.Message)
		out.Response.Content = res.Text
		out.Translated = res.Translated
		out.SourceLang = res.SourceLang
	}
	return out
}

// ProcessBatch runs up to the configured maximum of events with bounded
// concurrency. Oversize batches are rejected before any event is touched.
// Results correspond to the input order.
func (s *Service) ProcessBatch(ctx context.Context, events []domain.Event) ([]Outcome, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrBatchTooLarge)
	}
	if len(events) > s.opts.BatchMaxEvents {
		return nil, fmt.Errorf("%w: %d events exceeds maximum %d", ErrBatchTooLarge, len(events), s.opts.BatchMaxEvents)
	}

	outcomes := make([]Outcome, len(events))
	sem := make(chan struct{}, s.opts.BatchConcurrent)
	var wg sync.WaitGroup
	for i, ev := range events {
		wg.Add(1)
		go func(i int, ev domain.Event) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = s.Process(ctx, ev)
		}(i, ev)
	}
	wg.Wait()
	return outcomes, nil
}

// ProcessEvent adapts the pipeline to the stream consumer: terminal
// outcomes acknowledge, only handler outages trigger redelivery.
func (s *Service) ProcessEvent(ctx context.Context, ev domain.Event) error {
	out := s.Process(ctx, ev)
	if !out.Reason.Terminal() {
		return fmt.Errorf("dispatch failed: %s", out.Message)
	}
	return nil
}

// Event ingestion HTTP handlers.
//
// This file exposes the ingest endpoints:
//   - POST /events        (single event, synchronous pipeline run)
//   - POST /events/batch  (1..max events, concurrent, order-correspondent)
//
// Handlers are transport-thin: they bind and validate input, call the
// orchestrating pipeline, and translate outcomes into HTTP responses.
// A `durable=true` query switches ingestion onto the stream transport,
// returning 202 with the stream entry ID instead of a pipeline outcome.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/http/middleware"
	"github.com/openflux/eventrouter/internal/router"
	"github.com/openflux/eventrouter/internal/sysutil"
)

//
// Service contracts (context-aware)
//

// EventPipeline runs events through the routing pipeline.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type EventPipeline interface {
	// Process runs one event end to end and returns its outcome.
	Process(ctx context.Context, ev domain.Event) router.Outcome
	// ProcessBatch runs up to the configured maximum of events concurrently.
	ProcessBatch(ctx context.Context, events []domain.Event) ([]router.Outcome, error)
}

// EventPublisher appends events to the durable stream transport.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event) (string, error)
}

// ResponseReader fetches stored handler responses, used to serve
// idempotent replays without re-running the pipeline.
type ResponseReader interface {
	Get(ctx context.Context, sessionID string) (*domain.HandlerResponse, error)
}

// batchRequest is the body of POST /events/batch.
type batchRequest struct {
	Events []domain.Event `json:"events" binding:"required"`
}

// batchResponse mirrors the request order: Results[i] is the outcome of
// Events[i].
type batchResponse struct {
	Results []router.Outcome `json:"results"`
}

// PostEvent handles POST /events.
//
// Responses follow the outcome taxonomy: unknown/disabled commands are 200
// with a user-facing outcome, rate limits and cooldowns are 429 with a
// Retry-After header, handler outages are 502.
func (h *Handlers) PostEvent(c *gin.Context) {
	if middleware.IsReplay(c) {
		h.serveReplay(c)
		return
	}

	var ev domain.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if sysutil.IsTruthy(c.Query("durable")) && h.publisher != nil {
		if err := ev.Validate(); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		id, err := h.publisher.Publish(c.Request.Context(), ev)
		if err != nil {
			fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "stream transport unavailable")
			return
		}
		ok(c, http.StatusAccepted, gin.H{"stream_id": id})
		return
	}

	writeOutcome(c, h.pipeline.Process(c.Request.Context(), ev))
}

// PostEventBatch handles POST /events/batch.
//
// Oversize batches are rejected with 400 before any event is processed.
func (h *Handlers) PostEventBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	outcomes, err := h.pipeline.ProcessBatch(c.Request.Context(), req.Events)
	if err != nil {
		if errors.Is(err, router.ErrBatchTooLarge) {
			fail(c, http.StatusBadRequest, ErrCodeBatchTooLarge, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "batch processing failed")
		return
	}
	ok(c, http.StatusOK, batchResponse{Results: outcomes})
}

// serveReplay returns the response stored for a previously completed
// request, identified by its Idempotency-Key (the original session ID).
func (h *Handlers) serveReplay(c *gin.Context) {
	key, _ := middleware.GetIdempotencyKey(c)
	resp, err := h.sessions.Get(c.Request.Context(), key)
	if err != nil {
		// The record expired between the middleware check and here; let the
		// client retry without the key.
		fail(c, http.StatusNotFound, ErrCodeNotFound, "replayed response no longer available")
		return
	}
	ok(c, http.StatusOK, router.Outcome{
		SessionID: key,
		Reason:    router.ReasonOK,
		Response:  resp,
	})
}

// writeOutcome maps a pipeline outcome onto the HTTP taxonomy.
func writeOutcome(c *gin.Context, out router.Outcome) {
	switch out.Reason {
	case router.ReasonValidationError:
		fail(c, http.StatusBadRequest, ErrCodeValidation, out.Message)
	case router.ReasonCommunityNotFound:
		fail(c, http.StatusNotFound, ErrCodeCommunityNotFound, out.Message)
	case router.ReasonRateLimited:
		c.Header("Retry-After", strconv.Itoa(out.RetryAfter))
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, out.Message)
	case router.ReasonCooldownActive:
		c.Header("Retry-After", strconv.Itoa(out.RetryAfter))
		fail(c, http.StatusTooManyRequests, ErrCodeCooldownActive, out.Message)
	case router.ReasonHandlerUnavailable:
		fail(c, http.StatusBadGateway, ErrCodeHandlerUnavailable, out.Message)
	case router.ReasonInternalError:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, out.Message)
	default:
		// ok, command_not_found, command_disabled: user-facing outcomes,
		// not transport errors.
		ok(c, http.StatusOK, out)
	}
}

// Session response HTTP handlers.
//
// This file exposes the response-store endpoints:
//   - GET  /sessions/{id}/response  (fetch a stored handler response)
//   - POST /sessions/{id}/response  (handler async callback)
//
// Handlers that run long operations post their result here keyed by the
// session ID instead of answering the dispatch call inline; platform
// adapters poll or fetch on notification.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/session"
)

// ResponseStore is the full read/write surface of the session response
// store consumed by HTTP handlers.
type ResponseStore interface {
	ResponseReader
	Put(ctx context.Context, sessionID string, resp *domain.HandlerResponse, ttl time.Duration) error
}

// callbackRequest is the body of the handler callback.
type callbackRequest struct {
	Content string `json:"content" binding:"required"`
	Type    string `json:"type"`
}

// GetSessionResponse handles GET /sessions/:id/response.
func (h *Handlers) GetSessionResponse(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing session id")
		return
	}

	resp, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrResponseNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no response for session")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "response lookup failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"session_id": id, "response": resp})
}

// PostSessionResponse handles POST /sessions/:id/response, the asynchronous
// handler callback. The stored response replaces any previous one for the
// session.
func (h *Handlers) PostSessionResponse(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing session id")
		return
	}

	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content is required")
		return
	}
	if req.Type == "" {
		req.Type = "text"
	}

	resp := &domain.HandlerResponse{Content: req.Content, Type: req.Type}
	if err := h.sessions.Put(c.Request.Context(), id, resp, 0); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "response store write failed")
		return
	}
	noContent(c)
}

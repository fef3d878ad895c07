// Administrative HTTP handlers.
//
// This file exposes the operator surface for command bindings and dead
// letters:
//   - POST   /admin/commands                  (register)
//   - GET    /admin/commands                  (list, paginated)
//   - PUT    /admin/commands/{id}             (update fields)
//   - DELETE /admin/commands/{id}             (unregister)
//   - POST   /admin/commands/{id}/enable      (switch on)
//   - POST   /admin/commands/{id}/disable     (switch off)
//   - POST   /admin/registry/reload           (flush + warm the cache)
//   - GET    /admin/deadletters               (list, paginated)
//   - POST   /admin/deadletters/{id}/replay   (re-publish to the stream)
//
// Channel mappings live in mapping_handler.go.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/registry"
	"github.com/openflux/eventrouter/internal/repo"
	"github.com/openflux/eventrouter/internal/stream"
	"github.com/openflux/eventrouter/internal/utils"
)

// CommandRegistry defines the registry mutations consumed by admin handlers.
type CommandRegistry interface {
	Register(ctx context.Context, b *domain.CommandBinding) error
	Update(ctx context.Context, id string, fields map[string]any) error
	Unregister(ctx context.Context, id string) error
	Enable(ctx context.Context, id string) error
	Disable(ctx context.Context, id string) error
	Reload(ctx context.Context) (int, error)
}

// DeadLetterReplayer re-publishes a dead letter onto the inbound stream.
// Nil when the stream transport is disabled.
type DeadLetterReplayer func(ctx context.Context, id string) error

// registerRequest is the body of POST /admin/commands.
type registerRequest struct {
	Command         string  `json:"command" binding:"required"`
	CommunityID     *string `json:"community_id"` // null/absent = global
	Protocol        string  `json:"protocol"`
	Address         string  `json:"address" binding:"required"`
	PermissionLevel int     `json:"permission_level"`
	CooldownSeconds int     `json:"cooldown_seconds"`
}

// updateRequest carries optional field changes for PUT /admin/commands/:id.
type updateRequest struct {
	Protocol        *string `json:"protocol"`
	Address         *string `json:"address"`
	PermissionLevel *int    `json:"permission_level"`
	CooldownSeconds *int    `json:"cooldown_seconds"`
}

// RegisterCommand handles POST /admin/commands.
func (h *Handlers) RegisterCommand(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "command and address are required")
		return
	}

	protocol := strings.ToLower(strings.TrimSpace(req.Protocol))
	if protocol == "" {
		protocol = domain.ProtocolGRPC
	}
	if protocol != domain.ProtocolGRPC && protocol != domain.ProtocolHTTP {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "protocol must be grpc or http")
		return
	}
	if req.CooldownSeconds < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cooldown_seconds must be >= 0")
		return
	}

	b := &domain.CommandBinding{
		Command:         strings.ToLower(strings.TrimSpace(req.Command)),
		CommunityID:     req.CommunityID,
		Protocol:        protocol,
		Address:         req.Address,
		PermissionLevel: req.PermissionLevel,
		CooldownSeconds: req.CooldownSeconds,
		IsEnabled:       true,
	}
	if err := h.registry.Register(c.Request.Context(), b); err != nil {
		if errors.Is(err, registry.ErrDuplicateBinding) {
			fail(c, http.StatusConflict, ErrCodeConflict, "binding already exists for this command and community")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not register command")
		return
	}
	ok(c, http.StatusCreated, b)
}

// ListCommands handles GET /admin/commands with page/page_size queries.
func (h *Handlers) ListCommands(c *gin.Context) {
	page, pageSize := utils.PageWindow(c.Query("page"), c.Query("page_size"), 50, 200)

	bindings, err := repo.ListBindings(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list commands")
		return
	}

	total := len(bindings)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	ok(c, http.StatusOK, gin.H{
		"items":     bindings[start:end],
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UpdateCommand handles PUT /admin/commands/:id.
func (h *Handlers) UpdateCommand(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	fields := map[string]any{}
	if req.Protocol != nil {
		p := strings.ToLower(strings.TrimSpace(*req.Protocol))
		if p != domain.ProtocolGRPC && p != domain.ProtocolHTTP {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "protocol must be grpc or http")
			return
		}
		fields["protocol"] = p
	}
	if req.Address != nil {
		fields["address"] = *req.Address
	}
	if req.PermissionLevel != nil {
		fields["permission_level"] = *req.PermissionLevel
	}
	if req.CooldownSeconds != nil {
		if *req.CooldownSeconds < 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cooldown_seconds must be >= 0")
			return
		}
		fields["cooldown_seconds"] = *req.CooldownSeconds
	}
	if len(fields) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no fields to update")
		return
	}

	if err := h.registry.Update(c.Request.Context(), c.Param("id"), fields); err != nil {
		if errors.Is(err, registry.ErrCommandNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "binding not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not update command")
		return
	}
	noContent(c)
}

// UnregisterCommand handles DELETE /admin/commands/:id.
func (h *Handlers) UnregisterCommand(c *gin.Context) {
	if err := h.registry.Unregister(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, registry.ErrCommandNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "binding not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not unregister command")
		return
	}
	noContent(c)
}

// EnableCommand handles POST /admin/commands/:id/enable.
func (h *Handlers) EnableCommand(c *gin.Context) {
	h.setCommandEnabled(c, true)
}

// DisableCommand handles POST /admin/commands/:id/disable.
func (h *Handlers) DisableCommand(c *gin.Context) {
	h.setCommandEnabled(c, false)
}

func (h *Handlers) setCommandEnabled(c *gin.Context, enabled bool) {
	var err error
	if enabled {
		err = h.registry.Enable(c.Request.Context(), c.Param("id"))
	} else {
		err = h.registry.Disable(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		if errors.Is(err, registry.ErrCommandNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "binding not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not change command state")
		return
	}
	noContent(c)
}

// ReloadRegistry handles POST /admin/registry/reload.
func (h *Handlers) ReloadRegistry(c *gin.Context) {
	n, err := h.registry.Reload(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "registry reload failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"bindings": n})
}

// ListDeadLetters handles GET /admin/deadletters with page/page_size queries.
func (h *Handlers) ListDeadLetters(c *gin.Context) {
	page, pageSize := utils.PageWindow(c.Query("page"), c.Query("page_size"), 50, 200)

	ctx := c.Request.Context()
	total, err := repo.CountDeadLetters(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not count dead letters")
		return
	}
	items, err := repo.ListDeadLetters(ctx, h.db, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list dead letters")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ReplayDeadLetter handles POST /admin/deadletters/:id/replay.
func (h *Handlers) ReplayDeadLetter(c *gin.Context) {
	if h.replay == nil {
		fail(c, http.StatusConflict, ErrCodeConflict, "stream transport is disabled")
		return
	}
	err := h.replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "dead letter not found")
		case errors.Is(err, stream.ErrDeadLetterReplayed):
			fail(c, http.StatusConflict, ErrCodeConflict, "dead letter already replayed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "replay failed")
		}
		return
	}
	ok(c, http.StatusOK, gin.H{"replayed": c.Param("id")})
}

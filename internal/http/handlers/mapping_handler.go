package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/repo"
)

// ChannelResolver invalidates cached channel mappings after an admin
// update. Nil when no resolver cache is wired.
type ChannelResolver interface {
	Invalidate(platform domain.Platform, channelID string)
}

// mappingRequest is the body of PUT /admin/mappings.
type mappingRequest struct {
	Platform    string `json:"platform" binding:"required"`
	ChannelID   string `json:"channel_id" binding:"required"`
	CommunityID string `json:"community_id" binding:"required"`
}

// UpsertMapping handles PUT /admin/mappings. It creates or remaps a
// platform channel to a community and drops the stale cache entry so
// the next event sees the new mapping immediately.
func (h *Handlers) UpsertMapping(c *gin.Context) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "platform, channel_id and community_id are required")
		return
	}

	platform := domain.Platform(strings.ToLower(strings.TrimSpace(req.Platform)))
	if !domain.KnownPlatform(platform) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown platform")
		return
	}

	if err := repo.UpsertCommunityMapping(c.Request.Context(), h.db, string(platform), req.ChannelID, req.CommunityID); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not store mapping")
		return
	}
	if h.resolver != nil {
		h.resolver.Invalidate(platform, req.ChannelID)
	}
	noContent(c)
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// CommunityMapping model used by entity resolution.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/domain"
)

// FindCommunity returns the community ID mapped to (platform, channelID),
// or ErrNotFound when the channel is not registered to any community.
func FindCommunity(ctx context.Context, db *gorm.DB, platform, channelID string) (string, error) {
	var m domain.CommunityMapping
	err := db.WithContext(ctx).
		Where("platform = ? AND channel_id = ?", platform, channelID).
		First(&m).Error
	if err != nil {
		return "", err
	}
	return m.CommunityID, nil
}

// UpsertCommunityMapping creates or updates the mapping for
// (platform, channelID). Used by the administrative collaborator when a
// community claims a channel.
func UpsertCommunityMapping(ctx context.Context, db *gorm.DB, platform, channelID, communityID string) error {
	var existing domain.CommunityMapping
	err := db.WithContext(ctx).
		Where("platform = ? AND channel_id = ?", platform, channelID).
		First(&existing).Error
	switch {
	case err == nil:
		return db.WithContext(ctx).
			Model(&existing).
			Update("community_id", communityID).Error
	case err == gorm.ErrRecordNotFound:
		m := &domain.CommunityMapping{
			ID:          uuid.NewString(),
			Platform:    platform,
			ChannelID:   channelID,
			CommunityID: communityID,
			CreatedAt:   time.Now().UTC(),
		}
		return db.WithContext(ctx).Create(m).Error
	default:
		return err
	}
}

// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for dead letters:
// stream messages that exhausted their retry budget.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/domain"
)

// CreateDeadLetter records a failed delivery. Called before the message is
// acknowledged on the primary stream; a write failure here keeps the message
// pending so it is never silently lost.
func CreateDeadLetter(ctx context.Context, db *gorm.DB, streamID, payload, reason string, retryCount int) (*domain.DeadLetter, error) {
	d := &domain.DeadLetter{
		ID:         uuid.NewString(),
		StreamID:   streamID,
		Payload:    payload,
		Reason:     reason,
		RetryCount: retryCount,
		FailedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// GetDeadLetter fetches a dead letter by ID, or ErrNotFound if missing.
func GetDeadLetter(ctx context.Context, db *gorm.DB, id string) (*domain.DeadLetter, error) {
	var d domain.DeadLetter
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDeadLetters returns a page of dead letters ordered by failure time
// descending, for the operator listing endpoint.
func ListDeadLetters(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.DeadLetter, error) {
	var out []domain.DeadLetter
	err := db.WithContext(ctx).
		Order("failed_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountDeadLetters returns the total number of dead letters for pagination.
func CountDeadLetters(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.DeadLetter{}).
		Count(&total).Error
	return total, err
}

// MarkReplayed stamps a dead letter as replayed. Returns ErrNotFound when the
// row does not exist.
func MarkReplayed(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.DeadLetter{}).
		Where("id = ?", id).
		Update("replayed_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

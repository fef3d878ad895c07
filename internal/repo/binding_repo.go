// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// CommandBinding model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a binding is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// This repository is designed to be wrapped by a higher-level service
// (see registry.Registry) which enforces precedence rules and caching.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateBinding inserts a new CommandBinding. The binding ID is a randomly
// generated UUID (string), and CreatedAt is set to UTC. A unique-constraint
// violation on (command, community_id) is propagated as the raw DB error.
func CreateBinding(ctx context.Context, db *gorm.DB, b *domain.CommandBinding) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(b).Error
}

// GetBinding fetches a single binding by ID, or ErrNotFound if missing.
func GetBinding(ctx context.Context, db *gorm.DB, id string) (*domain.CommandBinding, error) {
	var b domain.CommandBinding
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// FindBinding returns the binding for (command, communityID). communityID nil
// selects the global binding. ErrNotFound when no row exists.
func FindBinding(ctx context.Context, db *gorm.DB, command string, communityID *string) (*domain.CommandBinding, error) {
	var b domain.CommandBinding
	q := db.WithContext(ctx).Where("command = ?", command)
	if communityID == nil {
		q = q.Where("community_id IS NULL")
	} else {
		q = q.Where("community_id = ?", *communityID)
	}
	if err := q.First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBindings returns all bindings ordered by command then community scope,
// used to warm the registry cache on reload.
func ListBindings(ctx context.Context, db *gorm.DB) ([]domain.CommandBinding, error) {
	var out []domain.CommandBinding
	err := db.WithContext(ctx).
		Order("command asc, community_id asc").
		Find(&out).Error
	return out, err
}

// UpdateBinding applies field updates to a binding by ID. If no rows are
// affected (binding missing), it returns ErrNotFound.
func UpdateBinding(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.CommandBinding{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetBindingEnabled flips the enabled flag on a binding by ID.
// Returns ErrNotFound when the binding does not exist.
func SetBindingEnabled(ctx context.Context, db *gorm.DB, id string, enabled bool) error {
	return UpdateBinding(ctx, db, id, map[string]any{"is_enabled": enabled})
}

// DeleteBinding soft-deletes a binding by ID. Returns ErrNotFound when the
// binding does not exist.
func DeleteBinding(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.CommandBinding{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

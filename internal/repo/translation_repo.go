// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the persistent
// tier of the translation cache.
//
// The persistent tier is authoritative: rows never expire by TTL, and every
// read bumps access bookkeeping (access_count, last_accessed_at) which the
// in-memory tiers use for eviction scoring.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openflux/eventrouter/internal/domain"
)

// GetTranslation fetches the cache row for key and bumps its access
// bookkeeping in the same call. Returns ErrNotFound on miss.
func GetTranslation(ctx context.Context, db *gorm.DB, key string) (*domain.TranslationEntry, error) {
	var e domain.TranslationEntry
	if err := db.WithContext(ctx).Where("key = ?", key).First(&e).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	// Atomic bump; a lost race only undercounts by one, which is acceptable
	// for eviction scoring.
	err := db.WithContext(ctx).
		Model(&domain.TranslationEntry{}).
		Where("key = ?", key).
		Updates(map[string]any{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": now,
		}).Error
	if err != nil {
		return nil, err
	}
	e.AccessCount++
	e.LastAccessedAt = now
	return &e, nil
}

// UpsertTranslation writes a cache row, replacing any existing row for the
// same key. Access bookkeeping is preserved on conflict.
func UpsertTranslation(ctx context.Context, db *gorm.DB, e *domain.TranslationEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = e.CreatedAt
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"translated_text", "provider", "confidence", "last_accessed_at",
			}),
		}).
		Create(e).Error
}

// PruneTranslations deletes rows not accessed since the cutoff, returning the
// number of rows removed. Called from a maintenance path, never inline.
func PruneTranslations(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("last_accessed_at < ?", cutoff).
		Delete(&domain.TranslationEntry{})
	return res.RowsAffected, res.Error
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openflux/eventrouter/internal/domain"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateBinding_GeneratesID_and_UniqueScope(t *testing.T) {
	db := newRepoDB(t, &domain.CommandBinding{})
	ctx := context.Background()

	b := &domain.CommandBinding{Command: "ping", Protocol: domain.ProtocolGRPC, Address: "h:1", IsEnabled: true}
	if err := CreateBinding(ctx, db, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID == "" || b.CreatedAt.IsZero() {
		t.Fatalf("fields not stamped: %+v", b)
	}

	// Second global binding for the same command violates the scope index.
	dup := &domain.CommandBinding{Command: "ping", Protocol: domain.ProtocolGRPC, Address: "h:2"}
	if err := CreateBinding(ctx, db, dup); err == nil {
		t.Fatal("duplicate global binding accepted")
	}

	// A community-scoped binding for the same command is a distinct scope.
	g := "guild-1"
	scoped := &domain.CommandBinding{Command: "ping", CommunityID: &g, Protocol: domain.ProtocolHTTP, Address: "h:3"}
	if err := CreateBinding(ctx, db, scoped); err != nil {
		t.Fatalf("scoped create: %v", err)
	}
}

func TestFindBinding_ScopeSelection(t *testing.T) {
	db := newRepoDB(t, &domain.CommandBinding{})
	ctx := context.Background()
	g := "guild-1"

	global := &domain.CommandBinding{Command: "help", Protocol: domain.ProtocolGRPC, Address: "global:1"}
	scoped := &domain.CommandBinding{Command: "help", CommunityID: &g, Protocol: domain.ProtocolGRPC, Address: "scoped:1"}
	for _, b := range []*domain.CommandBinding{global, scoped} {
		if err := CreateBinding(ctx, db, b); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := FindBinding(ctx, db, "help", nil)
	if err != nil {
		t.Fatalf("find global: %v", err)
	}
	if got.Address != "global:1" {
		t.Fatalf("global scope returned %q", got.Address)
	}

	got, err = FindBinding(ctx, db, "help", &g)
	if err != nil {
		t.Fatalf("find scoped: %v", err)
	}
	if got.Address != "scoped:1" {
		t.Fatalf("community scope returned %q", got.Address)
	}

	other := "guild-2"
	if _, err := FindBinding(ctx, db, "help", &other); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unmapped community: %v", err)
	}
}

func TestUpdateBinding_and_SetEnabled(t *testing.T) {
	db := newRepoDB(t, &domain.CommandBinding{})
	ctx := context.Background()

	b := &domain.CommandBinding{Command: "roll", Protocol: domain.ProtocolGRPC, Address: "h:1", IsEnabled: true}
	if err := CreateBinding(ctx, db, b); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := UpdateBinding(ctx, db, b.ID, map[string]any{"cooldown_seconds": 15, "address": "h:9"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := GetBinding(ctx, db, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CooldownSeconds != 15 || got.Address != "h:9" {
		t.Fatalf("update not applied: %+v", got)
	}

	if err := SetBindingEnabled(ctx, db, b.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, _ = GetBinding(ctx, db, b.ID)
	if got.IsEnabled {
		t.Fatal("binding still enabled")
	}

	if err := UpdateBinding(ctx, db, "missing", map[string]any{"address": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}

func TestDeleteBinding_SoftDelete(t *testing.T) {
	db := newRepoDB(t, &domain.CommandBinding{})
	ctx := context.Background()

	b := &domain.CommandBinding{Command: "bye", Protocol: domain.ProtocolGRPC, Address: "h:1"}
	if err := CreateBinding(ctx, db, b); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := DeleteBinding(ctx, db, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetBinding(ctx, db, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted binding still visible: %v", err)
	}
	if err := DeleteBinding(ctx, db, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}

	// Soft delete keeps the row for audit.
	var count int64
	if err := db.Unscoped().Model(&domain.CommandBinding{}).Where("id = ?", b.ID).Count(&count).Error; err != nil {
		t.Fatalf("unscoped count: %v", err)
	}
	if count != 1 {
		t.Fatalf("row hard-deleted, count=%d", count)
	}
}

func TestListBindings_Ordering(t *testing.T) {
	db := newRepoDB(t, &domain.CommandBinding{})
	ctx := context.Background()

	for _, cmd := range []string{"zeta", "alpha", "mid"} {
		if err := CreateBinding(ctx, db, &domain.CommandBinding{Command: cmd, Protocol: domain.ProtocolGRPC, Address: "h:1"}); err != nil {
			t.Fatalf("seed %s: %v", cmd, err)
		}
	}
	out, err := ListBindings(ctx, db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 3 || out[0].Command != "alpha" || out[2].Command != "zeta" {
		t.Fatalf("ordering: %#v", out)
	}
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/openflux/eventrouter/internal/domain"
)

func TestDeadLetterLifecycle(t *testing.T) {
	db := newRepoDB(t, &domain.DeadLetter{})
	ctx := context.Background()

	d, err := CreateDeadLetter(ctx, db, "169-0", `{"platform":"discord"}`, "handler unavailable", 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ID == "" || d.FailedAt.IsZero() || d.ReplayedAt != nil {
		t.Fatalf("fields: %+v", d)
	}

	got, err := GetDeadLetter(ctx, db, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StreamID != "169-0" || got.RetryCount != 3 {
		t.Fatalf("round trip: %+v", got)
	}

	if err := MarkReplayed(ctx, db, d.ID); err != nil {
		t.Fatalf("mark replayed: %v", err)
	}
	got, _ = GetDeadLetter(ctx, db, d.ID)
	if got.ReplayedAt == nil {
		t.Fatal("replayed_at not stamped")
	}

	if err := MarkReplayed(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark missing: %v", err)
	}
}

func TestListDeadLetters_PagedNewestFirst(t *testing.T) {
	db := newRepoDB(t, &domain.DeadLetter{})
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		d := &domain.DeadLetter{
			ID:       fmt.Sprintf("dl-%d", i),
			StreamID: fmt.Sprintf("%d-0", i),
			Payload:  "{}",
			Reason:   "x",
			FailedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.WithContext(ctx).Create(d).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	total, err := CountDeadLetters(ctx, db)
	if err != nil || total != 5 {
		t.Fatalf("count = %d err=%v", total, err)
	}

	page, err := ListDeadLetters(ctx, db, 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != "dl-4" || page[1].ID != "dl-3" {
		t.Fatalf("first page: %#v", page)
	}
	page, _ = ListDeadLetters(ctx, db, 4, 2)
	if len(page) != 1 || page[0].ID != "dl-0" {
		t.Fatalf("last page: %#v", page)
	}
}

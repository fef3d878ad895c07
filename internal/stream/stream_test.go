package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/repo"
)

// fakeClient records stream commands in memory. Values are stringified the
// way Redis returns them.
type fakeClient struct {
	entries map[string][]redis.XMessage
	pending map[string][]redis.XMessage // stale entries surfaced by XAutoClaim
	acked   []string
	nextID  int
	addErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		entries: map[string][]redis.XMessage{},
		pending: map[string][]redis.XMessage{},
	}
}

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.addErr != nil {
		cmd.SetErr(f.addErr)
		return cmd
	}
	f.nextID++
	id := fmt.Sprintf("%d-0", f.nextID)
	values := make(map[string]interface{}, len(a.Values.(map[string]any)))
	for k, v := range a.Values.(map[string]any) {
		values[k] = fmt.Sprint(v)
	}
	f.entries[a.Stream] = append(f.entries[a.Stream], redis.XMessage{ID: id, Values: values})
	cmd.SetVal(id)
	return cmd
}

func (f *fakeClient) XAck(ctx context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func (f *fakeClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	cmd := redis.NewXStreamSliceCmd(ctx)
	stream := a.Streams[0]
	msgs := f.entries[stream]
	if len(msgs) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	n := int(a.Count)
	if n > len(msgs) {
		n = len(msgs)
	}
	batch := msgs[:n]
	f.entries[stream] = msgs[n:]
	cmd.SetVal([]redis.XStream{{Stream: stream, Messages: batch}})
	return cmd
}

func (f *fakeClient) XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	cmd := redis.NewXAutoClaimCmd(ctx)
	msgs := f.pending[a.Stream]
	f.pending[a.Stream] = nil
	cmd.SetVal(msgs, "0-0")
	return cmd
}

func (f *fakeClient) XGroupCreateMkStream(ctx context.Context, _, _, _ string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

type fakeProcessor struct {
	calls int
	fail  int // fail the first n calls
}

func (p *fakeProcessor) ProcessEvent(_ context.Context, _ domain.Event) error {
	p.calls++
	if p.calls <= p.fail {
		return errors.New("handler down")
	}
	return nil
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "stream_test.db"), false)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func entryFor(t *testing.T, ev domain.Event, retries int) redis.XMessage {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return redis.XMessage{
		ID: "10-0",
		Values: map[string]interface{}{
			fieldEvent:   string(raw),
			fieldRetries: fmt.Sprint(retries),
		},
	}
}

func testConfig() Config {
	return Config{
		Stream:     "events:inbound",
		DeadLetter: "events:deadletter",
		Group:      "router",
		Consumer:   "c1",
		BatchSize:  8,
		BlockFor:   time.Millisecond,
		MaxRetries: 3,
	}
}

func streamEvent() domain.Event {
	return domain.Event{
		Platform:    domain.PlatformDiscord,
		ChannelID:   "chan-1",
		UserID:      "user-1",
		Message:     "hello",
		MessageType: domain.MessageTypeChat,
	}
}

func TestHandleSuccessAcks(t *testing.T) {
	rdb := newFakeClient()
	proc := &fakeProcessor{}
	c := NewConsumer(rdb, testDB(t), proc, testConfig(), zerolog.Nop())

	c.handle(context.Background(), entryFor(t, streamEvent(), 0))

	if proc.calls != 1 {
		t.Fatalf("processor calls = %d, want 1", proc.calls)
	}
	if len(rdb.acked) != 1 || rdb.acked[0] != "10-0" {
		t.Fatalf("acked = %v, want [10-0]", rdb.acked)
	}
	if len(rdb.entries["events:inbound"]) != 0 {
		t.Fatalf("unexpected requeue: %v", rdb.entries["events:inbound"])
	}
}

func TestHandleFailureRequeuesWithBumpedCounter(t *testing.T) {
	rdb := newFakeClient()
	proc := &fakeProcessor{fail: 1}
	c := NewConsumer(rdb, testDB(t), proc, testConfig(), zerolog.Nop())

	c.handle(context.Background(), entryFor(t, streamEvent(), 0))

	queued := rdb.entries["events:inbound"]
	if len(queued) != 1 {
		t.Fatalf("requeued entries = %d, want 1", len(queued))
	}
	if got := queued[0].Values[fieldRetries]; got != "1" {
		t.Fatalf("retries = %v, want \"1\"", got)
	}
	if len(rdb.acked) != 1 {
		t.Fatalf("old entry not acked: %v", rdb.acked)
	}
	if len(rdb.entries["events:deadletter"]) != 0 {
		t.Fatal("dead-lettered before retries exhausted")
	}
}

func TestHandleExhaustedRetriesDeadLettersOnce(t *testing.T) {
	rdb := newFakeClient()
	db := testDB(t)
	proc := &fakeProcessor{fail: 100}
	cfg := testConfig()
	c := NewConsumer(rdb, db, proc, cfg, zerolog.Nop())
	ctx := context.Background()

	// Walk the entry through every redelivery until it dead-letters.
	c.handle(ctx, entryFor(t, streamEvent(), 0))
	for len(rdb.entries["events:inbound"]) > 0 {
		msg := rdb.entries["events:inbound"][0]
		rdb.entries["events:inbound"] = rdb.entries["events:inbound"][1:]
		c.handle(ctx, msg)
	}

	if proc.calls != cfg.MaxRetries {
		t.Fatalf("processor calls = %d, want %d", proc.calls, cfg.MaxRetries)
	}
	if got := len(rdb.entries["events:deadletter"]); got != 1 {
		t.Fatalf("dlq stream entries = %d, want 1", got)
	}
	n, err := repo.CountDeadLetters(ctx, db)
	if err != nil {
		t.Fatalf("count dead letters: %v", err)
	}
	if n != 1 {
		t.Fatalf("dead letter rows = %d, want 1", n)
	}
	if len(rdb.entries["events:inbound"]) != 0 {
		t.Fatal("entry still queued after dead-lettering")
	}
}

func TestHandleMalformedEntryDeadLetters(t *testing.T) {
	rdb := newFakeClient()
	db := testDB(t)
	proc := &fakeProcessor{}
	c := NewConsumer(rdb, db, proc, testConfig(), zerolog.Nop())
	ctx := context.Background()

	c.handle(ctx, redis.XMessage{ID: "11-0", Values: map[string]interface{}{
		fieldEvent: "{not json",
	}})

	if proc.calls != 0 {
		t.Fatalf("processor called %d times for malformed entry", proc.calls)
	}
	n, err := repo.CountDeadLetters(ctx, db)
	if err != nil {
		t.Fatalf("count dead letters: %v", err)
	}
	if n != 1 {
		t.Fatalf("dead letter rows = %d, want 1", n)
	}
}

func TestHandleRequeueFailureLeavesPending(t *testing.T) {
	rdb := newFakeClient()
	proc := &fakeProcessor{fail: 1}
	c := NewConsumer(rdb, testDB(t), proc, testConfig(), zerolog.Nop())

	rdb.addErr = errors.New("redis down")
	c.handle(context.Background(), entryFor(t, streamEvent(), 0))

	if len(rdb.acked) != 0 {
		t.Fatalf("acked %v although requeue failed", rdb.acked)
	}
}

func TestClaimStaleReprocessesPendingEntries(t *testing.T) {
	rdb := newFakeClient()
	proc := &fakeProcessor{}
	c := NewConsumer(rdb, testDB(t), proc, testConfig(), zerolog.Nop())
	ctx := context.Background()

	// An entry stranded in the pending list (crash before ack) is claimed,
	// run through the pipeline, and acked.
	rdb.pending["events:inbound"] = []redis.XMessage{entryFor(t, streamEvent(), 0)}
	c.claimStale(ctx)

	if proc.calls != 1 {
		t.Fatalf("processor calls = %d, want 1", proc.calls)
	}
	if len(rdb.acked) != 1 || rdb.acked[0] != "10-0" {
		t.Fatalf("acked = %v, want [10-0]", rdb.acked)
	}

	// Nothing left to claim; the scan is a no-op.
	c.claimStale(ctx)
	if proc.calls != 1 {
		t.Fatalf("processor calls = %d after empty scan, want 1", proc.calls)
	}
}

func TestClaimStaleHonorsRetryBudget(t *testing.T) {
	rdb := newFakeClient()
	db := testDB(t)
	proc := &fakeProcessor{fail: 100}
	c := NewConsumer(rdb, db, proc, testConfig(), zerolog.Nop())
	ctx := context.Background()

	// A claimed entry carries its counter in the payload, so one that
	// already burned its retries dead-letters instead of looping.
	rdb.pending["events:inbound"] = []redis.XMessage{entryFor(t, streamEvent(), 2)}
	c.claimStale(ctx)

	n, err := repo.CountDeadLetters(ctx, db)
	if err != nil {
		t.Fatalf("count dead letters: %v", err)
	}
	if n != 1 {
		t.Fatalf("dead letter rows = %d, want 1", n)
	}
	if len(rdb.entries["events:inbound"]) != 0 {
		t.Fatalf("requeued after exhausting retries: %v", rdb.entries["events:inbound"])
	}
}

func TestPublishRoundTrip(t *testing.T) {
	rdb := newFakeClient()
	pub := NewPublisher(rdb, "events:inbound")

	id, err := pub.Publish(context.Background(), streamEvent())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatal("empty entry id")
	}
	entries := rdb.entries["events:inbound"]
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	ev, retries, err := decodeEntry(entries[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if retries != 0 || ev.UserID != "user-1" {
		t.Fatalf("decoded retries=%d user=%q", retries, ev.UserID)
	}
}

func TestReplayDeadLetter(t *testing.T) {
	rdb := newFakeClient()
	db := testDB(t)
	pub := NewPublisher(rdb, "events:inbound")
	ctx := context.Background()

	raw, _ := json.Marshal(streamEvent())
	dl, err := repo.CreateDeadLetter(ctx, db, "10-0", string(raw), "handler down", 3)
	if err != nil {
		t.Fatalf("create dead letter: %v", err)
	}

	if err := ReplayDeadLetter(ctx, db, pub, dl.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(rdb.entries["events:inbound"]) != 1 {
		t.Fatalf("inbound entries = %d, want 1", len(rdb.entries["events:inbound"]))
	}

	got, err := repo.GetDeadLetter(ctx, db, dl.ID)
	if err != nil {
		t.Fatalf("get dead letter: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("replayed_at not set")
	}

	if err := ReplayDeadLetter(ctx, db, pub, dl.ID); !errors.Is(err, ErrDeadLetterReplayed) {
		t.Fatalf("second replay err = %v, want ErrDeadLetterReplayed", err)
	}
}

// Package stream provides the durable ingestion path: events are published
// to a Redis Stream and consumed by a consumer group, so bursts are
// absorbed and a router crash never loses accepted events.
//
// Delivery semantics are at-least-once. A message is acknowledged only
// after the pipeline processed it; failures are requeued with a bumped
// retry counter, and once the counter reaches the configured maximum the
// message moves to the dead-letter queue (a database row for inspection
// and replay, plus a Redis DLQ stream for external tooling) before being
// acknowledged on the inbound stream. Entries stuck in the pending list
// (a consumer crash between delivery and ack, or a failed requeue or
// dead-letter write) are reclaimed via XAUTOCLAIM once they have been
// idle longer than ClaimMinIdle and re-run through the same path.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/domain"
	"github.com/openflux/eventrouter/internal/repo"
)

// Stream entry field names.
const (
	fieldEvent   = "event"
	fieldRetries = "retries"
)

// ErrDeadLetterReplayed is returned when replaying an already-replayed row.
var ErrDeadLetterReplayed = errors.New("dead letter already replayed")

// Processor handles one event end to end. Returning an error triggers the
// redelivery path.
type Processor interface {
	ProcessEvent(ctx context.Context, ev domain.Event) error
}

// Client is the slice of the Redis command surface the stream layer uses.
// *redis.Client satisfies it; tests substitute a fake.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
}

// Config mirrors the stream section of the application config.
type Config struct {
	Stream     string
	DeadLetter string
	Group      string
	Consumer   string
	BatchSize  int
	BlockFor   time.Duration
	MaxRetries int

	// ClaimMinIdle is how long an entry may sit in another consumer's
	// pending list before this consumer claims it.
	ClaimMinIdle time.Duration
}

// Publisher appends events to the inbound stream.
type Publisher struct {
	rdb    Client
	stream string
}

// NewPublisher constructs a Publisher for the given stream key.
func NewPublisher(rdb Client, stream string) *Publisher {
	return &Publisher{rdb: rdb, stream: stream}
}

// Publish appends ev to the stream and returns the entry ID.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{fieldEvent: string(raw), fieldRetries: 0},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

// Consumer reads the inbound stream as part of a consumer group and feeds
// each event to the Processor.
type Consumer struct {
	rdb  Client
	db   *gorm.DB
	proc Processor
	cfg  Config
	log  zerolog.Logger
}

// NewConsumer constructs a Consumer. Call Run to start it.
func NewConsumer(rdb Client, db *gorm.DB, proc Processor, cfg Config, log zerolog.Logger) *Consumer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 16
	}
	if cfg.BlockFor <= 0 {
		cfg.BlockFor = 5 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}
	return &Consumer{rdb: rdb, db: db, proc: proc, cfg: cfg, log: log}
}

// Run creates the consumer group if needed and consumes until ctx is
// cancelled. It returns nil on clean shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.log.Info().Str("stream", c.cfg.Stream).Str("group", c.cfg.Group).
		Str("consumer", c.cfg.Consumer).Msg("stream consumer started")

	nextClaim := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			c.log.Info().Msg("stream consumer stopped")
			return nil
		}
		if !time.Now().Before(nextClaim) {
			c.claimStale(ctx)
			nextClaim = time.Now().Add(c.cfg.ClaimMinIdle)
		}
		if err := c.readBatch(ctx); err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("stream consumer stopped")
				return nil
			}
			c.log.Error().Err(err).Msg("stream read failed, backing off")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (c *Consumer) readBatch(ctx context.Context) error {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    int64(c.cfg.BatchSize),
		Block:    c.cfg.BlockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil // block timeout, no new entries
		}
		return err
	}
	for _, s := range res {
		for _, msg := range s.Messages {
			c.handle(ctx, msg)
		}
	}
	return nil
}

// claimStale takes over entries that have sat unacknowledged longer than
// ClaimMinIdle and runs them through the normal handling path. The retry
// counter travels in the entry payload, so a reclaimed entry keeps its
// place in the retry budget.
func (c *Consumer) claimStale(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.ClaimMinIdle,
			Start:    start,
			Count:    int64(c.cfg.BatchSize),
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Error().Err(err).Msg("pending claim scan failed")
			}
			return
		}
		for _, msg := range msgs {
			c.log.Warn().Str("stream_id", msg.ID).Msg("reclaimed stale pending entry")
			c.handle(ctx, msg)
		}
		if next == "0-0" || next == start {
			return
		}
		start = next
	}
}

// handle processes one entry. Acknowledge ordering is the crux: on success
// ack after processing; on terminal failure the dead letter is persisted
// BEFORE the ack so a crash in between redelivers rather than loses.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	ev, retries, err := decodeEntry(msg)
	if err != nil {
		// Malformed entries can never succeed; dead-letter immediately.
		c.log.Error().Err(err).Str("stream_id", msg.ID).Msg("undecodable stream entry")
		c.deadLetter(ctx, msg, retries, err)
		return
	}

	if perr := c.proc.ProcessEvent(ctx, ev); perr != nil {
		if retries+1 >= c.cfg.MaxRetries {
			c.log.Error().Err(perr).Str("stream_id", msg.ID).Int("retries", retries).
				Msg("event exhausted retries, dead-lettering")
			c.deadLetter(ctx, msg, retries, perr)
			return
		}
		c.requeue(ctx, msg, retries+1)
		return
	}

	c.ack(ctx, msg.ID)
}

// requeue appends a fresh entry with the bumped counter and acknowledges
// the old one, making the retry durable.
func (c *Consumer) requeue(ctx context.Context, msg redis.XMessage, retries int) {
	values := map[string]any{
		fieldEvent:   msg.Values[fieldEvent],
		fieldRetries: retries,
	}
	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.Stream, Values: values}).Err(); err != nil {
		// Leave the original pending; the group will redeliver it.
		c.log.Error().Err(err).Str("stream_id", msg.ID).Msg("requeue failed, leaving pending")
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, retries int, cause error) {
	payload, _ := msg.Values[fieldEvent].(string)

	if _, err := repo.CreateDeadLetter(ctx, c.db, msg.ID, payload, cause.Error(), retries); err != nil {
		c.log.Error().Err(err).Str("stream_id", msg.ID).Msg("dead letter row write failed, leaving pending")
		return
	}
	if err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DeadLetter,
		Values: map[string]any{
			fieldEvent:   payload,
			fieldRetries: retries,
			"reason":     cause.Error(),
			"origin_id":  msg.ID,
		},
	}).Err(); err != nil {
		// The durable row exists; the DLQ stream copy is advisory.
		c.log.Warn().Err(err).Str("stream_id", msg.ID).Msg("dlq stream write failed")
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.log.Error().Err(err).Str("stream_id", id).Msg("ack failed")
	}
}

func decodeEntry(msg redis.XMessage) (domain.Event, int, error) {
	retries := 0
	if raw, ok := msg.Values[fieldRetries]; ok {
		if s, ok := raw.(string); ok {
			if n, err := strconv.Atoi(s); err == nil {
				retries = n
			}
		}
	}
	raw, ok := msg.Values[fieldEvent].(string)
	if !ok {
		return domain.Event{}, retries, fmt.Errorf("entry %s missing %s field", msg.ID, fieldEvent)
	}
	var ev domain.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return domain.Event{}, retries, fmt.Errorf("decode entry %s: %w", msg.ID, err)
	}
	return ev, retries, nil
}

// ReplayDeadLetter re-publishes the stored dead letter onto the inbound
// stream and marks the row replayed. Replaying twice is rejected.
func ReplayDeadLetter(ctx context.Context, db *gorm.DB, pub *Publisher, id string) error {
	dl, err := repo.GetDeadLetter(ctx, db, id)
	if err != nil {
		return err
	}
	if dl.ReplayedAt != nil {
		return ErrDeadLetterReplayed
	}
	var ev domain.Event
	if err := json.Unmarshal([]byte(dl.Payload), &ev); err != nil {
		return fmt.Errorf("decode dead letter %s: %w", id, err)
	}
	if _, err := pub.Publish(ctx, ev); err != nil {
		return err
	}
	return repo.MarkReplayed(ctx, db, id)
}

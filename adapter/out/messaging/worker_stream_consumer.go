package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrMalformed marks a message that can never be processed. The consumer
// moves it to the DLQ and acknowledges it right away.
var ErrMalformed = errors.New("malformed message")

// JobHandler processes one stream entry. Any error other than ErrMalformed
// leaves the entry pending so it is reclaimed later.
type JobHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// DeadLetterStream is the DLQ stream name of stream.
func DeadLetterStream(stream string) string {
	return "dlq:" + stream
}

const (
	readBatch       = 10
	readBlock       = 5 * time.Second
	reclaimBatch    = 100
	deadLetterLimit = 10000
)

// Consumer reads sync jobs from Redis Streams as part of a consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  JobHandler
	log      zerolog.Logger

	reclaimEvery time.Duration
	reclaimIdle  time.Duration
	maxDelivery  int64
}

// ConsumerConfig configures a Consumer. Zero reclaim settings fall back to
// a 30s scan for entries idle longer than 2m, delivered at most 3 times.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  JobHandler
	Logger   zerolog.Logger

	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:       client,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		streams:      cfg.Streams,
		handler:      cfg.Handler,
		log:          cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		reclaimEvery: cfg.PendingCheckInterval,
		reclaimIdle:  cfg.PendingIdleTime,
		maxDelivery:  int64(cfg.MaxRetries),
	}
	if c.reclaimEvery <= 0 {
		c.reclaimEvery = 30 * time.Second
	}
	if c.reclaimIdle <= 0 {
		c.reclaimIdle = 2 * time.Minute
	}
	if c.maxDelivery <= 0 {
		c.maxDelivery = 3
	}
	return c
}

// Run blocks reading the group until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.streams) == 0 {
		return errors.New("consumer: no streams configured")
	}
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("consumer started")

	for _, stream := range c.streams {
		if err := c.ensureGroup(ctx, stream); err != nil {
			c.log.Warn().Err(err).Str("stream", stream).Msg("consumer group setup failed")
		}
	}

	go c.reclaimLoop(ctx)

	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  args,
			Count:    readBatch,
			Block:    readBlock,
		}).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			c.log.Error().Err(err).Msg("stream read failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				c.deliver(ctx, s.Stream, msg)
			}
		}
	}
}

// deliver hands msg to the handler and acks it unless it must be retried.
// It reports whether the entry left the pending list.
func (c *Consumer) deliver(ctx context.Context, stream string, msg redis.XMessage) bool {
	err := c.dispatch(ctx, stream, msg)
	if err != nil && !errors.Is(err, ErrMalformed) {
		c.log.Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("job left pending")
		return false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("malformed job")
		c.deadLetter(ctx, stream, msg, err.Error())
	}

	if err := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("ack failed")
		return false
	}
	return true
}

func (c *Consumer) dispatch(ctx context.Context, stream string, msg redis.XMessage) error {
	raw, ok := msg.Values["data"]
	if !ok {
		return fmt.Errorf("%w: missing data field", ErrMalformed)
	}
	data, ok := raw.(string)
	if !ok {
		return fmt.Errorf("%w: data field is %T", ErrMalformed, raw)
	}
	return c.handler.Handle(ctx, stream, []byte(data))
}

func (c *Consumer) reclaimLoop(ctx context.Context) {
	t := time.NewTicker(c.reclaimEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, stream := range c.streams {
				c.reclaim(ctx, stream)
			}
		}
	}
}

// reclaim takes over entries another consumer (or a crashed run of this
// one) left idle. Entries delivered maxDelivery times go to the DLQ.
func (c *Consumer) reclaim(ctx context.Context, stream string) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Idle:   c.reclaimIdle,
		Start:  "-",
		End:    "+",
		Count:  reclaimBatch,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Str("stream", stream).Msg("pending scan failed")
		}
		return
	}

	for _, p := range pending {
		if p.RetryCount >= c.maxDelivery {
			c.expire(ctx, stream, p)
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.reclaimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("claim failed")
			continue
		}
		for _, msg := range claimed {
			if c.deliver(ctx, stream, msg) {
				c.log.Info().
					Str("stream", stream).
					Str("id", msg.ID).
					Str("previous_owner", p.Consumer).
					Int64("deliveries", p.RetryCount+1).
					Msg("reclaimed job processed")
			}
		}
	}
}

func (c *Consumer) expire(ctx context.Context, stream string, p redis.XPendingExt) {
	c.log.Warn().
		Str("stream", stream).
		Str("id", p.ID).
		Int64("deliveries", p.RetryCount).
		Msg("delivery limit reached")

	msgs, err := c.client.XRange(ctx, stream, p.ID, p.ID).Result()
	switch {
	case err != nil:
		c.log.Error().Err(err).Str("id", p.ID).Msg("read for DLQ failed")
	case len(msgs) == 0:
		c.log.Warn().Str("id", p.ID).Msg("pending entry already trimmed")
	default:
		c.deadLetter(ctx, stream, msgs[0], fmt.Sprintf("delivered %d times", p.RetryCount))
	}
	c.client.XAck(ctx, stream, c.group, p.ID)
}

// deadLetter copies msg to the DLQ stream with failure metadata.
func (c *Consumer) deadLetter(ctx context.Context, stream string, msg redis.XMessage, reason string) {
	values := map[string]interface{}{
		"original_stream": stream,
		"original_id":     msg.ID,
		"reason":          reason,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}

	dlq := DeadLetterStream(stream)
	err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlq,
		MaxLen: deadLetterLimit,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		c.log.Error().Err(err).Str("dlq", dlq).Str("id", msg.ID).Msg("DLQ write failed")
		return
	}
	c.log.Info().Str("dlq", dlq).Str("id", msg.ID).Str("reason", reason).Msg("job dead-lettered")
}

func (c *Consumer) ensureGroup(ctx context.Context, stream string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

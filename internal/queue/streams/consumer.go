package streams

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Consumer reads envelopes from one stream as a member of a consumer group.
// Entries that fail to decode or validate are logged and acked so they are
// not redelivered forever.
type Consumer struct {
	client   *redis.Client
	registry *SchemaRegistry
	logger   *log.Logger
	stream   string
	group    string
	name     string
}

// Message is a decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

func NewConsumer(client *redis.Client, registry *SchemaRegistry, logger *log.Logger, stream, group, name string) *Consumer {
	if logger == nil {
		logger = log.New(log.Writer(), "[QUEUE] ", log.LstdFlags)
	}
	return &Consumer{client: client, registry: registry, logger: logger, stream: stream, group: group, name: name}
}

// EnsureGroup creates the stream and consumer group when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if c.stream == "" || c.group == "" {
		return fmt.Errorf("stream and group must be provided")
	}
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Read returns up to count new entries, blocking at most block.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	if c.name == "" {
		return nil, fmt.Errorf("consumer name must be configured")
	}
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}
	res, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	var out []Message
	for _, st := range res {
		out = append(out, c.decodeAll(ctx, st.Messages)...)
	}
	return out, nil
}

// Reclaim takes over entries pending longer than minIdle, typically left by a
// crashed worker.
func (c *Consumer) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	var out []Message
	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  minIdle,
			Start:    start,
			Count:    count,
		}).Result()
		if err != nil {
			return out, fmt.Errorf("xautoclaim: %w", err)
		}
		out = append(out, c.decodeAll(ctx, msgs)...)
		if next == "0-0" || len(msgs) == 0 {
			return out, nil
		}
		start = next
	}
}

func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (c *Consumer) decodeAll(ctx context.Context, msgs []redis.XMessage) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		env, err := c.decode(msg)
		if err != nil {
			c.logger.Printf("dropping stream entry %s: %v", msg.ID, err)
			if ackErr := c.Ack(ctx, msg.ID); ackErr != nil {
				c.logger.Printf("ack dropped entry %s: %v", msg.ID, ackErr)
			}
			continue
		}
		out = append(out, Message{ID: msg.ID, Envelope: env})
	}
	return out
}

func (c *Consumer) decode(msg redis.XMessage) (Envelope, error) {
	var raw []byte
	switch v := msg.Values["envelope"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return Envelope{}, fmt.Errorf("%w: missing envelope field", ErrInvalidEnvelope)
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return env, err
	}
	if c.registry != nil {
		if err := c.registry.Validate(env); err != nil {
			return env, err
		}
	}
	return env, nil
}

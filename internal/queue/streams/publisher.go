package streams

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher appends validated envelopes to Redis streams.
type Publisher struct {
	client   *redis.Client
	registry *SchemaRegistry
	maxLen   int64
}

// NewPublisher builds a Publisher. maxLen > 0 trims the stream approximately.
func NewPublisher(client *redis.Client, registry *SchemaRegistry, maxLen int64) *Publisher {
	return &Publisher{client: client, registry: registry, maxLen: maxLen}
}

// Publish writes env to stream and returns the stream entry id.
func (p *Publisher) Publish(ctx context.Context, stream string, env Envelope) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if err := env.check(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(env); err != nil {
			return "", err
		}
	}
	raw, err := marshalEnvelope(env)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// PublishTask wraps a submitted task and publishes it.
func (p *Publisher) PublishTask(ctx context.Context, stream, taskID, topic string) (string, error) {
	env, err := NewTaskEnvelope(taskID, topic)
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, stream, env)
}

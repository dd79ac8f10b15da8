package streams

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPublishConsumeIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()
	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer client.Close()

	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	const stream = "autostrat.tasks.test"
	pub := NewPublisher(client, reg, 1000)
	if _, err := pub.PublishTask(ctx, stream, "t-1", "quantum batteries"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// an entry from a foreign producer that must be dropped
	if err := client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"envelope": "{}"}}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}

	cons := NewConsumer(client, reg, nil, stream, "workers", "c1")
	if err := cons.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := cons.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	msgs, err := cons.Read(ctx, 10, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 valid message, got %d", len(msgs))
	}
	task, err := msgs[0].Envelope.Task()
	if err != nil || task.TaskID != "t-1" {
		t.Fatalf("unexpected task %+v err=%v", task, err)
	}

	// unacked entries can be reclaimed by another consumer
	other := NewConsumer(client, reg, nil, stream, "workers", "c2")
	claimed, err := other.Reclaim(ctx, 0, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != msgs[0].ID {
		t.Fatalf("expected to reclaim %s, got %+v", msgs[0].ID, claimed)
	}
	if err := other.Ack(ctx, claimed[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	pending, err := client.XPending(ctx, stream, "workers").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected nothing pending, got %d", pending.Count)
	}
}

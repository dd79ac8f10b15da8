package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/redis/go-redis/v9"
)

// finishScript moves a processing hash to a terminal status.
// Returns -1 when the key is missing and 0 when it is already terminal.
var finishScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return -1 end
if st ~= 'processing' then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'result', ARGV[2], 'finished_at', ARGV[3])
return 1
`)

// Redis stores each task as a hash under <prefix>:task:<id>.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// NewRedis dials Redis using cfg and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := NewRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	st := NewRedisWithClient(client, cfg.KeyPrefix, cfg.TTL)
	st.owned = true
	return st, nil
}

// NewRedisClient returns a go-redis client for cfg without connecting.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	return redis.NewClient(opts)
}

// NewRedisWithClient wraps an existing client. The caller keeps ownership of it.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "autostrat"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(id string) string {
	return r.prefix + ":task:" + id
}

func (r *Redis) Create(ctx context.Context, id string) error {
	key := r.key(id)
	created, err := r.client.HSetNX(ctx, key, "status", string(StatusProcessing)).Result()
	if err != nil {
		return fmt.Errorf("hsetnx: %w", err)
	}
	if !created {
		return ErrTaskExists
	}
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "created_at", strconv.FormatInt(time.Now().UTC().UnixMilli(), 10))
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("init task: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (Record, bool, error) {
	vals, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("hgetall: %w", err)
	}
	status, ok := vals["status"]
	if !ok {
		return Record{}, false, nil
	}
	rec := Record{ID: id, Status: Status(status)}
	if ms, err := strconv.ParseInt(vals["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if rec.Status.Terminal() {
		result := vals["result"]
		rec.Result = &result
		if ms, err := strconv.ParseInt(vals["finished_at"], 10, 64); err == nil {
			t := time.UnixMilli(ms).UTC()
			rec.FinishedAt = &t
		}
	}
	return rec, true, nil
}

func (r *Redis) SetTerminal(ctx context.Context, id string, status Status, result string) error {
	if err := checkTerminal(status); err != nil {
		return err
	}
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	res, err := finishScript.Run(ctx, r.client, []string{r.key(id)}, string(status), result, now).Int()
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	switch res {
	case -1:
		return ErrTaskNotFound
	case 0:
		return ErrTaskTerminal
	}
	return nil
}

func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

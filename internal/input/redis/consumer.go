package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Consumer pops raw firewall log rows from a Redis list.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates a Redis consumer for list-based queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop blocks for one message. It returns nil, nil when the wait times out.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// PopBatch blocks for the first message, then drains up to max-1 more
// without waiting.
func (c *Consumer) PopBatch(ctx context.Context, max int) ([][]byte, error) {
	first, err := c.Pop(ctx)
	if err != nil || first == nil {
		return nil, err
	}
	out := [][]byte{first}
	if max <= 1 {
		return out, nil
	}

	rest, err := c.client.LPopCount(ctx, c.key, max-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return out, err
	}
	for _, msg := range rest {
		out = append(out, []byte(msg))
	}
	return out, nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}

package modelstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures Redis access for artifact persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps artifacts as string keys plus a metadata hash and an
// index ordered by save time.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore constructs a Redis-backed artifact store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "netrisk:models"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis model store: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), now: time.Now}, nil
}

// Load reads an artifact.
func (s *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.dataKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}

// Save writes the artifact and its metadata in one transaction.
func (s *RedisStore) Save(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	now := s.now().UTC()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(name), data, 0)
		pipe.HSet(ctx, s.metaKey(name),
			"name", name,
			"size", strconv.Itoa(len(data)),
			"saved_at", strconv.FormatInt(now.UnixMilli(), 10),
		)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixMilli()), Member: name})
		return nil
	})
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}

// List returns stored artifacts, most recently saved first.
func (s *RedisStore) List(ctx context.Context) ([]Artifact, error) {
	names, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read artifact index: %w", err)
	}
	out := make([]Artifact, 0, len(names))
	for _, name := range names {
		hash, err := s.client.HGetAll(ctx, s.metaKey(name)).Result()
		if err != nil || len(hash) == 0 {
			continue
		}
		size, _ := strconv.ParseInt(hash["size"], 10, 64)
		savedMs, _ := strconv.ParseInt(hash["saved_at"], 10, 64)
		out = append(out, Artifact{Name: name, Size: size, SavedAt: time.UnixMilli(savedMs).UTC()})
	}
	return out, nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) dataKey(name string) string { return s.prefix + ":data:" + name }
func (s *RedisStore) metaKey(name string) string { return s.prefix + ":meta:" + name }
func (s *RedisStore) indexKey() string { return s.prefix + ":index" }

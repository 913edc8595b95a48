package modelstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no artifact is stored under a name.
var ErrNotFound = errors.New("model artifact not found")

// Artifact describes one stored model artifact.
type Artifact struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"saved_at"`
}

// Store persists opaque model artifacts by name.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	List(ctx context.Context) ([]Artifact, error)
	Close() error
}

// Config selects and configures a store.
type Config struct {
	Mode  string
	Dir   string
	Redis RedisConfig
}

// Open builds the store named by cfg.Mode ("file" or "redis").
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported model store mode: %s", cfg.Mode)
	}
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

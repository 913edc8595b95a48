package modelstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Load(ctx, "ml.json")
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Save(ctx, "ml.json", []byte(`{"v":1}`)))
	require.NoError(t, s.Save(ctx, "ml.json", []byte(`{"v":2}`)))

	data, err := s.Load(ctx, "ml.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ml.json", list[0].Name)
	assert.EqualValues(t, 7, list[0].Size)
}

func TestFileStoreRejectsPathNames(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.Save(context.Background(), "../escape", []byte("x")))
	_, err = s.Load(context.Background(), "")
	require.Error(t, err)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2025, 11, 9, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	ctx := context.Background()

	_, err = s.Load(ctx, "rule.yaml")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "rule.yaml", []byte("cpu: 0.8\n")))
	s.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, s.Save(ctx, "ml.json", []byte("{}")))

	data, err := s.Load(ctx, "rule.yaml")
	require.NoError(t, err)
	assert.Equal(t, "cpu: 0.8\n", string(data))
	assert.Equal(t, "2", mr.HGet("netrisk:models:meta:ml.json", "size"))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ml.json", list[0].Name)
	assert.Equal(t, "rule.yaml", list[1].Name)
	assert.True(t, list[1].SavedAt.Equal(base))
}

func TestNewRedisStoreFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewRedisStore(RedisConfig{Addr: addr})
	require.Error(t, err)
}

func TestOpenSelectsMode(t *testing.T) {
	s, err := Open(Config{Mode: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(Config{Mode: "s3"})
	require.Error(t, err)
}

package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/config"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/notebook"
)

func TestOpen_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Persistence.Type = string(StoreTypeMemory)

	stores, err := Open(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.IsType(t, &entry.MemoryStore{}, stores.Entries)
	assert.IsType(t, &notebook.MemoryPages{}, stores.Pages)
	assert.Nil(t, stores.Writer)
	assert.NoError(t, stores.Close())
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Persistence.Type = string(StoreTypeRedis)
	cfg.Redis.Addr = mr.Addr()

	stores, err := Open(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, stores.Entries)
	assert.IsType(t, &RedisBlobIndex{}, stores.Blobs)
	assert.IsType(t, &RedisStore{}, stores.Dependencies(nil, nil).Writer)
	assert.NoError(t, stores.Close())
}

func TestOpen_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultConfig()
	cfg.Persistence.Type = string(StoreTypeRedis)
	cfg.Redis.Addr = addr

	_, err := Open(context.Background(), cfg, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestOpen_Unsupported(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Persistence.Type = "etcd"

	_, err := Open(context.Background(), cfg, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "unsupported persistence type")
	assert.Panics(t, func() { MustOpen(context.Background(), cfg, zap.NewNop(), nil) })
}

package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/config"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/internal/database"
	"github.com/BaSui01/labnotebook/internal/metrics"
	"github.com/BaSui01/labnotebook/internal/migration"
	"github.com/BaSui01/labnotebook/lineage"
	"github.com/BaSui01/labnotebook/notebook"
)

// StoreType defines the type of persistence backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeRedis  StoreType = "redis"
)

// Stores bundles the stores a notebook service is wired with.
type Stores struct {
	Pages     notebook.PageStore
	Entries   entry.Store
	Edges     lineage.EdgeStore
	Blobs     blob.Index
	Variables integration.VariableStore
	// Writer is set by backends that can store an entry and its edges atomically.
	Writer notebook.EntryGraphWriter

	closers []func() error
}

// Dependencies returns the service dependencies backed by these stores.
func (s *Stores) Dependencies(registry *integration.Registry, blobs *blob.Store) notebook.Dependencies {
	return notebook.Dependencies{
		Pages:     s.Pages,
		Entries:   s.Entries,
		Edges:     s.Edges,
		Variables: s.Variables,
		Registry:  registry,
		Blobs:     blobs,
		Writer:    s.Writer,
	}
}

// Close releases database pools and client connections.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewMemoryStores creates in-process stores. Nothing survives a restart.
func NewMemoryStores() *Stores {
	return &Stores{
		Pages:     notebook.NewMemoryPages(),
		Entries:   entry.NewMemoryStore(),
		Edges:     lineage.NewMemoryEdgeStore(),
		Blobs:     blob.NewMemoryIndex(),
		Variables: integration.NewMemoryVariables(),
	}
}

// Open creates the stores selected by cfg.Persistence.Type.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch StoreType(cfg.Persistence.Type) {
	case StoreTypeMemory, "":
		logger.Warn("using in-memory persistence, data will not survive restart")
		return NewMemoryStores(), nil
	case StoreTypeSQL:
		return openSQL(ctx, cfg, logger, collector)
	case StoreTypeRedis:
		return openRedis(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Persistence.Type)
	}
}

// MustOpen is like Open but panics on error
func MustOpen(ctx context.Context, cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) *Stores {
	stores, err := Open(ctx, cfg, logger, collector)
	if err != nil {
		panic(fmt.Sprintf("failed to open persistence: %v", err))
	}
	return stores
}

func openSQL(ctx context.Context, cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (*Stores, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Persistence.AutoMigrate {
		if err := migrate(ctx, cfg.Database); err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.Close()
			}
			return nil, err
		}
	}

	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxOpenConns = cfg.Database.MaxOpenConns
	poolCfg.MaxIdleConns = cfg.Database.MaxIdleConns
	poolCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	pm, err := database.NewPoolManager(db, poolCfg, logger, database.WithMetrics(collector))
	if err != nil {
		return nil, err
	}

	store := NewSQLStore(pm.DB(), logger, WithSQLMetrics(collector), WithSQLPool(pm))
	logger.Info("sql persistence ready",
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("auto_migrate", cfg.Persistence.AutoMigrate),
	)
	return &Stores{
		Pages:     store,
		Entries:   store,
		Edges:     store,
		Blobs:     store.BlobIndex(),
		Variables: store,
		Writer:    store,
		closers:   []func() error{pm.Close},
	}, nil
}

func migrate(ctx context.Context, dbCfg config.DatabaseConfig) error {
	m, err := migration.NewMigratorFromDatabaseConfig(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()
	return m.Up(ctx)
}

func openRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	store := NewRedisStore(client, cfg.Persistence.KeyPrefix, logger)
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis persistence ready", zap.String("addr", cfg.Redis.Addr))
	return &Stores{
		Pages:     store,
		Entries:   store,
		Edges:     store,
		Blobs:     store.BlobIndex(),
		Variables: store,
		Writer:    store,
		closers:   []func() error{client.Close},
	}, nil
}

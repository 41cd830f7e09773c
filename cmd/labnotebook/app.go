package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/config"
	"github.com/BaSui01/labnotebook/execution"
	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/integration/graphflow"
	"github.com/BaSui01/labnotebook/integration/graphql"
	"github.com/BaSui01/labnotebook/integration/httpcall"
	"github.com/BaSui01/labnotebook/integration/manual"
	"github.com/BaSui01/labnotebook/integration/sqlquery"
	"github.com/BaSui01/labnotebook/internal/metrics"
	"github.com/BaSui01/labnotebook/internal/pool"
	"github.com/BaSui01/labnotebook/internal/telemetry"
	"github.com/BaSui01/labnotebook/notebook"
	"github.com/BaSui01/labnotebook/persistence"
)

// app 持有一次命令调用所需的全部组件
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	otel     *telemetry.Providers
	metrics  *metrics.Collector
	stores   *persistence.Stores
	blobs    *blob.Store
	registry *integration.Registry
	pool     *pool.GoroutinePool
	svc      *notebook.Service
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configFlag 注册所有子命令共用的 --config 参数
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Path to config file")
}

// newApp 按依赖顺序组装: 配置 → 日志 → 遥测 → 指标 → 持久化 → blob → 后端注册 → 服务
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg, logger: initLogger(cfg.Log)}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.otel, err = telemetry.Init(cfg.Telemetry, a.logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
		a.otel = nil
		err = nil
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, a.logger)
	}

	a.stores, err = persistence.Open(ctx, cfg, a.logger, a.metrics)
	if err != nil {
		return a, fmt.Errorf("failed to open persistence: %w", err)
	}

	a.blobs, err = blob.NewStore(blob.Config{
		Root:             cfg.Storage.Root,
		ThumbnailMaxDim:  cfg.Storage.ThumbnailMaxDim,
		ThumbnailQuality: cfg.Storage.ThumbnailQuality,
	}, a.stores.Blobs, a.logger, blob.WithMetrics(a.metrics))
	if err != nil {
		return a, fmt.Errorf("failed to open blob store: %w", err)
	}

	a.registry, err = newRegistry(cfg.Integrations, a.logger)
	if err != nil {
		return a, err
	}

	a.pool = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers:  cfg.Execution.MaxWorkers,
		QueueSize:   cfg.Execution.QueueSize,
		IdleTimeout: cfg.Execution.IdleTimeout,
		PanicHandler: func(r any) {
			a.logger.Error("execution task panicked", zap.Any("panic", r))
		},
	})

	opts := []notebook.Option{
		notebook.WithPool(a.pool),
		notebook.WithMetrics(a.metrics),
		notebook.WithLineageDepth(cfg.Execution.DefaultLineageDepth, cfg.Execution.MaxLineageDepth),
	}
	if a.otel != nil && a.otel.Enabled() {
		opts = append(opts, notebook.WithTracer(a.otel.Tracer(execution.TracerName)))
	}
	a.svc, err = notebook.New(a.stores.Dependencies(a.registry, a.blobs), a.logger, opts...)
	if err != nil {
		return a, fmt.Errorf("failed to create notebook service: %w", err)
	}
	return a, nil
}

// newRegistry 注册全部内置集成后端
func newRegistry(cfg config.IntegrationsConfig, logger *zap.Logger) (*integration.Registry, error) {
	registry := integration.NewRegistry(logger)
	backends := map[string]integration.Backend{
		httpcall.EntryType: httpcall.New(httpcall.Config{Timeout: cfg.HTTPTimeout}, logger),
		sqlquery.EntryType: sqlquery.New(sqlquery.Config{MaxRows: cfg.QueryMaxRows}, logger),
		graphflow.EntryType: graphflow.New(graphflow.Config{
			ServerURL:           cfg.Graph.ServerURL,
			Timeout:             cfg.Graph.Timeout,
			PollInterval:        cfg.Graph.PollInterval,
			RequestsPerSecond:   cfg.Graph.RequestsPerSecond,
			WatchEvents:         cfg.Graph.WatchEvents,
			DownloadConcurrency: cfg.Graph.DownloadConcurrency,
		}, logger),
		graphql.EntryType: graphql.New(graphql.Config{Timeout: cfg.HTTPTimeout}, logger),
		manual.EntryType:  manual.New(),
	}
	for entryType, b := range backends {
		if err := registry.Register(entryType, b); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Close 排空执行池后释放存储与遥测
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		a.pool.Close()
	}
	if a.stores != nil {
		errs = append(errs, a.stores.Close())
	}
	if a.otel != nil {
		errs = append(errs, a.otel.Shutdown(ctx))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// withApp 加载配置、组装应用并在 fn 返回后关闭
func withApp(ctx context.Context, configPath string, fn func(*app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("shutdown error", zap.Error(err))
	}
	return runErr
}

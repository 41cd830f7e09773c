package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 运维端点：/metrics 与 /healthz
// =============================================================================

// Check 健康检查函数，返回 nil 表示健康
type Check func(ctx context.Context) error

// Config 运维端点配置
type Config struct {
	Addr              string        `yaml:"addr" json:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout"`
	CheckTimeout      time.Duration `yaml:"check_timeout" json:"check_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:              ":9464",
		ReadHeaderTimeout: 5 * time.Second,
		CheckTimeout:      3 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Exporter 暴露 Prometheus 指标与依赖健康状态
type Exporter struct {
	cfg      Config
	server   *http.Server
	gatherer prometheus.Gatherer
	checks   map[string]Check
	logger   *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
	closed   bool
}

// Option 配置 Exporter
type Option func(*Exporter)

// WithGatherer 指定指标来源，默认 prometheus.DefaultGatherer
func WithGatherer(g prometheus.Gatherer) Option {
	return func(e *Exporter) { e.gatherer = g }
}

// WithCheck 注册一个命名健康检查
func WithCheck(name string, c Check) Option {
	return func(e *Exporter) { e.checks[name] = c }
}

// New 创建 Exporter
func New(cfg Config, logger *zap.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = def.ReadHeaderTimeout
	}

	e := &Exporter{
		cfg:      cfg,
		gatherer: prometheus.DefaultGatherer,
		checks:   map[string]Check{},
		logger:   logger.With(zap.String("component", "ops_server")),
		errCh:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return e
}

// Handler 返回路由
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", e.handleHealth)
	return mux
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks"`
}

func (e *Exporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), e.cfg.CheckTimeout)
	defer cancel()

	names := make([]string, 0, len(e.checks))
	for name := range e.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]checkResult, len(names))}
	for _, name := range names {
		if err := e.checks[name](ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = checkResult{Status: "fail", Error: err.Error()}
			e.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		resp.Checks[name] = checkResult{Status: "ok"}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Start 在后台开始监听
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("ops server is closed")
	}
	if e.listener != nil {
		return errors.New("ops server already started")
	}

	ln, err := net.Listen("tcp", e.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.cfg.Addr, err)
	}
	e.listener = ln
	e.logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("ops server failed", zap.Error(err))
			select {
			case e.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Addr 返回实际监听地址；未启动时返回配置地址
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.cfg.Addr
}

// Errors 返回异步服务错误
func (e *Exporter) Errors() <-chan error {
	return e.errCh
}

// Shutdown 优雅关闭
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}
	e.logger.Info("ops server stopped")
	return nil
}

// Run 启动并阻塞到 ctx 结束或服务出错，随后优雅关闭
func (e *Exporter) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-e.errCh:
	}
	if err := e.Shutdown(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Package graphflow 实现 comfyui 集成：向节点图工作流引擎提交工作流，
// 在超时时间内轮询完成状态，成功后下载全部输出图片作为产物。
package graphflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/internal/tlsutil"
	"github.com/BaSui01/labnotebook/types"
)

// EntryType is the entry type served by this backend.
const EntryType = "comfyui"

// Config holds engine defaults; inputs may override server_url, timeout and
// poll_interval per entry.
type Config struct {
	ServerURL           string
	Timeout             time.Duration
	PollInterval        time.Duration
	RequestsPerSecond   float64
	WatchEvents         bool
	DownloadConcurrency int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		ServerURL:           "http://127.0.0.1:8188",
		Timeout:             300 * time.Second,
		PollInterval:        time.Second,
		RequestsPerSecond:   20,
		DownloadConcurrency: 4,
	}
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.http = c }
}

// Backend executes comfyui entries.
type Backend struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a comfyui backend.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.ServerURL == "" {
		cfg.ServerURL = def.ServerURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = def.DownloadConcurrency
	}
	b := &Backend{
		cfg:    cfg,
		http:   tlsutil.HTTPClient(0),
		logger: logger.With(zap.String("component", "integration"), zap.String("entry_type", EntryType)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type request struct {
	Workflow     map[string]any `json:"workflow"`
	ServerURL    string         `json:"server_url"`
	Timeout      float64        `json:"timeout"`
	PollInterval float64        `json:"poll_interval"`
}

type run struct {
	serverURL    string
	workflow     map[string]any
	timeout      time.Duration
	pollInterval time.Duration
}

func (b *Backend) parse(inputs map[string]any) (*run, error) {
	var req request
	if err := integration.Decode(inputs, &req); err != nil {
		return nil, err
	}
	if len(req.Workflow) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "comfyui requires a workflow object")
	}
	r := &run{
		serverURL:    b.cfg.ServerURL,
		workflow:     req.Workflow,
		timeout:      b.cfg.Timeout,
		pollInterval: b.cfg.PollInterval,
	}
	if req.ServerURL != "" {
		r.serverURL = req.ServerURL
	}
	if req.Timeout > 0 {
		r.timeout = seconds(req.Timeout)
	}
	if req.PollInterval > 0 {
		r.pollInterval = seconds(req.PollInterval)
	}
	return r, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// Validate implements integration.Validator.
func (b *Backend) Validate(inputs map[string]any) error {
	_, err := b.parse(inputs)
	return err
}

// Execute implements integration.Backend.
func (b *Backend) Execute(ctx context.Context, inputs map[string]any) (*integration.Result, error) {
	r, err := b.parse(inputs)
	if err != nil {
		return nil, err
	}
	client := NewClient(r.serverURL, b.http, b.cfg.RequestsPerSecond, b.logger)
	clientID := uuid.NewString()
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var promptID atomic.Value
	promptID.Store("")
	var wake <-chan struct{}
	if b.cfg.WatchEvents {
		wake, err = client.Watch(waitCtx, clientID, func() string { return promptID.Load().(string) })
		if err != nil {
			b.logger.Debug("event feed unavailable, polling only", zap.Error(err))
		}
	}

	id, err := client.QueuePrompt(waitCtx, r.workflow, clientID)
	if err != nil {
		return nil, b.timeoutOr(ctx, waitCtx, r.timeout, err)
	}
	promptID.Store(id)

	history, err := b.wait(ctx, waitCtx, client, id, r, wake)
	if err != nil {
		return nil, err
	}
	executionTime := time.Since(start).Seconds()

	artifacts, err := b.collect(waitCtx, client, history)
	if err != nil {
		return nil, b.timeoutOr(ctx, waitCtx, r.timeout, err)
	}

	nodeOutputs := make(map[string]any, len(history.Outputs))
	for k, v := range history.Outputs {
		nodeOutputs[k] = v
	}

	b.logger.Debug("workflow finished",
		zap.String("prompt_id", id),
		zap.Int("num_images", len(artifacts)),
		zap.Float64("execution_time", executionTime),
	)

	return &integration.Result{
		Outputs: map[string]any{
			"prompt_id":      id,
			"execution_time": executionTime,
			"node_outputs":   nodeOutputs,
			"num_images":     len(artifacts),
		},
		Artifacts: artifacts,
	}, nil
}

// wait polls the prompt history until it is recorded as finished, the engine reports an
// error, or waitCtx expires. A signal on wake triggers an immediate poll.
func (b *Backend) wait(ctx, waitCtx context.Context, client *Client, promptID string, r *run, wake <-chan struct{}) (*History, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return nil, b.timeoutOr(ctx, waitCtx, r.timeout, waitCtx.Err())
		case <-timer.C:
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		history, err := client.History(waitCtx, promptID)
		if err != nil {
			return nil, b.timeoutOr(ctx, waitCtx, r.timeout, err)
		}
		if history != nil {
			if history.Status != nil && history.Status.StatusStr == "error" {
				return nil, fmt.Errorf("workflow execution failed: %v", history.Status.Messages)
			}
			// 工作流可能没有输出节点：outputs 存在（即使为空）或 completed 即视为结束
			if history.Outputs != nil || (history.Status != nil && history.Status.Completed) {
				return history, nil
			}
		}
		timer.Reset(r.pollInterval)
	}
}

// timeoutOr reports a timeout when waitCtx expired while the caller's ctx is
// still live, otherwise err.
func (b *Backend) timeoutOr(ctx, waitCtx context.Context, timeout time.Duration, err error) error {
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("workflow execution timed out after %gs", timeout.Seconds())
	}
	return err
}

type download struct {
	nodeID string
	ref    ImageRef
}

// collect downloads every image declared in history, ordered by node id.
func (b *Backend) collect(ctx context.Context, client *Client, history *History) ([]integration.Artifact, error) {
	nodeIDs := make([]string, 0, len(history.Outputs))
	for id := range history.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var jobs []download
	for _, id := range nodeIDs {
		for _, ref := range history.Images(id) {
			jobs = append(jobs, download{nodeID: id, ref: ref})
		}
	}

	artifacts := make([]integration.Artifact, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.DownloadConcurrency)
	for i, job := range jobs {
		g.Go(func() error {
			data, err := client.Download(gctx, job.ref)
			if err != nil {
				return err
			}
			artifacts[i] = integration.Artifact{
				MediaType: mediaTypeFor(job.ref.Filename),
				Data:      data,
				Metadata: map[string]any{
					"filename":  job.ref.Filename,
					"subfolder": job.ref.Subfolder,
					"node_id":   job.nodeID,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func mediaTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

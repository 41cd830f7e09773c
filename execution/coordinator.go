package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/internal/metrics"
	"github.com/BaSui01/labnotebook/internal/pool"
	"github.com/BaSui01/labnotebook/types"
)

// TracerName is the instrumentation scope of execution spans.
const TracerName = "labnotebook/execution"

// Stats tracks execution statistics.
type Stats struct {
	TotalExecutions     int64         `json:"total_executions"`
	CompletedExecutions int64         `json:"completed_executions"`
	FailedExecutions    int64         `json:"failed_executions"`
	TotalDuration       time.Duration `json:"total_duration"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithVariables merges per-type integration variables under entry inputs.
func WithVariables(v integration.VariableStore) Option {
	return func(c *Coordinator) { c.vars = v }
}

// WithPool sets the worker pool used by Submit.
func WithPool(p *pool.GoroutinePool) Option {
	return func(c *Coordinator) { c.pool = p }
}

// WithMetrics records executions and state transitions.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator drives entries from created to a terminal status.
type Coordinator struct {
	entries  entry.Store
	registry *integration.Registry
	blobs    *blob.Store
	vars     integration.VariableStore
	pool     *pool.GoroutinePool
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	stats Stats
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(entries entry.Store, registry *integration.Registry, blobs *blob.Store, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		entries:  entries,
		registry: registry,
		blobs:    blobs,
		logger:   logger.With(zap.String("component", "execution")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(TracerName)
	}
	return c
}

// Execute runs entry id to completion and returns its terminal record.
// An entry that is not created fails with INVALID_STATE; a backend failure
// is returned as a failed entry with a nil error.
func (c *Coordinator) Execute(ctx context.Context, id string) (*entry.Entry, error) {
	claimed, err := c.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, claimed)
}

// Submit claims entry id synchronously and runs it on the worker pool. The
// returned entry is the running record. When the pool rejects the task the
// entry is marked failed and returned with the rejection error.
func (c *Coordinator) Submit(ctx context.Context, id string) (*entry.Entry, error) {
	if c.pool == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "asynchronous execution is not configured")
	}
	claimed, err := c.claim(ctx, id)
	if err != nil {
		return nil, err
	}

	err = c.pool.Submit(context.WithoutCancel(ctx), func(ctx context.Context) error {
		_, err := c.run(ctx, claimed)
		return err
	})
	if err != nil {
		c.logger.Warn("execution rejected by worker pool",
			zap.String("entry_id", id),
			zap.Error(err),
		)
		failed, ferr := c.finish(context.WithoutCancel(ctx), claimed, nil, nil, fmt.Sprintf("execution rejected: %v", err))
		if ferr != nil {
			return nil, ferr
		}
		c.record(failed, 0)
		return failed, types.NewError(types.ErrBackendExecution, "execution rejected").WithCause(err).WithRetryable(true)
	}
	return claimed, nil
}

// Stats returns execution statistics.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// claim moves id from created to running and persists it.
func (c *Coordinator) claim(ctx context.Context, id string) (*entry.Entry, error) {
	claimed, err := c.entries.Update(ctx, id, entry.StatusCreated, func(e *entry.Entry) error {
		return e.Start(c.now())
	})
	if err != nil {
		return nil, err
	}
	c.metrics.RecordStateTransition(string(entry.StatusCreated), string(entry.StatusRunning))
	c.logger.Info("entry running",
		zap.String("entry_id", claimed.ID),
		zap.String("entry_type", claimed.EntryType),
	)
	return claimed, nil
}

// run invokes the backend for a claimed entry and records the outcome.
func (c *Coordinator) run(ctx context.Context, e *entry.Entry) (*entry.Entry, error) {
	ctx, span := c.tracer.Start(ctx, "entry.execute",
		trace.WithAttributes(
			attribute.String("entry.id", e.ID),
			attribute.String("entry.type", e.EntryType),
		))
	defer span.End()

	c.metrics.ExecutionStarted()
	defer c.metrics.ExecutionFinished()
	start := time.Now()

	result, err := c.invoke(ctx, e)
	var refs []entry.ArtifactRef
	if err == nil {
		refs, err = c.commit(ctx, e, result.Artifacts)
	}

	// 调用方取消不应阻止终态落盘
	persistCtx := context.WithoutCancel(ctx)
	var final *entry.Entry
	var ferr error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("entry execution failed",
			zap.String("entry_id", e.ID),
			zap.String("entry_type", e.EntryType),
			zap.Error(err),
		)
		final, ferr = c.finish(persistCtx, e, nil, nil, err.Error())
	} else {
		final, ferr = c.finish(persistCtx, e, result.Outputs, refs, "")
	}
	if ferr != nil {
		span.RecordError(ferr)
		return nil, ferr
	}

	span.SetAttributes(attribute.String("entry.status", string(final.Status)))
	c.record(final, time.Since(start))
	return final, nil
}

// invoke resolves and calls the backend, converting panics into errors.
func (c *Coordinator) invoke(ctx context.Context, e *entry.Entry) (result *integration.Result, err error) {
	backend, err := c.registry.Resolve(e.EntryType)
	if err != nil {
		return nil, err
	}

	inputs := e.Inputs
	if c.vars != nil {
		defaults, verr := c.vars.Variables(ctx, e.EntryType)
		if verr != nil {
			return nil, fmt.Errorf("failed to load integration variables: %w", verr)
		}
		inputs = integration.MergeDefaults(defaults, e.Inputs)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("backend panicked",
				zap.String("entry_id", e.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			result = nil
			err = types.Errorf(types.ErrBackendExecution, "backend %s panicked: %v", e.EntryType, r)
		}
	}()

	result, err = backend.Execute(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &integration.Result{}
	}
	return result, nil
}

// commit stores every artifact. Any failure discards the whole set.
func (c *Coordinator) commit(ctx context.Context, e *entry.Entry, artifacts []integration.Artifact) ([]entry.ArtifactRef, error) {
	if len(artifacts) == 0 {
		return nil, nil
	}
	if c.blobs == nil {
		return nil, types.NewError(types.ErrStorageFailure, "no blob store configured for artifacts")
	}

	refs := make([]entry.ArtifactRef, 0, len(artifacts))
	for i, a := range artifacts {
		mediaType := a.MediaType
		if mediaType == "" {
			mediaType = blob.DefaultMediaType
		}
		obj, err := c.blobs.PutObject(ctx, a.Data, mediaType, a.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to store artifact %d: %w", i, err)
		}

		thumb, err := c.blobs.DeriveThumbnail(ctx, obj.Hash)
		if err != nil {
			c.logger.Warn("thumbnail derivation failed",
				zap.String("entry_id", e.ID),
				zap.String("hash", obj.Hash),
				zap.Error(err),
			)
			thumb = ""
		}

		refs = append(refs, entry.ArtifactRef{
			Hash:          obj.Hash,
			MediaType:     mediaType,
			SizeBytes:     obj.SizeBytes,
			ThumbnailHash: thumb,
			Metadata:      a.Metadata,
		})
	}

	c.logger.Debug("artifacts committed",
		zap.String("entry_id", e.ID),
		zap.Int("count", len(refs)),
	)
	return refs, nil
}

// finish writes the terminal status of a running entry.
func (c *Coordinator) finish(ctx context.Context, e *entry.Entry, outputs map[string]any, refs []entry.ArtifactRef, failure string) (*entry.Entry, error) {
	to := entry.StatusCompleted
	if failure != "" {
		to = entry.StatusFailed
	}

	final, err := c.entries.Update(ctx, e.ID, entry.StatusRunning, func(cur *entry.Entry) error {
		if failure != "" {
			return cur.Fail(failure, c.now())
		}
		return cur.Complete(outputs, refs, c.now())
	})
	if err != nil {
		c.logger.Error("failed to persist execution result",
			zap.String("entry_id", e.ID),
			zap.String("status", string(to)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to persist execution result for %s: %w", e.ID, err)
	}

	c.metrics.RecordStateTransition(string(entry.StatusRunning), string(to))
	c.logger.Info("entry finished",
		zap.String("entry_id", final.ID),
		zap.String("entry_type", final.EntryType),
		zap.String("status", string(final.Status)),
		zap.Int("artifacts", len(final.Artifacts)),
	)
	return final, nil
}

func (c *Coordinator) record(e *entry.Entry, d time.Duration) {
	c.metrics.RecordExecution(e.EntryType, string(e.Status), d)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalExecutions++
	c.stats.TotalDuration += d
	if e.Status == entry.StatusCompleted {
		c.stats.CompletedExecutions++
	} else {
		c.stats.FailedExecutions++
	}
}

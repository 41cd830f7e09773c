// Package graphql 实现 graphql 集成：向 GraphQL 端点 POST 查询或变更。
// GraphQL 层面的 errors 与非 2xx 一样记为成功执行，传输失败才算失败。
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/internal/pool"
	"github.com/BaSui01/labnotebook/internal/tlsutil"
	"github.com/BaSui01/labnotebook/types"
)

// EntryType is the entry type served by this backend.
const EntryType = "graphql"

// Config configures the backend.
type Config struct {
	Timeout time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// Backend executes graphql entries.
type Backend struct {
	client *http.Client
	logger *zap.Logger
}

// New creates a graphql backend.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	b := &Backend{
		client: tlsutil.HTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "integration"), zap.String("entry_type", EntryType)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type request struct {
	URL           string         `json:"url"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	Headers       map[string]any `json:"headers"`
	OperationName string         `json:"operation_name"`
}

func parse(inputs map[string]any) (*request, error) {
	var req request
	if err := integration.Decode(inputs, &req); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "graphql requires a url")
	}
	if req.Query == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "graphql requires a query")
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return &req, nil
}

// Validate implements integration.Validator.
func (b *Backend) Validate(inputs map[string]any) error {
	_, err := parse(inputs)
	return err
}

// Execute implements integration.Backend.
func (b *Backend) Execute(ctx context.Context, inputs map[string]any) (*integration.Result, error) {
	req, err := parse(inputs)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"query": req.Query}
	if len(req.Variables) > 0 {
		payload["variables"] = req.Variables
	}
	if req.OperationName != "" {
		payload["operationName"] = req.OperationName
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "graphql variables are not serializable").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(raw))
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidRequest, "invalid graphql url %q", req.URL).WithCause(err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, fmt.Sprint(v))
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("graphql request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read graphql response: %w", err)
	}
	duration := time.Since(start).Seconds()

	var body map[string]any
	if err := json.Unmarshal(buf.Bytes(), &body); err != nil {
		body = map[string]any{"raw_response": buf.String()}
	}
	errs, _ := body["errors"].([]any)
	if errs == nil {
		errs = []any{}
	}
	hasErrors := len(errs) > 0
	var errorMessage any
	if hasErrors {
		errorMessage = firstErrorMessage(errs[0])
	}

	b.logger.Debug("graphql call finished",
		zap.String("url", req.URL),
		zap.Int("status_code", resp.StatusCode),
		zap.Bool("has_errors", hasErrors),
	)

	outputs := map[string]any{
		"data":             body["data"],
		"errors":           errs,
		"status_code":      resp.StatusCode,
		"duration_seconds": duration,
		"has_errors":       hasErrors,
		"error_message":    errorMessage,
		"query":            req.Query,
		"variables":        req.Variables,
	}

	artifact, err := integration.JSONArtifact(map[string]any{
		"data":             body["data"],
		"errors":           errs,
		"status_code":      resp.StatusCode,
		"duration_seconds": duration,
	}, map[string]any{
		"status_code":  resp.StatusCode,
		"has_errors":   hasErrors,
		"content_type": resp.Header.Get("Content-Type"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode graphql artifact: %w", err)
	}
	return &integration.Result{Outputs: outputs, Artifacts: []integration.Artifact{artifact}}, nil
}

func firstErrorMessage(e any) string {
	if m, ok := e.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprint(e)
}

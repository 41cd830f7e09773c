// Package httpcall 实现 api_call 集成：发起一次 HTTP 请求并记录请求与响应。
// 非 2xx 响应视为执行成功（记录的就是调用结果本身），只有请求无法发出时才失败。
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/internal/pool"
	"github.com/BaSui01/labnotebook/internal/tlsutil"
	"github.com/BaSui01/labnotebook/types"
)

// EntryType is the entry type served by this backend.
const EntryType = "api_call"

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodPatch: true,
	http.MethodDelete: true, http.MethodHead: true, http.MethodOptions: true,
}

// Config configures the backend.
type Config struct {
	// Timeout bounds a whole request including the body read.
	Timeout time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// Backend executes api_call entries.
type Backend struct {
	client *http.Client
	logger *zap.Logger
}

// New creates an api_call backend.
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
	Method  string         `json:"method"`
	URL     string         `json:"url"`
	BaseURL string         `json:"base_url"`
	Headers map[string]any `json:"headers"`
	Body    any            `json:"body"`
}

func parseRequest(inputs map[string]any) (*request, error) {
	var req request
	if err := integration.Decode(inputs, &req); err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "api_call requires a url")
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if !allowedMethods[req.Method] {
		return nil, types.Errorf(types.ErrInvalidRequest, "unsupported HTTP method %q", req.Method)
	}
	resolved, err := resolveURL(req.BaseURL, req.URL)
	if err != nil {
		return nil, err
	}
	req.URL = resolved
	return &req, nil
}

// resolveURL prefixes relative urls with baseURL.
func resolveURL(baseURL, raw string) (string, error) {
	if baseURL == "" || hasScheme(raw) {
		return raw, nil
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", types.Errorf(types.ErrInvalidRequest, "invalid base_url %q", baseURL).WithCause(err)
	}
	ref, err := url.Parse(strings.TrimLeft(raw, "/"))
	if err != nil {
		return "", types.Errorf(types.ErrInvalidRequest, "invalid url %q", raw).WithCause(err)
	}
	return base.ResolveReference(ref).String(), nil
}

func hasScheme(raw string) bool {
	for _, p := range []string{"http://", "https://", "ftp://", "file://"} {
		if strings.HasPrefix(raw, p) {
			return true
		}
	}
	return false
}

// Validate implements integration.Validator.
func (b *Backend) Validate(inputs map[string]any) error {
	_, err := parseRequest(inputs)
	return err
}

// Execute implements integration.Backend.
func (b *Backend) Execute(ctx context.Context, inputs map[string]any) (*integration.Result, error) {
	req, err := parseRequest(inputs)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "request body is not serializable").WithCause(err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidRequest, "invalid request %s %s", req.Method, req.URL).WithCause(err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, fmt.Sprint(v))
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	duration := time.Since(start).Seconds()

	respBody, isJSON := decodeBody(buf.Bytes())
	respHeaders := flattenHeaders(resp.Header)

	b.logger.Debug("api call finished",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status_code", resp.StatusCode),
		zap.Float64("duration_seconds", duration),
	)

	outputs := map[string]any{
		"status_code":      resp.StatusCode,
		"headers":          respHeaders,
		"body":             respBody,
		"is_json_response": isJSON,
		"duration_seconds": duration,
		"url":              req.URL,
		"method":           req.Method,
	}

	artifact, err := integration.JSONArtifact(map[string]any{
		"request": map[string]any{
			"url":     req.URL,
			"method":  req.Method,
			"headers": req.Headers,
			"body":    req.Body,
		},
		"response": map[string]any{
			"status_code": resp.StatusCode,
			"headers":     respHeaders,
			"body":        respBody,
		},
		"duration_seconds": duration,
	}, map[string]any{
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode api_call artifact: %w", err)
	}

	return &integration.Result{Outputs: outputs, Artifacts: []integration.Artifact{artifact}}, nil
}

// decodeBody parses JSON bodies; anything else is returned as text.
func decodeBody(raw []byte) (any, bool) {
	var v any
	if len(raw) > 0 && json.Unmarshal(raw, &v) == nil {
		return v, true
	}
	return string(raw), false
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

package graphflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/labnotebook/internal/pool"
)

// Client talks to a node-graph engine's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a client for serverURL. rps <= 0 disables throttling.
func NewClient(serverURL string, httpClient *http.Client, rps float64, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}
}

// ImageRef identifies one output file on the engine.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// History is the engine's record of one prompt.
type History struct {
	// Outputs keeps the raw per-node output documents.
	Outputs map[string]map[string]any `json:"outputs"`
	Status  *struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  any    `json:"messages"`
	} `json:"status"`
}

// Images returns the image refs declared by node nodeID.
func (h *History) Images(nodeID string) []ImageRef {
	raw, ok := h.Outputs[nodeID]["images"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var refs []ImageRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil
	}
	return refs
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(buf.String()))
	}
	return bytes.Clone(buf.Bytes()), nil
}

// QueuePrompt submits a workflow and returns its prompt id.
func (c *Client) QueuePrompt(ctx context.Context, workflow map[string]any, clientID string) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/prompt", map[string]any{
		"prompt":    workflow,
		"client_id": clientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to queue prompt: %w", err)
	}
	var resp struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to decode prompt response: %w", err)
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("engine returned no prompt_id")
	}
	return resp.PromptID, nil
}

// History fetches the record of promptID; nil means not yet recorded.
func (c *Client) History(ctx context.Context, promptID string) (*History, error) {
	data, err := c.do(ctx, http.MethodGet, "/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	var all map[string]*History
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return all[promptID], nil
}

// Download fetches one output file.
func (c *Client) Download(ctx context.Context, ref ImageRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	if ref.Subfolder != "" {
		q.Set("subfolder", ref.Subfolder)
	}
	folder := ref.Type
	if folder == "" {
		folder = "output"
	}
	q.Set("type", folder)

	data, err := c.do(ctx, http.MethodGet, "/view?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", ref.Filename, err)
	}
	return data, nil
}

type wsMessage struct {
	Type string `json:"type"`
	Data struct {
		PromptID string  `json:"prompt_id"`
		Node     *string `json:"node"`
	} `json:"data"`
}

// Watch subscribes to the engine's event feed for clientID and signals on
// the returned channel whenever promptID looks finished. The feed closes
// with ctx.
func (c *Client) Watch(ctx context.Context, clientID string, promptID func() string) (<-chan struct{}, error) {
	wsURL, err := c.wsURL(clientID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open event feed: %w", err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer conn.CloseNow()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			var msg wsMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			if msg.Data.PromptID == "" || msg.Data.PromptID != promptID() {
				continue
			}
			finished := msg.Type == "execution_success" || msg.Type == "execution_error" ||
				(msg.Type == "executing" && msg.Data.Node == nil)
			if !finished {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, nil
}

func (c *Client) wsURL(clientID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"clientId": {clientID}}.Encode()
	return u.String(), nil
}

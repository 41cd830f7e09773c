package graphflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/types"
)

// fakeEngine mimics the engine's /prompt, /history, /view and /ws endpoints.
type fakeEngine struct {
	t          *testing.T
	readyAfter int32 // history polls before outputs appear; <0 never
	failed     bool
	noOutputs  bool // finished workflow without output nodes
	polls      atomic.Int32

	mu       sync.Mutex
	clientID string
	wsConn   *websocket.Conn
	wsReady  chan struct{}
}

const testPromptID = "prompt-123"

func (e *fakeEngine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(e.t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(e.t, body, "prompt")
		e.mu.Lock()
		e.clientID, _ = body["client_id"].(string)
		e.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": testPromptID})
	})
	mux.HandleFunc("GET /history/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := e.polls.Add(1)
		if e.failed {
			_ = json.NewEncoder(w).Encode(map[string]any{r.PathValue("id"): map[string]any{
				"status": map[string]any{"status_str": "error", "messages": []any{"node 3 exploded"}},
			}})
			return
		}
		if e.readyAfter < 0 || n <= e.readyAfter {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		if e.noOutputs {
			_ = json.NewEncoder(w).Encode(map[string]any{r.PathValue("id"): map[string]any{
				"outputs": map[string]any{},
				"status":  map[string]any{"status_str": "success", "completed": true},
			}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{r.PathValue("id"): map[string]any{
			"outputs": map[string]any{
				"9": map[string]any{"images": []any{
					map[string]any{"filename": "b.jpg", "subfolder": "runs", "type": "output"},
				}},
				"12": map[string]any{"images": []any{
					map[string]any{"filename": "a.png", "subfolder": "", "type": "output"},
					map[string]any{"filename": "c.webp", "subfolder": "", "type": "temp"},
				}},
				"4": map[string]any{"text": []any{"no images here"}},
			},
			"status": map[string]any{"status_str": "success", "completed": true},
		}})
	})
	mux.HandleFunc("GET /view", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		_, _ = w.Write([]byte("bytes:" + q.Get("type") + "/" + q.Get("subfolder") + "/" + q.Get("filename")))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		e.mu.Lock()
		e.wsConn = conn
		e.mu.Unlock()
		if e.wsReady != nil {
			close(e.wsReady)
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	})
	return mux
}

func (e *fakeEngine) push(msg string) {
	e.mu.Lock()
	conn := e.wsConn
	e.mu.Unlock()
	_ = conn.Write(context.Background(), websocket.MessageText, []byte(msg))
}

func newEngine(t *testing.T, e *fakeEngine) *httptest.Server {
	e.t = t
	srv := httptest.NewServer(e.handler())
	t.Cleanup(srv.Close)
	return srv
}

func testWorkflow() map[string]any {
	return map[string]any{"3": map[string]any{"class_type": "KSampler", "inputs": map[string]any{"seed": 42}}}
}

func TestExecute_CollectsImages(t *testing.T) {
	engine := &fakeEngine{readyAfter: 2}
	srv := newEngine(t, engine)
	b := New(Config{ServerURL: srv.URL, PollInterval: 5 * time.Millisecond}, zap.NewNop())

	res, err := b.Execute(context.Background(), map[string]any{"workflow": testWorkflow()})
	require.NoError(t, err)

	assert.Equal(t, testPromptID, res.Outputs["prompt_id"])
	assert.Equal(t, 3, res.Outputs["num_images"])
	assert.Contains(t, res.Outputs, "execution_time")
	assert.Contains(t, res.Outputs["node_outputs"], "4")
	assert.GreaterOrEqual(t, engine.polls.Load(), int32(3))

	// 按节点 ID 排序："12" < "4" < "9"
	require.Len(t, res.Artifacts, 3)
	assert.Equal(t, "image/png", res.Artifacts[0].MediaType)
	assert.Equal(t, "bytes:output//a.png", string(res.Artifacts[0].Data))
	assert.Equal(t, "12", res.Artifacts[0].Metadata["node_id"])
	assert.Equal(t, "image/webp", res.Artifacts[1].MediaType)
	assert.Equal(t, "bytes:temp//c.webp", string(res.Artifacts[1].Data))
	assert.Equal(t, "image/jpeg", res.Artifacts[2].MediaType)
	assert.Equal(t, "runs", res.Artifacts[2].Metadata["subfolder"])
	assert.Equal(t, "9", res.Artifacts[2].Metadata["node_id"])
}

func TestExecute_FinishedWithoutOutputs(t *testing.T) {
	engine := &fakeEngine{readyAfter: 1, noOutputs: true}
	srv := newEngine(t, engine)
	b := New(Config{ServerURL: srv.URL, PollInterval: 5 * time.Millisecond, Timeout: 5 * time.Second}, zap.NewNop())

	start := time.Now()
	res, err := b.Execute(context.Background(), map[string]any{"workflow": testWorkflow()})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, res.Outputs["num_images"])
	assert.Empty(t, res.Outputs["node_outputs"])
	assert.Empty(t, res.Artifacts)
	assert.Equal(t, int32(2), engine.polls.Load())
}

func TestExecute_Timeout(t *testing.T) {
	srv := newEngine(t, &fakeEngine{readyAfter: -1})
	b := New(Config{ServerURL: srv.URL}, zap.NewNop())

	start := time.Now()
	_, err := b.Execute(context.Background(), map[string]any{
		"workflow":      testWorkflow(),
		"timeout":       0.2,
		"poll_interval": 0.02,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 0.2s")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_EngineError(t *testing.T) {
	srv := newEngine(t, &fakeEngine{failed: true})
	b := New(Config{ServerURL: srv.URL, PollInterval: 5 * time.Millisecond}, zap.NewNop())

	_, err := b.Execute(context.Background(), map[string]any{"workflow": testWorkflow()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node 3 exploded")
}

func TestExecute_ServerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	b := New(Config{ServerURL: addr}, zap.NewNop())
	_, err := b.Execute(context.Background(), map[string]any{"workflow": testWorkflow(), "timeout": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to queue prompt")
}

func TestExecute_WatchWakesPoller(t *testing.T) {
	engine := &fakeEngine{readyAfter: 1, wsReady: make(chan struct{})}
	srv := newEngine(t, engine)
	// 轮询间隔远大于测试时长，只有事件推送能唤醒
	b := New(Config{ServerURL: srv.URL, PollInterval: time.Hour, WatchEvents: true}, zap.NewNop())

	go func() {
		<-engine.wsReady
		deadline := time.After(3 * time.Second)
		for engine.polls.Load() < 1 {
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
		engine.push(`{"type":"executing","data":{"node":"3","prompt_id":"` + testPromptID + `"}}`)
		engine.push(`{"type":"executing","data":{"node":null,"prompt_id":"` + testPromptID + `"}}`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := b.Execute(ctx, map[string]any{"workflow": testWorkflow()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Outputs["num_images"])
}

func TestValidate(t *testing.T) {
	b := New(Config{}, zap.NewNop())
	assert.NoError(t, b.Validate(map[string]any{"workflow": testWorkflow()}))
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(b.Validate(map[string]any{})))
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(b.Validate(map[string]any{"workflow": "not-a-map"})))
}

func TestMediaTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", mediaTypeFor("x.PNG"))
	assert.Equal(t, "image/jpeg", mediaTypeFor("x.jpeg"))
	assert.Equal(t, "image/webp", mediaTypeFor("x.webp"))
	assert.Equal(t, "image/png", mediaTypeFor("x.gif"))
}

func TestClient_WSURL(t *testing.T) {
	c := NewClient("https://engine.test/", nil, 0, nil)
	u, err := c.wsURL("abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "wss://engine.test/ws?"))
	assert.Contains(t, u, "clientId=abc")
}

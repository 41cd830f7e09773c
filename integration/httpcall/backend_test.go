package httpcall

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/types"
)

func newBackend() *Backend {
	return New(Config{Timeout: 5 * time.Second}, zap.NewNop())
}

func TestExecute_JSONResponse(t *testing.T) {
	var gotBody map[string]any
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/items", r.URL.Path)
		gotHeader = r.Header.Get("X-Trace")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	res, err := newBackend().Execute(context.Background(), map[string]any{
		"method":   "post",
		"base_url": srv.URL + "/v1",
		"url":      "/items",
		"headers":  map[string]any{"X-Trace": "abc"},
		"body":     map[string]any{"name": "widget"},
	})
	require.NoError(t, err)

	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "widget", gotBody["name"])

	out := res.Outputs
	assert.Equal(t, http.StatusCreated, out["status_code"])
	assert.Equal(t, true, out["is_json_response"])
	assert.Equal(t, map[string]any{"id": float64(7)}, out["body"])
	assert.Equal(t, srv.URL+"/v1/items", out["url"])
	assert.Equal(t, "POST", out["method"])
	assert.Contains(t, out, "duration_seconds")

	require.Len(t, res.Artifacts, 1)
	art := res.Artifacts[0]
	assert.Equal(t, "application/json", art.MediaType)
	assert.Equal(t, http.StatusCreated, art.Metadata["status_code"])
	assert.Equal(t, "application/json", art.Metadata["content_type"])

	var doc map[string]any
	require.NoError(t, json.Unmarshal(art.Data, &doc))
	assert.Contains(t, doc, "request")
	assert.Contains(t, doc, "response")
}

func TestExecute_Non2xxIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	res, err := newBackend().Execute(context.Background(), map[string]any{"url": srv.URL + "/missing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Outputs["status_code"])
	assert.Equal(t, false, res.Outputs["is_json_response"])
	assert.Equal(t, "nope\n", res.Outputs["body"])
	assert.Equal(t, "GET", res.Outputs["method"])
}

func TestExecute_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	res, err := newBackend().Execute(context.Background(), map[string]any{"url": addr})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestValidate(t *testing.T) {
	b := newBackend()
	assert.NoError(t, b.Validate(map[string]any{"url": "http://x.test"}))

	err := b.Validate(map[string]any{"method": "GET"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	err = b.Validate(map[string]any{"url": "http://x.test", "method": "BREW"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, raw, want string
	}{
		{"", "http://a.test/x", "http://a.test/x"},
		{"http://a.test/api", "users", "http://a.test/api/users"},
		{"http://a.test/api/", "/users", "http://a.test/api/users"},
		{"http://a.test/api", "https://b.test/z", "https://b.test/z"},
	}
	for _, tt := range tests {
		got, err := resolveURL(tt.base, tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

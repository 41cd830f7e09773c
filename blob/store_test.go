package blob

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/types"
)

func newTestStore(t *testing.T) (*Store, *MemoryIndex) {
	t.Helper()
	idx := NewMemoryIndex()
	s, err := NewStore(DefaultConfig(t.TempDir()), idx, zap.NewNop())
	require.NoError(t, err)
	return s, idx
}

func countBlobFiles(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(filepath.Join(root, "blobs"), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(Config{}, NewMemoryIndex(), nil)
	assert.Error(t, err)

	_, err = NewStore(DefaultConfig(t.TempDir()), nil, nil)
	assert.Error(t, err)
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := s.Put(ctx, []byte("hello notebook"), "text/plain")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, HashPrefix))
	assert.Equal(t, ComputeHash([]byte("hello notebook")), hash)

	data, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "hello notebook", string(data))

	// bare hex is accepted
	data, err = s.Get(ctx, strings.TrimPrefix(hash, HashPrefix))
	require.NoError(t, err)
	assert.Equal(t, "hello notebook", string(data))

	obj, err := s.Stat(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello notebook")), obj.SizeBytes)
	assert.Equal(t, "text/plain", obj.MediaType)
	h := strings.TrimPrefix(hash, HashPrefix)
	assert.Equal(t, filepath.Join("blobs", h[:2], h[2:4], h), obj.StoragePath)
	assert.FileExists(t, s.Path(hash))
}

func TestStore_DefaultMediaType(t *testing.T) {
	s, _ := newTestStore(t)
	obj, err := s.PutObject(context.Background(), []byte{1, 2, 3}, "", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMediaType, obj.MediaType)
	assert.Equal(t, "v", obj.Metadata["k"])
}

func TestStore_Dedup(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()

	h1, err := s.Put(ctx, []byte("same bytes"), "text/plain")
	require.NoError(t, err)
	h2, err := s.Put(ctx, []byte("same bytes"), "application/octet-stream")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, countBlobFiles(t, s.cfg.Root))

	// 首次写入的记录保持不变
	obj, err := s.Stat(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", obj.MediaType)
}

func TestStore_ConcurrentIdenticalPuts(t *testing.T) {
	s, idx := newTestStore(t)
	ctx := context.Background()
	payload := bytes.Repeat([]byte("artifact"), 4096)

	const writers = 16
	hashes := make([]string, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hashes[i], errs[i] = s.Put(ctx, payload, "application/octet-stream")
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, hashes[0], hashes[i])
	}
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, countBlobFiles(t, s.cfg.Root))
}

// gatedIndex holds the first Get until release is closed.
type gatedIndex struct {
	*MemoryIndex
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedIndex) Get(ctx context.Context, hash string) (*Object, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.MemoryIndex.Get(ctx, hash)
}

func TestStore_SharedPutOutlivesCancelledCaller(t *testing.T) {
	idx := &gatedIndex{MemoryIndex: NewMemoryIndex(), entered: make(chan struct{}), release: make(chan struct{})}
	s, err := NewStore(DefaultConfig(t.TempDir()), idx, zap.NewNop())
	require.NoError(t, err)
	data := []byte("shared payload")

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Put(firstCtx, data, "text/plain")
		firstErr <- err
	}()
	<-idx.entered

	type result struct {
		obj *Object
		err error
	}
	second := make(chan result, 1)
	go func() {
		obj, err := s.PutObject(context.Background(), data, "text/plain", nil)
		second <- result{obj, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(idx.release)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, ComputeHash(data), res.obj.Hash)

	got, err := s.Get(context.Background(), res.obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 1, idx.Len())
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), ComputeHash([]byte("never stored")))
	assert.True(t, types.IsNotFound(err))
}

func TestStore_GetInvalidHash(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "sha256:xyz")
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestStore_IntegrityFailureOnTamper(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := s.Put(ctx, []byte("original"), "text/plain")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(hash), []byte("tampered"), 0o644))

	_, err = s.Get(ctx, hash)
	assert.Equal(t, types.ErrIntegrityFailure, types.GetErrorCode(err))

	// 其他对象的读取不受影响
	other, err := s.Put(ctx, []byte("unrelated"), "text/plain")
	require.NoError(t, err)
	data, err := s.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "unrelated", string(data))
}

func TestStore_IntegrityFailureOnMissingFile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := s.Put(ctx, []byte("soon gone"), "text/plain")
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.Path(hash)))

	_, err = s.Get(ctx, hash)
	assert.Equal(t, types.ErrIntegrityFailure, types.GetErrorCode(err))

	// 重新写入相同内容会补回文件
	_, err = s.Put(ctx, []byte("soon gone"), "text/plain")
	require.NoError(t, err)
	data, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "soon gone", string(data))
}

func TestStore_DeriveThumbnail(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := s.Put(ctx, pngBytes(t, 640, 320), "image/png")
	require.NoError(t, err)

	thumbHash, err := s.DeriveThumbnail(ctx, hash)
	require.NoError(t, err)
	require.NotEmpty(t, thumbHash)

	// 幂等
	again, err := s.DeriveThumbnail(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, thumbHash, again)

	data, err := s.Thumbnail(ctx, hash)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Width)
	assert.Equal(t, 128, cfg.Height)

	thumbObj, err := s.Stat(ctx, thumbHash)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", thumbObj.MediaType)
}

func TestStore_DeriveThumbnail_NonImage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := s.Put(ctx, []byte(`{"rows":[]}`), "application/json")
	require.NoError(t, err)

	thumbHash, err := s.DeriveThumbnail(ctx, hash)
	require.NoError(t, err)
	assert.Empty(t, thumbHash)

	_, err = s.Thumbnail(ctx, hash)
	assert.True(t, types.IsNotFound(err))
}

func TestStore_DeriveThumbnail_UndecodableImage(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hash, err := s.Put(ctx, []byte("not really a png"), "image/png")
	require.NoError(t, err)

	thumbHash, err := s.DeriveThumbnail(ctx, hash)
	require.NoError(t, err)
	assert.Empty(t, thumbHash)
}

func TestThumbnailSize(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{640, 320, 256, 256, 128},
		{320, 640, 256, 128, 256},
		{100, 50, 256, 100, 50},
		{1000, 1, 256, 256, 1},
		{0, 10, 256, 0, 0},
	}
	for _, tt := range tests {
		w, h := thumbnailSize(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w)
		assert.Equal(t, tt.wantH, h)
	}
}

func TestNormalizeHash(t *testing.T) {
	hex := strings.Repeat("ab", 32)
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"prefixed", "sha256:" + hex, "sha256:" + hex, false},
		{"bare", hex, "sha256:" + hex, false},
		{"upper", strings.ToUpper(hex), "sha256:" + hex, false},
		{"short", "sha256:abcd", "", true},
		{"non-hex", strings.Repeat("zz", 32), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeHash(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

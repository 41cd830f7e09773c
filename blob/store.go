package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/labnotebook/internal/metrics"
	"github.com/BaSui01/labnotebook/types"
)

// DefaultMediaType is used when a caller declares no media type.
const DefaultMediaType = "application/octet-stream"

// Config configures a Store.
type Config struct {
	// Root directory; blobs live under <Root>/blobs.
	Root string
	// ThumbnailMaxDim bounds the longest thumbnail side in pixels.
	ThumbnailMaxDim int
	// ThumbnailQuality is the JPEG quality (1-100) of thumbnails.
	ThumbnailQuality int
}

// DefaultConfig returns a Config rooted at root with 256px / q85 thumbnails.
func DefaultConfig(root string) Config {
	return Config{Root: root, ThumbnailMaxDim: 256, ThumbnailQuality: 85}
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a content-addressed blob store on the local filesystem.
// It is safe for concurrent use.
type Store struct {
	cfg     Config
	index   Index
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	writes singleflight.Group
}

// NewStore creates the blob directory under cfg.Root and returns a Store.
func NewStore(cfg Config, index Index, logger *zap.Logger, opts ...Option) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("blob store root is required")
	}
	if index == nil {
		return nil, errors.New("blob index is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ThumbnailMaxDim <= 0 {
		cfg.ThumbnailMaxDim = 256
	}
	if cfg.ThumbnailQuality <= 0 || cfg.ThumbnailQuality > 100 {
		cfg.ThumbnailQuality = 85
	}
	if err := os.MkdirAll(filepath.Join(cfg.Root, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		index:  index,
		logger: logger.With(zap.String("component", "blob_store")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the absolute file path of hash. The hash must be normalized.
func (s *Store) Path(hash string) string {
	return filepath.Join(s.cfg.Root, relativePath(hash))
}

// Put stores data and returns its content hash.
func (s *Store) Put(ctx context.Context, data []byte, mediaType string) (string, error) {
	obj, err := s.PutObject(ctx, data, mediaType, nil)
	if err != nil {
		return "", err
	}
	return obj.Hash, nil
}

// PutObject stores data and returns its index record. Storing bytes that are
// already present returns the existing record without rewriting; concurrent
// writers of identical bytes converge on one object. The shared write is not
// bound to any one caller's ctx: a caller that gives up returns ctx.Err()
// while the write completes for the others.
func (s *Store) PutObject(ctx context.Context, data []byte, mediaType string, metadata map[string]any) (*Object, error) {
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	hash := ComputeHash(data)

	ch := s.writes.DoChan(hash, func() (any, error) {
		return s.put(context.WithoutCancel(ctx), hash, data, mediaType, metadata)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Object).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) put(ctx context.Context, hash string, data []byte, mediaType string, metadata map[string]any) (*Object, error) {
	existing, err := s.index.Get(ctx, hash)
	switch {
	case err == nil:
		// 索引在但文件丢失时补写，内容由摘要保证一致
		if _, statErr := os.Stat(s.Path(hash)); errors.Is(statErr, fs.ErrNotExist) {
			if err := s.writeFile(hash, data); err != nil {
				return nil, err
			}
			s.logger.Warn("restored missing blob file", zap.String("hash", hash))
		}
		s.metrics.RecordBlobPut(true, existing.SizeBytes)
		s.logger.Debug("blob deduplicated", zap.String("hash", hash))
		return existing, nil
	case !types.IsNotFound(err):
		return nil, types.NewError(types.ErrStorageFailure, "blob index lookup failed").WithCause(err)
	}

	if err := s.writeFile(hash, data); err != nil {
		return nil, err
	}

	obj := &Object{
		Hash:        hash,
		SizeBytes:   int64(len(data)),
		MediaType:   mediaType,
		StoragePath: relativePath(hash),
		Metadata:    metadata,
		CreatedAt:   s.now().UTC(),
	}
	created, err := s.index.Put(ctx, obj)
	if err != nil {
		return nil, types.NewError(types.ErrStorageFailure, "blob index write failed").WithCause(err)
	}
	if !created {
		// 另一个进程先写入了索引
		s.metrics.RecordBlobPut(true, obj.SizeBytes)
		return s.index.Get(ctx, hash)
	}

	s.metrics.RecordBlobPut(false, obj.SizeBytes)
	s.logger.Debug("blob stored",
		zap.String("hash", hash),
		zap.Int64("size", obj.SizeBytes),
		zap.String("media_type", mediaType),
	)
	return obj, nil
}

// writeFile persists data via a temp file in the target directory and an
// atomic rename.
func (s *Store) writeFile(hash string, data []byte) error {
	path := s.Path(hash)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewError(types.ErrStorageFailure, "failed to create blob directory").WithCause(err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return types.NewError(types.ErrStorageFailure, "failed to create temp blob").WithCause(err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return types.NewError(types.ErrStorageFailure, "failed to write blob").WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return types.NewError(types.ErrStorageFailure, "failed to sync blob").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return types.NewError(types.ErrStorageFailure, "failed to close blob").WithCause(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return types.NewError(types.ErrStorageFailure, "failed to chmod blob").WithCause(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return types.NewError(types.ErrStorageFailure, "failed to commit blob").WithCause(err)
	}
	return nil
}

// Stat returns the index record for hash.
func (s *Store) Stat(ctx context.Context, hash string) (*Object, error) {
	h, err := NormalizeHash(hash)
	if err != nil {
		return nil, err
	}
	obj, err := s.index.Get(ctx, h)
	if err != nil {
		if types.IsNotFound(err) {
			return nil, err
		}
		return nil, types.NewError(types.ErrStorageFailure, "blob index lookup failed").WithCause(err)
	}
	return obj, nil
}

// Get returns the bytes stored under hash after verifying their digest.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	obj, err := s.Stat(ctx, hash)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(obj.Hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.metrics.RecordIntegrityFailure()
			s.logger.Error("indexed blob missing on disk", zap.String("hash", obj.Hash))
			return nil, types.Errorf(types.ErrIntegrityFailure, "blob %s is indexed but missing from storage", obj.Hash)
		}
		return nil, types.NewError(types.ErrStorageFailure, "failed to read blob").WithCause(err)
	}

	if got := ComputeHash(data); got != obj.Hash {
		s.metrics.RecordIntegrityFailure()
		s.logger.Error("blob digest mismatch",
			zap.String("hash", obj.Hash),
			zap.String("actual", got),
		)
		return nil, types.Errorf(types.ErrIntegrityFailure, "blob %s digest mismatch: got %s", obj.Hash, got)
	}
	return data, nil
}

// DeriveThumbnail produces a bounded JPEG preview of an image blob, stores it
// as its own blob and records the association. It returns "" and a nil error
// when the blob is not an image or cannot be decoded.
func (s *Store) DeriveThumbnail(ctx context.Context, hash string) (string, error) {
	obj, err := s.Stat(ctx, hash)
	if err != nil {
		return "", err
	}
	if obj.ThumbnailHash != "" {
		return obj.ThumbnailHash, nil
	}
	if !isImageMediaType(obj.MediaType) {
		s.metrics.RecordThumbnail("skipped")
		return "", nil
	}

	data, err := s.Get(ctx, obj.Hash)
	if err != nil {
		return "", err
	}

	thumb, err := makeThumbnail(data, s.cfg.ThumbnailMaxDim, s.cfg.ThumbnailQuality)
	if err != nil {
		s.metrics.RecordThumbnail("failed")
		s.logger.Debug("thumbnail not derived",
			zap.String("hash", obj.Hash),
			zap.String("media_type", obj.MediaType),
			zap.Error(err),
		)
		return "", nil
	}

	thumbObj, err := s.PutObject(ctx, thumb, "image/jpeg", map[string]any{"thumbnail_of": obj.Hash})
	if err != nil {
		return "", err
	}
	if err := s.index.SetThumbnail(ctx, obj.Hash, thumbObj.Hash); err != nil {
		return "", types.NewError(types.ErrStorageFailure, "failed to record thumbnail").WithCause(err)
	}

	s.metrics.RecordThumbnail("created")
	s.logger.Debug("thumbnail derived",
		zap.String("hash", obj.Hash),
		zap.String("thumbnail_hash", thumbObj.Hash),
	)
	return thumbObj.Hash, nil
}

// Thumbnail returns the thumbnail bytes of hash, or NOT_FOUND when none was
// derived.
func (s *Store) Thumbnail(ctx context.Context, hash string) ([]byte, error) {
	obj, err := s.Stat(ctx, hash)
	if err != nil {
		return nil, err
	}
	if obj.ThumbnailHash == "" {
		return nil, types.NotFound("thumbnail", obj.Hash)
	}
	return s.Get(ctx, obj.ThumbnailHash)
}

// Contains reports whether data is already stored.
func (s *Store) Contains(ctx context.Context, data []byte) (bool, error) {
	_, err := s.index.Get(ctx, ComputeHash(data))
	if err == nil {
		return true, nil
	}
	if types.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func isImageMediaType(mediaType string) bool {
	mt, _, _ := strings.Cut(strings.ToLower(mediaType), ";")
	return strings.HasPrefix(strings.TrimSpace(mt), "image/")
}


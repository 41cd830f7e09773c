package blob

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/BaSui01/labnotebook/types"
)

// Object is the index record of one stored blob.
type Object struct {
	Hash          string         `json:"hash"`
	SizeBytes     int64          `json:"size_bytes"`
	MediaType     string         `json:"media_type"`
	StoragePath   string         `json:"storage_path"`
	ThumbnailHash string         `json:"thumbnail_hash,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Clone returns a copy that shares no maps with o.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	c.Metadata = maps.Clone(o.Metadata)
	return &c
}

// Index maps content hashes to stored objects.
type Index interface {
	// Get returns NOT_FOUND when no record exists.
	Get(ctx context.Context, hash string) (*Object, error)
	// Put inserts obj unless a record for obj.Hash exists; created reports
	// whether this call inserted it. Existing records are never overwritten.
	Put(ctx context.Context, obj *Object) (created bool, err error)
	// SetThumbnail associates a thumbnail blob with hash.
	SetThumbnail(ctx context.Context, hash, thumbnailHash string) error
}

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{objects: make(map[string]*Object)}
}

func (m *MemoryIndex) Get(_ context.Context, hash string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[hash]
	if !ok {
		return nil, types.NotFound("blob", hash)
	}
	return obj.Clone(), nil
}

func (m *MemoryIndex) Put(_ context.Context, obj *Object) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.Hash]; ok {
		return false, nil
	}
	m.objects[obj.Hash] = obj.Clone()
	return true, nil
}

func (m *MemoryIndex) SetThumbnail(_ context.Context, hash, thumbnailHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[hash]
	if !ok {
		return types.NotFound("blob", hash)
	}
	obj.ThumbnailHash = thumbnailHash
	return nil
}

// Len returns the number of indexed objects.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

package entry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/labnotebook/types"
)

// Store persists entries.
type Store interface {
	Get(ctx context.Context, id string) (*Entry, error)
	// Save inserts or replaces e.
	Save(ctx context.Context, e *Entry) error
	// ListByPage returns a page's entries ordered by creation time, then id.
	ListByPage(ctx context.Context, pageID string) ([]*Entry, error)
	// Update atomically applies fn to the stored entry if its status is
	// expect, otherwise fails with INVALID_STATE. An error from fn aborts
	// the update.
	Update(ctx context.Context, id string, expect Status, fn func(*Entry) error) (*Entry, error)
	// CreatedAt resolves creation times; unknown ids are omitted.
	CreatedAt(ctx context.Context, ids []string) (map[string]time.Time, error)
}

// StatusMismatch builds the INVALID_STATE error returned by Update.
func StatusMismatch(id string, expect, actual Status) error {
	return types.Errorf(types.ErrInvalidState, "entry %s is %s, expected %s", id, actual, expect)
}

// SortByCreation orders entries by creation time, then id.
func SortByCreation(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, types.NotFound("entry", id)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) ListByPage(_ context.Context, pageID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Entry{}
	for _, e := range s.entries {
		if e.PageID == pageID {
			out = append(out, e.Clone())
		}
	}
	SortByCreation(out)
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, expect Status, fn func(*Entry) error) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[id]
	if !ok {
		return nil, types.NotFound("entry", id)
	}
	if cur.Status != expect {
		return nil, StatusMismatch(id, expect, cur.Status)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.entries[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) CreatedAt(_ context.Context, ids []string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out[id] = e.CreatedAt
		}
	}
	return out, nil
}

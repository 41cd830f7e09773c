package notebook

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/labnotebook/types"
)

// Page groups entries within a notebook.
type Page struct {
	ID          string    `json:"id"`
	NotebookID  string    `json:"notebook_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PageStore persists pages.
type PageStore interface {
	SavePage(ctx context.Context, p *Page) error
	GetPage(ctx context.Context, id string) (*Page, error)
	// ListPages returns a notebook's pages ordered by creation time.
	ListPages(ctx context.Context, notebookID string) ([]*Page, error)
}

// NewPageID returns a fresh page id.
func NewPageID() string {
	return "page-" + uuid.NewString()
}

// MemoryPages is an in-process PageStore.
type MemoryPages struct {
	mu    sync.RWMutex
	pages map[string]Page
}

// NewMemoryPages creates an empty page store.
func NewMemoryPages() *MemoryPages {
	return &MemoryPages{pages: make(map[string]Page)}
}

func (m *MemoryPages) SavePage(_ context.Context, p *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[p.ID] = *p
	return nil
}

func (m *MemoryPages) GetPage(_ context.Context, id string) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[id]
	if !ok {
		return nil, types.NotFound("page", id)
	}
	return &p, nil
}

func (m *MemoryPages) ListPages(_ context.Context, notebookID string) ([]*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Page{}
	for _, p := range m.pages {
		if p.NotebookID == notebookID {
			out = append(out, &p)
		}
	}
	SortPages(out)
	return out, nil
}

// SortPages orders pages by creation time, then id.
func SortPages(pages []*Page) {
	sort.Slice(pages, func(i, j int) bool {
		if !pages[i].CreatedAt.Equal(pages[j].CreatedAt) {
			return pages[i].CreatedAt.Before(pages[j].CreatedAt)
		}
		return pages[i].ID < pages[j].ID
	})
}

package lineage

import (
	"context"
	"sync"
	"time"
)

// Relationship is the type of a lineage edge.
type Relationship string

const (
	// DerivesFrom links an entry to the entry it was produced from.
	DerivesFrom Relationship = "derives_from"
	// VariationOf marks an entry as a variation of another.
	VariationOf Relationship = "variation_of"
)

// Valid reports whether r is a known relationship.
func (r Relationship) Valid() bool {
	return r == DerivesFrom || r == VariationOf
}

// Edge is a directed lineage edge from parent to child.
type Edge struct {
	ParentID     string       `json:"parent_id"`
	ChildID      string       `json:"child_id"`
	Relationship Relationship `json:"relationship"`
	CreatedAt    time.Time    `json:"created_at"`
}

// EdgeStore persists lineage edges.
type EdgeStore interface {
	// AddEdge inserts e; inserting an existing edge is a no-op.
	AddEdge(ctx context.Context, e Edge) error
	// Parents returns the parents of childID over rel.
	Parents(ctx context.Context, childID string, rel Relationship) ([]string, error)
	// Children returns the children of parentID over rel.
	Children(ctx context.Context, parentID string, rel Relationship) ([]string, error)
	// Edges returns every edge that has id as parent or child.
	Edges(ctx context.Context, id string) ([]Edge, error)
}

type edgeKey struct {
	parent, child string
	rel           Relationship
}

// MemoryEdgeStore is an in-process EdgeStore.
type MemoryEdgeStore struct {
	mu       sync.RWMutex
	edges    map[edgeKey]Edge
	order    []edgeKey
	parents  map[Relationship]map[string][]string
	children map[Relationship]map[string][]string
}

// NewMemoryEdgeStore creates an empty edge store.
func NewMemoryEdgeStore() *MemoryEdgeStore {
	return &MemoryEdgeStore{
		edges:    make(map[edgeKey]Edge),
		parents:  make(map[Relationship]map[string][]string),
		children: make(map[Relationship]map[string][]string),
	}
}

func (m *MemoryEdgeStore) AddEdge(_ context.Context, e Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := edgeKey{e.ParentID, e.ChildID, e.Relationship}
	if _, ok := m.edges[k]; ok {
		return nil
	}
	m.edges[k] = e
	m.order = append(m.order, k)

	if m.parents[e.Relationship] == nil {
		m.parents[e.Relationship] = make(map[string][]string)
		m.children[e.Relationship] = make(map[string][]string)
	}
	m.parents[e.Relationship][e.ChildID] = append(m.parents[e.Relationship][e.ChildID], e.ParentID)
	m.children[e.Relationship][e.ParentID] = append(m.children[e.Relationship][e.ParentID], e.ChildID)
	return nil
}

func (m *MemoryEdgeStore) Parents(_ context.Context, childID string, rel Relationship) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.parents[rel][childID]...), nil
}

func (m *MemoryEdgeStore) Children(_ context.Context, parentID string, rel Relationship) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.children[rel][parentID]...), nil
}

func (m *MemoryEdgeStore) Edges(_ context.Context, id string) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Edge
	for _, k := range m.order {
		if k.parent == id || k.child == id {
			out = append(out, m.edges[k])
		}
	}
	return out, nil
}

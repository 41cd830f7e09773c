package lineage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/internal/metrics"
	"github.com/BaSui01/labnotebook/types"
)

// NodeLookup resolves entry creation times. Ids absent from the returned map
// do not exist.
type NodeLookup interface {
	CreatedAt(ctx context.Context, ids []string) (map[string]time.Time, error)
}

// Node is one traversal result.
type Node struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// Option configures a Graph.
type Option func(*Graph)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Graph) { g.metrics = c }
}

// WithClock overrides the clock used for edge timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// Graph is the provenance DAG over entry ids.
type Graph struct {
	edges   EdgeStore
	nodes   NodeLookup
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	// mu serializes the derives_from cycle check with the insert.
	mu sync.Mutex
}

// NewGraph creates a Graph over edges, resolving nodes through nodes.
func NewGraph(edges EdgeStore, nodes NodeLookup, logger *zap.Logger, opts ...Option) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graph{
		edges:  edges,
		nodes:  nodes,
		logger: logger.With(zap.String("component", "lineage")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddEdge records parentID -> childID. A derives_from edge that would make an
// entry its own ancestor fails with CYCLE_DETECTED. Self-edges are cycles.
func (g *Graph) AddEdge(ctx context.Context, parentID, childID string, rel Relationship) error {
	if !rel.Valid() {
		return types.Errorf(types.ErrInvalidRequest, "unknown relationship: %q", rel)
	}
	if parentID == "" || childID == "" {
		return types.NewError(types.ErrInvalidRequest, "parent and child ids are required")
	}
	if parentID == childID {
		g.metrics.RecordCycleRejected()
		return types.Errorf(types.ErrCycleDetected, "entry %s cannot be its own %s", parentID, rel)
	}
	if err := g.requireNodes(ctx, parentID, childID); err != nil {
		return err
	}

	if rel == DerivesFrom {
		g.mu.Lock()
		defer g.mu.Unlock()

		cyclic, err := g.isAncestor(ctx, childID, parentID)
		if err != nil {
			return err
		}
		if cyclic {
			g.metrics.RecordCycleRejected()
			g.logger.Warn("lineage cycle rejected",
				zap.String("parent_id", parentID),
				zap.String("child_id", childID),
			)
			return types.Errorf(types.ErrCycleDetected,
				"edge %s -> %s would create a cycle: %s is already an ancestor of %s",
				parentID, childID, childID, parentID)
		}
	}

	edge := Edge{ParentID: parentID, ChildID: childID, Relationship: rel, CreatedAt: g.now().UTC()}
	if err := g.edges.AddEdge(ctx, edge); err != nil {
		return fmt.Errorf("failed to add lineage edge: %w", err)
	}

	g.metrics.RecordLineageEdge(string(rel))
	g.logger.Debug("lineage edge added",
		zap.String("parent_id", parentID),
		zap.String("child_id", childID),
		zap.String("relationship", string(rel)),
	)
	return nil
}

// Link is one incoming edge of an entry that is being created.
type Link struct {
	ParentID     string
	Relationship Relationship
}

// PersistFunc stores a new entry together with its incoming edges.
type PersistFunc func(ctx context.Context, edges []Edge) error

// AttachNew records links into childID, an entry that persist writes in the
// same call. The child has no outgoing edges yet, so the only possible
// cycle is a self-link. Parents must already exist.
func (g *Graph) AttachNew(ctx context.Context, childID string, links []Link, persist PersistFunc) error {
	if childID == "" {
		return types.NewError(types.ErrInvalidRequest, "child id is required")
	}
	now := g.now().UTC()
	edges := make([]Edge, 0, len(links))
	for _, l := range links {
		if !l.Relationship.Valid() {
			return types.Errorf(types.ErrInvalidRequest, "unknown relationship: %q", l.Relationship)
		}
		if l.ParentID == "" {
			return types.NewError(types.ErrInvalidRequest, "parent id is required")
		}
		if l.ParentID == childID {
			g.metrics.RecordCycleRejected()
			return types.Errorf(types.ErrCycleDetected, "entry %s cannot be its own %s", childID, l.Relationship)
		}
		edges = append(edges, Edge{ParentID: l.ParentID, ChildID: childID, Relationship: l.Relationship, CreatedAt: now})
	}

	// 与 AddEdge 的环检测串行
	g.mu.Lock()
	err := persist(ctx, edges)
	g.mu.Unlock()
	if err != nil {
		return err
	}

	for _, e := range edges {
		g.metrics.RecordLineageEdge(string(e.Relationship))
		g.logger.Debug("lineage edge added",
			zap.String("parent_id", e.ParentID),
			zap.String("child_id", e.ChildID),
			zap.String("relationship", string(e.Relationship)),
		)
	}
	return nil
}

// Ancestors walks derives_from edges upward, nearest first, at most maxDepth
// levels. maxDepth <= 0 returns an empty result.
func (g *Graph) Ancestors(ctx context.Context, entryID string, maxDepth int) ([]Node, error) {
	return g.traverse(ctx, entryID, maxDepth, g.parents)
}

// Descendants walks derives_from edges downward, nearest first.
func (g *Graph) Descendants(ctx context.Context, entryID string, maxDepth int) ([]Node, error) {
	return g.traverse(ctx, entryID, maxDepth, g.children)
}

// Edges returns every edge touching entryID.
func (g *Graph) Edges(ctx context.Context, entryID string) ([]Edge, error) {
	if err := g.requireNodes(ctx, entryID); err != nil {
		return nil, err
	}
	return g.edges.Edges(ctx, entryID)
}

func (g *Graph) parents(ctx context.Context, id string) ([]string, error) {
	return g.edges.Parents(ctx, id, DerivesFrom)
}

func (g *Graph) children(ctx context.Context, id string) ([]string, error) {
	return g.edges.Children(ctx, id, DerivesFrom)
}

func (g *Graph) traverse(ctx context.Context, entryID string, maxDepth int, step stepFunc) ([]Node, error) {
	if err := g.requireNodes(ctx, entryID); err != nil {
		return nil, err
	}
	result := []Node{}
	if maxDepth <= 0 {
		return result, nil
	}

	err := walk(ctx, entryID, maxDepth, step, func(depth int, level []string) (bool, error) {
		ordered, err := g.orderLevel(ctx, level)
		if err != nil {
			return false, err
		}
		for _, id := range ordered {
			result = append(result, Node{ID: id, Depth: depth})
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// isAncestor reports whether candidate is a transitive derives_from ancestor
// of id.
func (g *Graph) isAncestor(ctx context.Context, candidate, id string) (bool, error) {
	found := false
	err := walk(ctx, id, 0, g.parents, func(_ int, level []string) (bool, error) {
		for _, n := range level {
			if n == candidate {
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	return found, err
}

// orderLevel sorts ids by creation time, then id.
func (g *Graph) orderLevel(ctx context.Context, ids []string) ([]string, error) {
	created, err := g.nodes.CreatedAt(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lineage nodes: %w", err)
	}
	out := append([]string(nil), ids...)
	sort.Slice(out, func(i, j int) bool {
		ti, tj := created[out[i]], created[out[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i] < out[j]
	})
	return out, nil
}

func (g *Graph) requireNodes(ctx context.Context, ids ...string) error {
	found, err := g.nodes.CreatedAt(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to resolve lineage nodes: %w", err)
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return types.NotFound("entry", id)
		}
	}
	return nil
}

package notebook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/execution"
	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/internal/metrics"
	"github.com/BaSui01/labnotebook/internal/pool"
	"github.com/BaSui01/labnotebook/lineage"
	"github.com/BaSui01/labnotebook/types"
)

// Default lineage traversal bounds.
const (
	DefaultLineageDepth = 3
	MaxLineageDepth     = 10
)

// EntryGraphWriter stores a new entry and its incoming lineage edges in one
// atomic write.
type EntryGraphWriter interface {
	SaveWithEdges(ctx context.Context, e *entry.Entry, edges []lineage.Edge) error
}

// Dependencies are the collaborators a Service is built from.
type Dependencies struct {
	Pages     PageStore
	Entries   entry.Store
	Edges     lineage.EdgeStore
	Variables integration.VariableStore
	Registry  *integration.Registry
	Blobs     *blob.Store
	// Writer is optional; without it the entry and its edges are written
	// one after the other.
	Writer EntryGraphWriter
}

type options struct {
	pool         *pool.GoroutinePool
	metrics      *metrics.Collector
	tracer       trace.Tracer
	now          func() time.Time
	defaultDepth int
	maxDepth     int
}

// Option configures a Service.
type Option func(*options)

// WithPool enables Submit on p.
func WithPool(p *pool.GoroutinePool) Option {
	return func(o *options) { o.pool = p }
}

// WithMetrics attaches a metrics collector to the graph and the coordinator.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLineageDepth sets the default and maximum lineage depth.
func WithLineageDepth(def, maxDepth int) Option {
	return func(o *options) {
		o.defaultDepth = def
		o.maxDepth = maxDepth
	}
}

// Service is the notebook engine: pages, entries, variations, execution,
// lineage and artifacts.
type Service struct {
	pages    PageStore
	entries  entry.Store
	edges    lineage.EdgeStore
	writer   EntryGraphWriter
	vars     integration.VariableStore
	registry *integration.Registry
	blobs    *blob.Store
	graph    *lineage.Graph
	coord    *execution.Coordinator
	logger   *zap.Logger
	now      func() time.Time

	defaultDepth int
	maxDepth     int
}

// New builds a Service from deps.
func New(deps Dependencies, logger *zap.Logger, opts ...Option) (*Service, error) {
	switch {
	case deps.Pages == nil:
		return nil, fmt.Errorf("notebook: page store is required")
	case deps.Entries == nil:
		return nil, fmt.Errorf("notebook: entry store is required")
	case deps.Edges == nil:
		return nil, fmt.Errorf("notebook: edge store is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("notebook: integration registry is required")
	case deps.Blobs == nil:
		return nil, fmt.Errorf("notebook: blob store is required")
	}
	if deps.Variables == nil {
		deps.Variables = integration.NewMemoryVariables()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := options{now: time.Now, defaultDepth: DefaultLineageDepth, maxDepth: MaxLineageDepth}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxDepth <= 0 {
		o.maxDepth = MaxLineageDepth
	}
	if o.defaultDepth <= 0 || o.defaultDepth > o.maxDepth {
		o.defaultDepth = min(DefaultLineageDepth, o.maxDepth)
	}

	coordOpts := []execution.Option{
		execution.WithVariables(deps.Variables),
		execution.WithMetrics(o.metrics),
		execution.WithClock(o.now),
	}
	if o.pool != nil {
		coordOpts = append(coordOpts, execution.WithPool(o.pool))
	}
	if o.tracer != nil {
		coordOpts = append(coordOpts, execution.WithTracer(o.tracer))
	}

	return &Service{
		pages:        deps.Pages,
		entries:      deps.Entries,
		edges:        deps.Edges,
		writer:       deps.Writer,
		vars:         deps.Variables,
		registry:     deps.Registry,
		blobs:        deps.Blobs,
		graph:        lineage.NewGraph(deps.Edges, deps.Entries, logger, lineage.WithMetrics(o.metrics), lineage.WithClock(o.now)),
		coord:        execution.NewCoordinator(deps.Entries, deps.Registry, deps.Blobs, logger, coordOpts...),
		logger:       logger.With(zap.String("component", "notebook")),
		now:          o.now,
		defaultDepth: o.defaultDepth,
		maxDepth:     o.maxDepth,
	}, nil
}

// =============================================================================
// Pages
// =============================================================================

// CreatePage creates a page in notebookID.
func (s *Service) CreatePage(ctx context.Context, notebookID, title string) (*Page, error) {
	if strings.TrimSpace(title) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "page title is required")
	}
	p := &Page{
		ID:         NewPageID(),
		NotebookID: notebookID,
		Title:      title,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.pages.SavePage(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save page: %w", err)
	}
	s.logger.Info("page created", zap.String("page_id", p.ID), zap.String("notebook_id", notebookID))
	return p, nil
}

// GetPage returns page id.
func (s *Service) GetPage(ctx context.Context, id string) (*Page, error) {
	return s.pages.GetPage(ctx, id)
}

// ListPages returns the pages of notebookID.
func (s *Service) ListPages(ctx context.Context, notebookID string) ([]*Page, error) {
	return s.pages.ListPages(ctx, notebookID)
}

// =============================================================================
// Entries
// =============================================================================

// CreateEntryParams describes a new entry.
type CreateEntryParams struct {
	PageID    string         `json:"page_id"`
	EntryType string         `json:"entry_type"`
	Title     string         `json:"title"`
	Inputs    map[string]any `json:"inputs"`
	ParentID  string         `json:"parent_id,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CreateEntry validates and persists a created entry. With a parent, a
// derives_from edge is added from it.
func (s *Service) CreateEntry(ctx context.Context, p CreateEntryParams) (*entry.Entry, error) {
	e, err := s.createEntry(ctx, p)
	if err != nil {
		return nil, err
	}
	s.logger.Info("entry created",
		zap.String("entry_id", e.ID),
		zap.String("entry_type", e.EntryType),
		zap.String("page_id", e.PageID),
	)
	return e, nil
}

func (s *Service) createEntry(ctx context.Context, p CreateEntryParams, extra ...lineage.Relationship) (*entry.Entry, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "entry title is required")
	}
	backend, err := s.registry.Resolve(p.EntryType)
	if err != nil {
		return nil, err
	}
	if _, err := s.pages.GetPage(ctx, p.PageID); err != nil {
		return nil, err
	}
	if p.ParentID != "" {
		if _, err := s.entries.Get(ctx, p.ParentID); err != nil {
			return nil, err
		}
	}
	if err := s.validate(ctx, backend, p.EntryType, p.Inputs); err != nil {
		return nil, err
	}

	e := entry.New(entry.NewParams{
		PageID:    p.PageID,
		EntryType: p.EntryType,
		Title:     p.Title,
		Inputs:    p.Inputs,
		ParentID:  p.ParentID,
		Tags:      p.Tags,
		Metadata:  p.Metadata,
	}, s.now())

	var links []lineage.Link
	if p.ParentID != "" {
		links = append(links, lineage.Link{ParentID: p.ParentID, Relationship: lineage.DerivesFrom})
		for _, rel := range extra {
			links = append(links, lineage.Link{ParentID: p.ParentID, Relationship: rel})
		}
	}
	if err := s.graph.AttachNew(ctx, e.ID, links, func(ctx context.Context, edges []lineage.Edge) error {
		return s.persist(ctx, e, edges)
	}); err != nil {
		return nil, err
	}
	return e, nil
}

// persist writes e and its incoming edges, atomically when a Writer is set.
func (s *Service) persist(ctx context.Context, e *entry.Entry, edges []lineage.Edge) error {
	if s.writer != nil {
		if err := s.writer.SaveWithEdges(ctx, e, edges); err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}
		return nil
	}
	if err := s.entries.Save(ctx, e); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	for _, edge := range edges {
		if err := s.edges.AddEdge(ctx, edge); err != nil {
			return fmt.Errorf("failed to add lineage edge: %w", err)
		}
	}
	return nil
}

// validate runs the backend's input validation over inputs merged with the
// type's integration variables.
func (s *Service) validate(ctx context.Context, backend integration.Backend, entryType string, inputs map[string]any) error {
	v, ok := backend.(integration.Validator)
	if !ok {
		return nil
	}
	defaults, err := s.vars.Variables(ctx, entryType)
	if err != nil {
		return fmt.Errorf("failed to load integration variables: %w", err)
	}
	if err := v.Validate(integration.MergeDefaults(defaults, inputs)); err != nil {
		if types.GetErrorCode(err) == "" {
			return types.NewError(types.ErrInvalidRequest, "invalid inputs").WithCause(err)
		}
		return err
	}
	return nil
}

// VariationParams describes a variation of an existing entry.
type VariationParams struct {
	Title          string         `json:"title"`
	InputOverrides map[string]any `json:"input_overrides"`
	// Tags replace the base entry's tags when non-empty.
	Tags []string `json:"tags,omitempty"`
}

// CreateVariation creates a new entry from baseID with overridden inputs,
// merged by entry.MergeInputs. The variation derives_from the base and is
// linked to it by a variation_of edge, written together with the entry.
func (s *Service) CreateVariation(ctx context.Context, baseID string, p VariationParams) (*entry.Entry, error) {
	base, err := s.entries.Get(ctx, baseID)
	if err != nil {
		return nil, err
	}
	tags := p.Tags
	if len(tags) == 0 {
		tags = base.Tags
	}

	v, err := s.createEntry(ctx, CreateEntryParams{
		PageID:    base.PageID,
		EntryType: base.EntryType,
		Title:     p.Title,
		Inputs:    entry.MergeInputs(base.Inputs, p.InputOverrides),
		ParentID:  base.ID,
		Tags:      tags,
	}, lineage.VariationOf)
	if err != nil {
		return nil, err
	}

	s.logger.Info("variation created",
		zap.String("entry_id", v.ID),
		zap.String("base_id", base.ID),
		zap.Int("overrides", len(p.InputOverrides)),
	)
	return v, nil
}

// UpdateInputs replaces the inputs of a created entry. Executed entries fail
// with INVALID_STATE.
func (s *Service) UpdateInputs(ctx context.Context, id string, inputs map[string]any) (*entry.Entry, error) {
	cur, err := s.entries.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != entry.StatusCreated {
		return nil, entry.StatusMismatch(id, entry.StatusCreated, cur.Status)
	}
	backend, err := s.registry.Resolve(cur.EntryType)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, backend, cur.EntryType, inputs); err != nil {
		return nil, err
	}

	return s.entries.Update(ctx, id, entry.StatusCreated, func(e *entry.Entry) error {
		return e.SetInputs(inputs, s.now())
	})
}

// GetEntry returns entry id.
func (s *Service) GetEntry(ctx context.Context, id string) (*entry.Entry, error) {
	return s.entries.Get(ctx, id)
}

// ListEntries returns a page's entries ordered by creation time.
func (s *Service) ListEntries(ctx context.Context, pageID string) ([]*entry.Entry, error) {
	if _, err := s.pages.GetPage(ctx, pageID); err != nil {
		return nil, err
	}
	return s.entries.ListByPage(ctx, pageID)
}

// =============================================================================
// Execution
// =============================================================================

// Execute runs entry id and returns its terminal record.
func (s *Service) Execute(ctx context.Context, id string) (*entry.Entry, error) {
	return s.coord.Execute(ctx, id)
}

// Submit claims entry id and runs it on the worker pool.
func (s *Service) Submit(ctx context.Context, id string) (*entry.Entry, error) {
	return s.coord.Submit(ctx, id)
}

// ExecutionStats returns coordinator statistics.
func (s *Service) ExecutionStats() execution.Stats {
	return s.coord.Stats()
}

// =============================================================================
// Lineage
// =============================================================================

// LineageNode is an entry at a traversal depth.
type LineageNode struct {
	Depth int          `json:"depth"`
	Entry *entry.Entry `json:"entry"`
}

// Lineage is the provenance neighbourhood of an entry.
type Lineage struct {
	Entry       *entry.Entry  `json:"entry"`
	Ancestors   []LineageNode `json:"ancestors"`
	Descendants []LineageNode `json:"descendants"`
}

// GetLineage returns id with its ancestors and descendants, nearest first.
// A depth <= 0 selects the default; larger depths are clamped to the maximum.
func (s *Service) GetLineage(ctx context.Context, id string, depth int) (*Lineage, error) {
	if depth <= 0 {
		depth = s.defaultDepth
	}
	depth = min(depth, s.maxDepth)

	root, err := s.entries.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	up, err := s.graph.Ancestors(ctx, id, depth)
	if err != nil {
		return nil, err
	}
	down, err := s.graph.Descendants(ctx, id, depth)
	if err != nil {
		return nil, err
	}

	ancestors, err := s.resolve(ctx, up)
	if err != nil {
		return nil, err
	}
	descendants, err := s.resolve(ctx, down)
	if err != nil {
		return nil, err
	}
	return &Lineage{Entry: root, Ancestors: ancestors, Descendants: descendants}, nil
}

// Edges returns every lineage edge touching id.
func (s *Service) Edges(ctx context.Context, id string) ([]lineage.Edge, error) {
	return s.graph.Edges(ctx, id)
}

// AddDependency records that child derives from parent.
func (s *Service) AddDependency(ctx context.Context, parentID, childID string) error {
	return s.graph.AddEdge(ctx, parentID, childID, lineage.DerivesFrom)
}

func (s *Service) resolve(ctx context.Context, nodes []lineage.Node) ([]LineageNode, error) {
	out := make([]LineageNode, 0, len(nodes))
	for _, n := range nodes {
		e, err := s.entries.Get(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load lineage node %s: %w", n.ID, err)
		}
		out = append(out, LineageNode{Depth: n.Depth, Entry: e})
	}
	return out, nil
}

// =============================================================================
// Artifacts
// =============================================================================

// StoreArtifact stores data and derives a thumbnail when it is an image.
func (s *Service) StoreArtifact(ctx context.Context, data []byte, mediaType string) (string, error) {
	hash, err := s.blobs.Put(ctx, data, mediaType)
	if err != nil {
		return "", err
	}
	if _, err := s.blobs.DeriveThumbnail(ctx, hash); err != nil {
		s.logger.Warn("thumbnail derivation failed", zap.String("hash", hash), zap.Error(err))
	}
	return hash, nil
}

// RetrieveArtifact returns the verified bytes of hash.
func (s *Service) RetrieveArtifact(ctx context.Context, hash string) ([]byte, error) {
	return s.blobs.Get(ctx, hash)
}

// RetrieveThumbnail returns the thumbnail of hash or NOT_FOUND.
func (s *Service) RetrieveThumbnail(ctx context.Context, hash string) ([]byte, error) {
	return s.blobs.Thumbnail(ctx, hash)
}

// ArtifactInfo returns the index record of hash.
func (s *Service) ArtifactInfo(ctx context.Context, hash string) (*blob.Object, error) {
	return s.blobs.Stat(ctx, hash)
}

// =============================================================================
// Integration variables
// =============================================================================

// SetVariable sets a default input for entryType.
func (s *Service) SetVariable(ctx context.Context, entryType, name string, value any) error {
	if !s.registry.Has(entryType) {
		return types.Errorf(types.ErrUnknownEntryType, "no backend registered for entry type %q", entryType)
	}
	return s.vars.SetVariable(ctx, entryType, name, value)
}

// Variables returns the default inputs of entryType.
func (s *Service) Variables(ctx context.Context, entryType string) (map[string]any, error) {
	return s.vars.Variables(ctx, entryType)
}

// DeleteVariable removes a default input.
func (s *Service) DeleteVariable(ctx context.Context, entryType, name string) error {
	return s.vars.DeleteVariable(ctx, entryType, name)
}

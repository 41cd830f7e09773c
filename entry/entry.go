package entry

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/labnotebook/types"
)

// Execution records timing and failure of a run.
type Execution struct {
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// ArtifactRef references a stored blob produced by an entry.
type ArtifactRef struct {
	Hash          string         `json:"hash"`
	MediaType     string         `json:"media_type"`
	SizeBytes     int64          `json:"size_bytes"`
	ThumbnailHash string         `json:"thumbnail_hash,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Entry is one unit of tracked experimental work.
type Entry struct {
	ID        string         `json:"id"`
	PageID    string         `json:"page_id"`
	EntryType string         `json:"entry_type"`
	Title     string         `json:"title"`
	Inputs    map[string]any `json:"inputs"`
	// Outputs is nil until the entry reaches a terminal status.
	Outputs   map[string]any `json:"outputs"`
	Status    Status         `json:"status"`
	ParentID  string         `json:"parent_id,omitempty"`
	Execution Execution      `json:"execution"`
	Artifacts []ArtifactRef  `json:"artifacts,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewParams holds the caller-supplied fields of a new entry.
type NewParams struct {
	PageID    string
	EntryType string
	Title     string
	Inputs    map[string]any
	ParentID  string
	Tags      []string
	Metadata  map[string]any
}

// NewID returns a fresh entry id.
func NewID() string {
	return "entry-" + uuid.NewString()
}

// New builds an entry in the created state.
func New(p NewParams, now time.Time) *Entry {
	now = now.UTC()
	inputs := maps.Clone(p.Inputs)
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Entry{
		ID:        NewID(),
		PageID:    p.PageID,
		EntryType: p.EntryType,
		Title:     p.Title,
		Inputs:    inputs,
		Status:    StatusCreated,
		ParentID:  p.ParentID,
		Tags:      slices.Clone(p.Tags),
		Metadata:  maps.Clone(p.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *Entry) transition(to Status, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return types.Errorf(types.ErrInvalidState,
			"invalid state transition for entry %s: %s -> %s", e.ID, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = now.UTC()
	return nil
}

// Start moves a created entry to running and records started_at.
func (e *Entry) Start(now time.Time) error {
	if err := e.transition(StatusRunning, now); err != nil {
		return err
	}
	started := now.UTC()
	e.Execution = Execution{StartedAt: &started}
	return nil
}

// Complete moves a running entry to completed with its outputs and artifacts.
func (e *Entry) Complete(outputs map[string]any, artifacts []ArtifactRef, now time.Time) error {
	if err := e.transition(StatusCompleted, now); err != nil {
		return err
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	e.Outputs = outputs
	e.Artifacts = artifacts
	e.finish(now)
	return nil
}

// Fail moves a running entry to failed. Outputs become empty and no
// artifacts are attached.
func (e *Entry) Fail(message string, now time.Time) error {
	if err := e.transition(StatusFailed, now); err != nil {
		return err
	}
	e.Outputs = map[string]any{}
	e.Artifacts = nil
	e.Execution.Error = message
	e.finish(now)
	return nil
}

func (e *Entry) finish(now time.Time) {
	completed := now.UTC()
	e.Execution.CompletedAt = &completed
	if e.Execution.StartedAt != nil {
		d := completed.Sub(*e.Execution.StartedAt).Seconds()
		e.Execution.DurationSeconds = &d
	}
}

// SetInputs replaces the inputs of an entry that has not been executed.
func (e *Entry) SetInputs(inputs map[string]any, now time.Time) error {
	if e.Status != StatusCreated {
		return types.Errorf(types.ErrInvalidState,
			"entry %s is %s; inputs can only change while created, create a variation instead", e.ID, e.Status)
	}
	e.Inputs = maps.Clone(inputs)
	if e.Inputs == nil {
		e.Inputs = map[string]any{}
	}
	e.UpdatedAt = now.UTC()
	return nil
}

// ArtifactHashes lists the hashes of the entry's artifacts in order.
func (e *Entry) ArtifactHashes() []string {
	out := make([]string, len(e.Artifacts))
	for i, a := range e.Artifacts {
		out[i] = a.Hash
	}
	return out
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Inputs = deepCopyMap(e.Inputs)
	c.Outputs = deepCopyMap(e.Outputs)
	c.Metadata = deepCopyMap(e.Metadata)
	c.Tags = slices.Clone(e.Tags)
	c.Execution = e.Execution.clone()
	if e.Artifacts != nil {
		c.Artifacts = make([]ArtifactRef, len(e.Artifacts))
		for i, a := range e.Artifacts {
			a.Metadata = deepCopyMap(a.Metadata)
			c.Artifacts[i] = a
		}
	}
	return &c
}

func (x Execution) clone() Execution {
	c := x
	if x.StartedAt != nil {
		t := *x.StartedAt
		c.StartedAt = &t
	}
	if x.CompletedAt != nil {
		t := *x.CompletedAt
		c.CompletedAt = &t
	}
	if x.DurationSeconds != nil {
		d := *x.DurationSeconds
		c.DurationSeconds = &d
	}
	return c
}

// MergeInputs overlays overrides on base. When both sides hold a map under
// the same key the two maps are merged one level deep; any other override
// value replaces the base value.
func MergeInputs(base, overrides map[string]any) map[string]any {
	out := deepCopyMap(base)
	if out == nil {
		out = make(map[string]any, len(overrides))
	}
	for k, v := range deepCopyMap(overrides) {
		bv, bok := out[k].(map[string]any)
		ov, ook := v.(map[string]any)
		if bok && ook {
			maps.Copy(bv, ov)
			continue
		}
		out[k] = v
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		c := make([]any, len(t))
		for i, x := range t {
			c[i] = deepCopyValue(x)
		}
		return c
	default:
		return v
	}
}

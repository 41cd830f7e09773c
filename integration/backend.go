package integration

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/labnotebook/types"
)

// Artifact is raw output produced by a backend.
type Artifact struct {
	MediaType string         `json:"media_type"`
	Data      []byte         `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Result is what a backend returns on success.
type Result struct {
	Outputs   map[string]any `json:"outputs"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
}

// Backend executes the work declared by an entry's inputs. A returned error
// means the execution failed; backends that model a remote failure as data
// return a Result instead.
type Backend interface {
	Execute(ctx context.Context, inputs map[string]any) (*Result, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, inputs map[string]any) (*Result, error)

// Execute calls f.
func (f BackendFunc) Execute(ctx context.Context, inputs map[string]any) (*Result, error) {
	return f(ctx, inputs)
}

// Validator is implemented by backends that can reject inputs before an
// entry is created.
type Validator interface {
	Validate(inputs map[string]any) error
}

// JSONArtifact marshals v into an application/json artifact.
func JSONArtifact(v any, metadata map[string]any) (Artifact, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{MediaType: "application/json", Data: data, Metadata: metadata}, nil
}

// Decode maps generic inputs onto a typed struct using its json tags.
func Decode(inputs map[string]any, out any) error {
	raw, err := json.Marshal(inputs)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "inputs are not serializable").WithCause(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.NewError(types.ErrInvalidRequest, "invalid inputs").WithCause(err)
	}
	return nil
}

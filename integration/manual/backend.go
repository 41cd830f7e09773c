// Package manual 实现 custom 集成：不调用外部系统，把 inputs.outputs
// 原样作为执行结果，用于手工记录的实验。
package manual

import (
	"context"
	"maps"

	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/types"
)

// EntryType is the entry type served by this backend.
const EntryType = "custom"

// Backend executes custom entries.
type Backend struct{}

// New creates a custom backend.
func New() *Backend { return &Backend{} }

// Validate implements integration.Validator.
func (Backend) Validate(inputs map[string]any) error {
	if v, ok := inputs["outputs"]; ok && v != nil {
		if _, isMap := v.(map[string]any); !isMap {
			return types.NewError(types.ErrInvalidRequest, "custom outputs must be an object")
		}
	}
	return nil
}

// Execute implements integration.Backend.
func (b Backend) Execute(_ context.Context, inputs map[string]any) (*integration.Result, error) {
	if err := b.Validate(inputs); err != nil {
		return nil, err
	}
	out, _ := inputs["outputs"].(map[string]any)
	out = maps.Clone(out)
	if out == nil {
		out = map[string]any{}
	}
	return &integration.Result{Outputs: out}, nil
}

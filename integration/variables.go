package integration

import (
	"context"
	"maps"
	"sync"

	"github.com/BaSui01/labnotebook/types"
)

// VariableStore holds default inputs per entry type, e.g. a base_url for
// api_call or a connection_string for database_query.
type VariableStore interface {
	SetVariable(ctx context.Context, entryType, name string, value any) error
	// Variables returns every variable of entryType; empty when none are set.
	Variables(ctx context.Context, entryType string) (map[string]any, error)
	// DeleteVariable returns NOT_FOUND when the variable does not exist.
	DeleteVariable(ctx context.Context, entryType, name string) error
}

// MemoryVariables is an in-process VariableStore.
type MemoryVariables struct {
	mu   sync.RWMutex
	vars map[string]map[string]any
}

// NewMemoryVariables creates an empty variable store.
func NewMemoryVariables() *MemoryVariables {
	return &MemoryVariables{vars: make(map[string]map[string]any)}
}

func (m *MemoryVariables) SetVariable(_ context.Context, entryType, name string, value any) error {
	if entryType == "" || name == "" {
		return types.NewError(types.ErrInvalidRequest, "entry type and variable name are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vars[entryType] == nil {
		m.vars[entryType] = make(map[string]any)
	}
	m.vars[entryType][name] = value
	return nil
}

func (m *MemoryVariables) Variables(_ context.Context, entryType string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := maps.Clone(m.vars[entryType])
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (m *MemoryVariables) DeleteVariable(_ context.Context, entryType, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vars[entryType][name]; !ok {
		return types.NotFound("integration variable", entryType+"."+name)
	}
	delete(m.vars[entryType], name)
	return nil
}

// MergeDefaults fills inputs from defaults. Inputs win; when both sides hold
// a map under the same key the maps are merged one level deep.
func MergeDefaults(defaults, inputs map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(inputs))
	maps.Copy(merged, defaults)
	for k, v := range inputs {
		dv, dok := merged[k].(map[string]any)
		iv, iok := v.(map[string]any)
		if dok && iok {
			nested := maps.Clone(dv)
			maps.Copy(nested, iv)
			merged[k] = nested
			continue
		}
		merged[k] = v
	}
	return merged
}

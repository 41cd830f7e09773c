package integration

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/types"
)

// Registry maps entry types to backends. It is built once at startup and
// injected where backends are resolved.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		backends: make(map[string]Backend),
		logger:   logger.With(zap.String("component", "integration_registry")),
	}
}

// Register binds entryType to b. Registering a type twice is a
// configuration error.
func (r *Registry) Register(entryType string, b Backend) error {
	if entryType == "" {
		return types.NewError(types.ErrInvalidRequest, "entry type is required")
	}
	if b == nil {
		return types.Errorf(types.ErrInvalidRequest, "backend for %q is nil", entryType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[entryType]; exists {
		return types.Errorf(types.ErrDuplicateRegistration, "entry type %q is already registered", entryType)
	}
	r.backends[entryType] = b
	r.logger.Debug("backend registered", zap.String("entry_type", entryType))
	return nil
}

// MustRegister is Register for process initialization; it panics on error.
func (r *Registry) MustRegister(entryType string, b Backend) {
	if err := r.Register(entryType, b); err != nil {
		panic(err)
	}
}

// Resolve returns the backend for entryType or UNKNOWN_ENTRY_TYPE.
func (r *Registry) Resolve(entryType string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[entryType]
	if !ok {
		return nil, types.Errorf(types.ErrUnknownEntryType, "no backend registered for entry type %q", entryType)
	}
	return b, nil
}

// Has reports whether entryType is registered.
func (r *Registry) Has(entryType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[entryType]
	return ok
}

// Types returns the registered entry types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

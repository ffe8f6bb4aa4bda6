package cloud

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/types"
)

// Registry holds the configured providers, keyed by name. It is built
// once at startup and injected into whatever needs provider access.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *zap.Logger
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger.With(zap.String("component", "provider_registry")),
	}
}

// Register adds a provider under its own name. Registering the same
// name twice is a configuration error.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return types.NewError(types.ErrValidationFailed, "cannot register a nil provider")
	}
	name := p.Name()
	if name == "" {
		return types.NewError(types.ErrValidationFailed, "provider has an empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return types.NewErrorf(types.ErrValidationFailed, "provider %q already registered", name)
	}
	r.providers[name] = p
	r.logger.Info("cloud provider registered", zap.String("provider", name))
	return nil
}

// MustRegister is Register that panics, for static wiring at startup.
func (r *Registry) MustRegister(p Provider) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "unknown cloud provider %q", name)
	}
	return p, nil
}

// Names returns the registered provider names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

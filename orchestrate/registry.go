package orchestrate

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/types"
)

// Handler executes every step of one kind. Implementations are supplied by
// collaborators (cloud tools, generators, validators) and registered by kind;
// the executor never branches on kind strings itself.
type Handler interface {
	// Kind returns the step kind this handler serves.
	Kind() StepKind

	// Handle runs one step. It returns the step's data, the sub-calls made
	// to external collaborators (for the audit trace), and an error carrying
	// a types.ErrorCode on failure. Handlers read earlier batches' outputs
	// from the execution context; they never write it.
	Handle(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	kind StepKind
	fn   func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error)
}

// NewHandlerFunc wraps fn as a Handler for the given kind.
func NewHandlerFunc(kind StepKind, fn func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error)) *HandlerFunc {
	return &HandlerFunc{kind: kind, fn: fn}
}

// Kind implements Handler.
func (h *HandlerFunc) Kind() StepKind { return h.kind }

// Handle implements Handler.
func (h *HandlerFunc) Handle(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
	return h.fn(ctx, step, ec)
}

// Registry maps step kinds to handlers. It is built at construction time by
// the owning orchestrator; new kinds are additive registrations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[StepKind]Handler
	logger   *zap.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[StepKind]Handler),
		logger:   logger.With(zap.String("component", "handler_registry")),
	}
}

// Register adds a handler for its kind. Registering an empty kind or a kind
// that already has a handler is rejected.
func (r *Registry) Register(h Handler) error {
	if h == nil || h.Kind() == "" {
		return types.NewError(types.ErrInvalidRequest, "handler must declare a non-empty kind")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Kind()]; exists {
		return types.NewErrorf(types.ErrInvalidRequest, "handler for kind %q already registered", h.Kind())
	}
	r.handlers[h.Kind()] = h
	r.logger.Debug("step handler registered", zap.String("kind", string(h.Kind())))
	return nil
}

// MustRegister is Register for construction-time wiring; it panics on error.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Resolve looks up the handler for a kind.
func (r *Registry) Resolve(kind StepKind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, types.NewErrorf(types.ErrUnknownStepKind, "no handler registered for step kind %q", kind)
	}
	return h, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []StepKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]StepKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

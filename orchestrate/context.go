package orchestrate

import (
	"sort"
	"sync"
)

// ExecutionContext maps output keys to the most recently published step
// result. It is owned exclusively by one executor run: the executor writes it
// only at the end of a completed batch, and steps in later batches read it.
// The lock exists so concurrently running handlers can read safely while the
// run proceeds; there are never concurrent writers for the same key.
type ExecutionContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewExecutionContext creates an empty execution context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{values: make(map[string]any)}
}

// Set publishes a value under the given output key.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.values[key] = value
}

// Get reads the value published under key.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.values[key]
	return v, ok
}

// Keys returns the published keys in sorted order.
func (ec *ExecutionContext) Keys() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	keys := make([]string, 0, len(ec.values))
	for k := range ec.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of published keys.
func (ec *ExecutionContext) Len() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.values)
}

// Snapshot returns a shallow copy of the published key/value pairs.
func (ec *ExecutionContext) Snapshot() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]any, len(ec.values))
	for k, v := range ec.values {
		out[k] = v
	}
	return out
}

// Package handlers implements the built-in step handlers the
// orchestration engine dispatches to: cloud inventory, metric queries,
// mutating actions, CEL-based filtering and analysis, aggregation,
// rendering, and bounded generate-and-validate tasks.
package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// stringParam extracts a required string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", types.NewErrorf(types.ErrInvalidRequest, "missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", types.NewErrorf(types.ErrInvalidRequest, "parameter %q must be a non-empty string", key)
	}
	return s, nil
}

// optStringParam extracts an optional string parameter.
func optStringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// optIntParam extracts an optional integer, accepting JSON numbers.
func optIntParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// optStringMapParam extracts an optional map[string]string, accepting
// the map[string]any shape produced by JSON decoding.
func optStringMapParam(params map[string]any, key string) map[string]string {
	raw, ok := params[key]
	if !ok {
		return nil
	}
	switch m := raw.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
		return out
	default:
		return nil
	}
}

// optMapParam extracts an optional map[string]any parameter.
func optMapParam(params map[string]any, key string) map[string]any {
	if m, ok := params[key].(map[string]any); ok {
		return m
	}
	return nil
}

// listFromContext reads a context value and normalizes it to []any.
// Handlers publish lists as []map[string]any; accept both shapes.
func listFromContext(ec *orchestrate.ExecutionContext, key string) ([]any, error) {
	raw, ok := ec.Get(key)
	if !ok {
		return nil, types.NewErrorf(types.ErrInvalidRequest, "context key %q not found", key)
	}
	switch v := raw.(type) {
	case []any:
		return v, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	default:
		return nil, types.NewErrorf(types.ErrInvalidRequest, "context key %q does not hold a list (got %T)", key, raw)
	}
}

// dotLookup resolves a dot-separated path ("stats.avg") inside nested
// map[string]any values. Returns nil when any segment is missing.
func dotLookup(item any, path string) any {
	current := item
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// toFloat coerces numeric values for aggregation.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// callRecord builds the APICall trace entry for one provider call.
func callRecord(provider, service, operation string, params map[string]any, start time.Time, err error) orchestrate.APICall {
	call := orchestrate.APICall{
		Provider:  provider,
		Service:   service,
		Operation: operation,
		Params:    params,
		Success:   err == nil,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		call.Error = err.Error()
	}
	return call
}

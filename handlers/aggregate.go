package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// Aggregate reduces a previously published list to summary numbers.
// Parameters:
//
//	input_key  required context key holding a list
//	operation  count | sum | avg | min | max (default count)
//	field      dot path into each item for numeric operations,
//	           e.g. "stats.avg"
//	group_by   optional dot path; aggregates per distinct value
//
// Output: {"operation", "field", "value"} or, when grouped,
// {"operation", "field", "groups": {group: value}}.
type Aggregate struct {
	logger *zap.Logger
}

func NewAggregate(logger *zap.Logger) *Aggregate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregate{logger: logger}
}

func (h *Aggregate) Kind() orchestrate.StepKind { return orchestrate.KindAggregate }

func (h *Aggregate) Handle(_ context.Context, step orchestrate.Step, ec *orchestrate.ExecutionContext) (any, []orchestrate.APICall, error) {
	inputKey, err := stringParam(step.Parameters, "input_key")
	if err != nil {
		return nil, nil, err
	}
	operation := optStringParam(step.Parameters, "operation", "count")
	field := optStringParam(step.Parameters, "field", "")
	groupBy := optStringParam(step.Parameters, "group_by", "")

	if operation != "count" && field == "" {
		return nil, nil, types.NewErrorf(types.ErrInvalidRequest, "operation %q requires a field", operation)
	}

	items, err := listFromContext(ec, inputKey)
	if err != nil {
		return nil, nil, err
	}

	if groupBy == "" {
		value, err := reduce(items, operation, field)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{
			"operation": operation,
			"field":     field,
			"value":     value,
		}, nil, nil
	}

	grouped := make(map[string][]any)
	for _, item := range items {
		key := fmt.Sprint(dotLookup(item, groupBy))
		grouped[key] = append(grouped[key], item)
	}
	groups := make(map[string]any, len(grouped))
	for key, members := range grouped {
		value, err := reduce(members, operation, field)
		if err != nil {
			return nil, nil, err
		}
		groups[key] = value
	}

	h.logger.Debug("list aggregated",
		zap.String("operation", operation),
		zap.Int("groups", len(groups)),
	)
	return map[string]any{
		"operation": operation,
		"field":     field,
		"group_by":  groupBy,
		"groups":    groups,
	}, nil, nil
}

func reduce(items []any, operation, field string) (any, error) {
	if operation == "count" {
		return len(items), nil
	}

	values := make([]float64, 0, len(items))
	for _, item := range items {
		raw := dotLookup(item, field)
		if raw == nil {
			continue
		}
		v, ok := toFloat(raw)
		if !ok {
			return nil, types.NewErrorf(types.ErrInvalidRequest, "field %q holds non-numeric value %v", field, raw)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, nil
	}

	switch operation {
	case "sum":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case "avg":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case "min":
		minV := values[0]
		for _, v := range values[1:] {
			if v < minV {
				minV = v
			}
		}
		return minV, nil
	case "max":
		maxV := values[0]
		for _, v := range values[1:] {
			if v > maxV {
				maxV = v
			}
		}
		return maxV, nil
	default:
		return nil, types.NewErrorf(types.ErrInvalidRequest, "unknown aggregate operation %q", operation)
	}
}

package handlers

import (
	"context"

	"github.com/google/cel-go/cel"
	celtypes "github.com/google/cel-go/common/types"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// Filter keeps the items of a previously published list for which a CEL
// predicate holds. The predicate sees each element as `item`.
// Parameters:
//
//	input_key   required context key holding a list
//	expression  required CEL predicate, e.g. `item.state == "running"`
//
// Output: the filtered list, original order preserved.
type Filter struct {
	env    *cel.Env
	logger *zap.Logger
}

func NewFilter(logger *zap.Logger) (*Filter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	env, err := cel.NewEnv(
		cel.Variable("item", cel.DynType),
	)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "create CEL environment").WithCause(err)
	}
	return &Filter{env: env, logger: logger}, nil
}

func (h *Filter) Kind() orchestrate.StepKind { return orchestrate.KindFilter }

func (h *Filter) Handle(_ context.Context, step orchestrate.Step, ec *orchestrate.ExecutionContext) (any, []orchestrate.APICall, error) {
	inputKey, err := stringParam(step.Parameters, "input_key")
	if err != nil {
		return nil, nil, err
	}
	expression, err := stringParam(step.Parameters, "expression")
	if err != nil {
		return nil, nil, err
	}

	items, err := listFromContext(ec, inputKey)
	if err != nil {
		return nil, nil, err
	}

	program, err := compilePredicate(h.env, expression)
	if err != nil {
		return nil, nil, err
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		keep, err := evalPredicate(program, map[string]any{"item": item})
		if err != nil {
			return nil, nil, err
		}
		if keep {
			out = append(out, item)
		}
	}

	h.logger.Debug("list filtered",
		zap.String("input_key", inputKey),
		zap.Int("in", len(items)),
		zap.Int("out", len(out)),
	)
	return out, nil, nil
}

// compilePredicate parses, type-checks and compiles a boolean CEL
// expression.
func compilePredicate(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, types.NewErrorf(types.ErrInvalidRequest, "parse expression %q", expression).
			WithCause(issues.Err())
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, types.NewErrorf(types.ErrInvalidRequest, "type-check expression %q", expression).
			WithCause(issues.Err())
	}
	program, err := env.Program(checked)
	if err != nil {
		return nil, types.NewErrorf(types.ErrInternalError, "compile expression %q", expression).
			WithCause(err)
	}
	return program, nil
}

// evalPredicate evaluates a compiled predicate and enforces a boolean
// result.
func evalPredicate(program cel.Program, vars map[string]any) (bool, error) {
	result, _, err := program.Eval(vars)
	if err != nil {
		return false, types.NewError(types.ErrInvalidRequest, "evaluate expression").WithCause(err)
	}
	if result.Type() != celtypes.BoolType {
		return false, types.NewError(types.ErrInvalidRequest, "expression did not evaluate to a boolean")
	}
	return result.Value().(bool), nil
}

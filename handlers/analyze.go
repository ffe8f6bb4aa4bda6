package handlers

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// Analyze runs a set of named diagnostic checks over a previously
// published list and reports the items that match each check as
// findings. Parameters:
//
//	input_key  required context key holding a list
//	checks     required list of {name, expression, severity}; each
//	           expression is a CEL predicate over `item`
//
// Output: {"analyzed", "findings": [{check, severity, resource_id,
// item}], "counts": {severity: n}}. Severity defaults to "warning".
type Analyze struct {
	env    *cel.Env
	logger *zap.Logger
}

func NewAnalyze(logger *zap.Logger) (*Analyze, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	env, err := cel.NewEnv(
		cel.Variable("item", cel.DynType),
	)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "create CEL environment").WithCause(err)
	}
	return &Analyze{env: env, logger: logger}, nil
}

func (h *Analyze) Kind() orchestrate.StepKind { return orchestrate.KindAnalyze }

type check struct {
	name       string
	expression string
	severity   string
	program    cel.Program
}

func (h *Analyze) Handle(_ context.Context, step orchestrate.Step, ec *orchestrate.ExecutionContext) (any, []orchestrate.APICall, error) {
	inputKey, err := stringParam(step.Parameters, "input_key")
	if err != nil {
		return nil, nil, err
	}
	checks, err := h.parseChecks(step.Parameters)
	if err != nil {
		return nil, nil, err
	}

	items, err := listFromContext(ec, inputKey)
	if err != nil {
		return nil, nil, err
	}

	findings := make([]map[string]any, 0)
	counts := make(map[string]any)
	for _, item := range items {
		for _, c := range checks {
			matched, err := evalPredicate(c.program, map[string]any{"item": item})
			if err != nil {
				return nil, nil, types.NewErrorf(types.ErrInvalidRequest, "check %q failed", c.name).WithCause(err)
			}
			if !matched {
				continue
			}
			findings = append(findings, map[string]any{
				"check":       c.name,
				"severity":    c.severity,
				"resource_id": itemID(item),
				"item":        item,
			})
			n, _ := counts[c.severity].(int)
			counts[c.severity] = n + 1
		}
	}

	h.logger.Debug("analysis completed",
		zap.String("input_key", inputKey),
		zap.Int("analyzed", len(items)),
		zap.Int("findings", len(findings)),
	)
	return map[string]any{
		"analyzed": len(items),
		"findings": findings,
		"counts":   counts,
	}, nil, nil
}

func (h *Analyze) parseChecks(params map[string]any) ([]check, error) {
	raw, ok := params["checks"].([]any)
	if !ok || len(raw) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "analyze requires a non-empty checks list")
	}

	checks := make([]check, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, types.NewErrorf(types.ErrInvalidRequest, "checks[%d] must be an object", i)
		}
		c := check{
			name:       optStringParam(m, "name", fmt.Sprintf("check_%d", i)),
			severity:   optStringParam(m, "severity", "warning"),
			expression: optStringParam(m, "expression", ""),
		}
		if c.expression == "" {
			return nil, types.NewErrorf(types.ErrInvalidRequest, "checks[%d] is missing an expression", i)
		}
		program, err := compilePredicate(h.env, c.expression)
		if err != nil {
			return nil, err
		}
		c.program = program
		checks = append(checks, c)
	}
	return checks, nil
}

func itemID(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"resource_id", "id", "name"} {
		if id, ok := m[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

package assistant

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/types"
)

// Planner produces an executable plan for a request. Implementations are
// external collaborators — an LLM-backed planner, a rule engine, a plan
// library; the assistant depends only on this contract.
type Planner interface {
	// Name identifies the planner; it becomes the run's plan source.
	Name() string

	// BuildPlan produces a plan for the request.
	BuildPlan(ctx context.Context, req Request) (*orchestrate.Plan, error)
}

// StaticPlanner serves pre-authored plans by request plan name. It backs
// tests and the CLI path, where plans come from documents rather than a
// planning service.
type StaticPlanner struct {
	mu    sync.RWMutex
	plans map[string]*orchestrate.Plan
}

// NewStaticPlanner creates an empty static planner.
func NewStaticPlanner() *StaticPlanner {
	return &StaticPlanner{plans: make(map[string]*orchestrate.Plan)}
}

func (p *StaticPlanner) Name() string { return "static" }

// Add registers plan under name, replacing any previous registration.
func (p *StaticPlanner) Add(name string, plan *orchestrate.Plan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plans[name] = plan
}

// Names returns the registered plan names in ascending order.
func (p *StaticPlanner) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.plans))
	for name := range p.plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *StaticPlanner) BuildPlan(_ context.Context, req Request) (*orchestrate.Plan, error) {
	if req.PlanName == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "static planner requires a plan name")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	plan, ok := p.plans[req.PlanName]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "no plan registered under %q", req.PlanName)
	}
	return plan, nil
}

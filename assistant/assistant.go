package assistant

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/circuitbreaker"
	"github.com/BaSui01/opsflow/cloud"
	"github.com/BaSui01/opsflow/internal/metrics"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/persistence"
	"github.com/BaSui01/opsflow/types"
)

// SourceInline marks runs whose plan arrived ready-made with the request
// instead of coming from a planner.
const SourceInline = "inline"

// Request asks the assistant to execute work on the operator's behalf.
// An inline Plan is executed as-is; otherwise the configured planner
// builds one from the query and/or plan name.
type Request struct {
	// Query is the natural-language request text; planners may use it,
	// and it is recorded on the run for audit.
	Query string `json:"query,omitempty"`

	// PlanName selects a pre-authored plan from planners that serve by
	// name (StaticPlanner).
	PlanName string `json:"plan_name,omitempty"`

	// Plan, when set, bypasses the planner.
	Plan *orchestrate.Plan `json:"plan,omitempty"`

	// Labels are free-form key/value pairs copied onto the run record.
	Labels map[string]string `json:"labels,omitempty"`
}

// Options wires an Assistant. Handlers is required; everything else
// degrades gracefully when absent.
type Options struct {
	// Planner turns requests into plans. Optional when callers always
	// supply inline plans.
	Planner Planner

	// Handlers is the step handler registry the executor dispatches on.
	Handlers *orchestrate.Registry

	// Providers is the cloud provider registry, reported by Describe.
	Providers *cloud.Registry

	// Breakers is the circuit breaker registry, reported by Describe and
	// exposed for administration.
	Breakers *circuitbreaker.Registry

	// Store persists run history. Nil disables persistence.
	Store persistence.RunStore

	// Metrics receives execution metrics.
	Metrics *metrics.Collector

	// Listener receives execution progress events for streaming consumers.
	Listener orchestrate.Listener

	// MaxParallel caps concurrently running steps per plan. Zero means
	// unbounded.
	MaxParallel int

	// StepBreaker, when set, additionally gates every handler invocation.
	// Provider-level protection normally lives on the providers themselves
	// (cloud.Protected).
	StepBreaker orchestrate.Breaker

	Logger *zap.Logger
}

// Assistant is the owning orchestrator: it resolves a plan for each
// request, runs it on its executor, persists the run, and reports
// metrics. Construct one per process and share it across requests.
type Assistant struct {
	planner   Planner
	handlers  *orchestrate.Registry
	providers *cloud.Registry
	breakers  *circuitbreaker.Registry
	executor  *orchestrate.Executor
	store     persistence.RunStore
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// New creates an assistant and the executor it owns.
func New(opts Options) (*Assistant, error) {
	if opts.Handlers == nil {
		return nil, types.NewError(types.ErrValidationFailed, "assistant requires a handler registry")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Assistant{
		planner:   opts.Planner,
		handlers:  opts.Handlers,
		providers: opts.Providers,
		breakers:  opts.Breakers,
		store:     opts.Store,
		metrics:   opts.Metrics,
		logger:    logger.With(zap.String("component", "assistant")),
	}
	a.executor = orchestrate.NewExecutor(opts.Handlers, orchestrate.ExecutorConfig{
		MaxParallel: opts.MaxParallel,
		Breaker:     opts.StepBreaker,
		Listener:    a.progressListener(opts.Listener),
	}, logger)
	return a, nil
}

// HandleRequest resolves a plan, executes it, and persists the run.
//
// The returned record is non-nil whenever execution was attempted, even
// when err is non-nil: fatal executor errors (invalid plan, cycle,
// cancellation) come back alongside the failed record so callers keep
// both the typed error and the audit trail. Step-level failures are not
// errors here — they surface as a failed record with partial results.
func (a *Assistant) HandleRequest(ctx context.Context, req Request) (*persistence.RunRecord, error) {
	plan, source, err := a.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}

	rec := &persistence.RunRecord{
		ID:         uuid.New().String(),
		Request:    req.Query,
		PlanSource: source,
		Plan:       plan,
		Status:     persistence.RunRunning,
		Labels:     req.Labels,
	}
	a.saveRun(ctx, rec)

	a.logger.Info("run started",
		zap.String("run_id", rec.ID),
		zap.String("plan_source", source),
		zap.Int("steps", len(plan.Steps)),
	)

	result, execErr := a.executor.Execute(ctx, plan)

	now := time.Now()
	rec.FinishedAt = &now
	rec.Result = result
	switch {
	case execErr != nil:
		rec.Status = persistence.RunFailed
		rec.Error = execErr.Error()
	case result.Success:
		rec.Status = persistence.RunSucceeded
	default:
		rec.Status = persistence.RunFailed
		rec.Error = result.Error
	}

	// The outcome is final even if the caller has gone away; the record
	// must not be lost to their cancellation.
	a.saveRun(context.WithoutCancel(ctx), rec)
	a.recordMetrics(plan, rec.Status, result)

	a.logger.Info("run finished",
		zap.String("run_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Duration("duration", result.Duration),
	)
	return rec, execErr
}

// Info is a construction-time snapshot of the assistant's wiring.
type Info struct {
	Planner   string   `json:"planner,omitempty"`
	StepKinds []string `json:"step_kinds"`
	Providers []string `json:"providers,omitempty"`
	Breakers  []string `json:"breakers,omitempty"`
}

// Describe reports the wired planner, step kinds, providers and breakers.
func (a *Assistant) Describe() Info {
	kinds := a.handlers.Kinds()
	info := Info{StepKinds: make([]string, len(kinds))}
	for i, k := range kinds {
		info.StepKinds[i] = string(k)
	}
	if a.planner != nil {
		info.Planner = a.planner.Name()
	}
	if a.providers != nil {
		info.Providers = a.providers.Names()
	}
	if a.breakers != nil {
		info.Breakers = a.breakers.Names()
	}
	return info
}

// resolvePlan picks the inline plan or asks the planner for one.
func (a *Assistant) resolvePlan(ctx context.Context, req Request) (*orchestrate.Plan, string, error) {
	if req.Plan != nil {
		return req.Plan, SourceInline, nil
	}
	if a.planner == nil {
		return nil, "", types.NewError(types.ErrInvalidRequest, "request carries no plan and no planner is configured")
	}
	if req.Query == "" && req.PlanName == "" {
		return nil, "", types.NewError(types.ErrInvalidRequest, "request carries neither a plan, a plan name, nor a query")
	}
	plan, err := a.planner.BuildPlan(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if plan == nil {
		return nil, "", types.NewErrorf(types.ErrInternalError, "planner %q returned no plan", a.planner.Name())
	}
	return plan, a.planner.Name(), nil
}

// progressListener forwards execution events to the injected listener and
// feeds batch-size metrics on the way through.
func (a *Assistant) progressListener(next orchestrate.Listener) orchestrate.Listener {
	return func(ev orchestrate.Event) {
		if a.metrics != nil && ev.Type == orchestrate.EventBatchStarted {
			a.metrics.RecordBatch(string(ev.Mode), ev.BatchSize)
		}
		if next != nil {
			next(ev)
		}
	}
}

// saveRun persists best-effort: losing a history write must not fail the
// run itself.
func (a *Assistant) saveRun(ctx context.Context, rec *persistence.RunRecord) {
	if a.store == nil {
		return
	}
	if err := a.store.SaveRun(ctx, rec); err != nil {
		a.logger.Warn("run record not persisted",
			zap.String("run_id", rec.ID),
			zap.Error(err),
		)
	}
}

// recordMetrics reports plan, step, blocked-step and cloud-call metrics
// for one finished run.
func (a *Assistant) recordMetrics(plan *orchestrate.Plan, status persistence.RunStatus, result *orchestrate.Result) {
	if a.metrics == nil || result == nil {
		return
	}
	mode := string(plan.Mode)
	a.metrics.RecordPlanExecution(mode, string(status), result.Duration)

	kinds := make(map[string]string, len(plan.Steps))
	for _, s := range plan.Steps {
		kinds[s.ID] = string(s.Kind)
	}
	for _, sr := range result.Results {
		stepStatus := "succeeded"
		if !sr.Success {
			stepStatus = "failed"
		}
		a.metrics.RecordStepExecution(kinds[sr.StepID], stepStatus, sr.Duration)
	}
	for _, id := range result.Blocked {
		a.metrics.RecordBlockedStep(kinds[id])
	}
	for _, call := range result.APITrace {
		a.metrics.RecordCloudCall(call.Provider, call.Operation, call.Success, call.Duration)
	}
}

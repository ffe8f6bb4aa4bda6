package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/opsflow/types"
)

// Breaker gates handler invocations to an unreliable external collaborator.
// circuitbreaker.CircuitBreaker satisfies it; tests may substitute their own.
type Breaker interface {
	Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// MaxParallel caps concurrently running steps within one run.
	// Zero means unbounded.
	MaxParallel int

	// Breaker, when set, wraps every handler invocation. A rejected call
	// surfaces as a failed StepResult with code CIRCUIT_OPEN.
	Breaker Breaker

	// Listener, when set, receives execution progress events.
	Listener Listener
}

// Executor runs plans: sequential plans in declared order, DAG plans in
// dependency layers with intra-layer fan-out and a join barrier per layer.
// Construct one per owning orchestrator and share it across runs; each run
// owns its ExecutionContext exclusively.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewExecutor creates an executor over the given handler registry.
func NewExecutor(registry *Registry, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry: registry,
		cfg:      cfg,
		tracer:   otel.Tracer("opsflow/orchestrate"),
		logger:   logger.With(zap.String("component", "executor")),
	}
}

// Execute runs a plan to completion or partial failure.
//
// Step-level failures never produce a non-nil error: they are recorded as
// failed StepResults and reflected in Result.Success. The error return is
// reserved for fatal conditions — nil or structurally invalid plans, circular
// dependencies (zero steps executed), and cancellation between batches — and
// even then the returned Result preserves whatever partial state exists.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	started := time.Now()
	executionID := generateExecutionID()

	if plan == nil {
		err := types.NewError(types.ErrInvalidPlan, "plan is nil")
		return emptyResult(started, err), err
	}

	ctx, span := e.tracer.Start(ctx, "orchestrate.execute",
		trace.WithAttributes(
			attribute.String("plan.mode", string(plan.Mode)),
			attribute.Int("plan.steps", len(plan.Steps)),
		))
	defer span.End()

	e.logger.Info("plan execution started",
		zap.String("execution_id", executionID),
		zap.String("mode", string(plan.Mode)),
		zap.Int("steps", len(plan.Steps)),
	)
	e.emit(Event{Type: EventPlanStarted, ExecutionID: executionID, Timestamp: started, Mode: plan.Mode, StepsTotal: len(plan.Steps)})

	if err := plan.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan rejected")
		e.logger.Error("plan rejected before execution",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
		res := emptyResult(started, err)
		e.emit(Event{Type: EventPlanFinished, ExecutionID: executionID, Timestamp: time.Now(), Mode: plan.Mode, StepsTotal: len(plan.Steps), PlanOK: false})
		return res, err
	}

	run := &runState{
		plan:      plan,
		ec:        NewExecutionContext(),
		completed: make(map[string]StepResult, len(plan.Steps)),
		blocked:   make(map[string]struct{}),
	}
	if e.cfg.MaxParallel > 0 {
		run.sem = semaphore.NewWeighted(int64(e.cfg.MaxParallel))
	}

	fatal := e.runLoop(ctx, run, executionID)
	res := e.buildResult(run, started, fatal)

	if fatal != nil {
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "plan failed")
	}
	e.logger.Info("plan execution finished",
		zap.String("execution_id", executionID),
		zap.Bool("success", res.Success),
		zap.Int("executed", len(res.Results)),
		zap.Int("blocked", len(res.Blocked)),
		zap.Duration("duration", res.Duration),
	)
	e.emit(Event{Type: EventPlanFinished, ExecutionID: executionID, Timestamp: time.Now(), Mode: plan.Mode, StepsTotal: len(plan.Steps), PlanOK: res.Success})
	return res, fatal
}

// runState is the per-run mutable state. It lives on one Execute call's
// stack and is never shared across runs.
type runState struct {
	plan      *Plan
	ec        *ExecutionContext
	sem       *semaphore.Weighted
	completed map[string]StepResult
	blocked   map[string]struct{}
	results   []StepResult
	lastData  any
	hasData   bool
}

// runLoop drives batches until every step is completed or blocked. The
// returned error is fatal (cancellation or a cycle that survived validation).
func (e *Executor) runLoop(ctx context.Context, run *runState, executionID string) error {
	batch := 0
	for len(run.completed)+len(run.blocked) < len(run.plan.Steps) {
		if err := ctx.Err(); err != nil {
			return types.NewError(types.ErrCancelled, "execution cancelled between batches").WithCause(err)
		}

		ready := run.nextBatch()
		if len(ready) == 0 {
			if len(run.completed)+len(run.blocked) == len(run.plan.Steps) {
				return nil
			}
			// Validation rejects cycles up front, so an empty ready set with
			// pending steps should be unreachable; keep the fail-fast guard.
			unresolved := run.pendingSteps()
			return types.NewErrorf(types.ErrCircularDependency,
				"circular dependency among steps: %v", unresolved)
		}

		batch++
		e.emit(Event{Type: EventBatchStarted, ExecutionID: executionID, Timestamp: time.Now(), Mode: run.plan.Mode, Batch: batch, BatchSize: len(ready)})
		e.logger.Debug("batch started",
			zap.String("execution_id", executionID),
			zap.Int("batch", batch),
			zap.Int("size", len(ready)),
		)

		batchResults := e.runBatch(ctx, run, ready, executionID)

		// Merge under the barrier: everything below happens-before the next
		// batch's ready computation.
		for i, sr := range batchResults {
			run.completed[sr.StepID] = sr
			run.results = append(run.results, sr)
			if sr.Success {
				if key := ready[i].OutputKey; key != "" {
					run.ec.Set(key, sr.Data)
				}
				run.lastData = sr.Data
				run.hasData = true
			}
		}
	}
	return nil
}

// runBatch fans the ready steps out to goroutines and waits for the whole
// batch to settle. Results are slot-indexed so the returned slice keeps the
// ready order regardless of completion order.
func (e *Executor) runBatch(ctx context.Context, run *runState, ready []Step, executionID string) []StepResult {
	results := make([]StepResult, len(ready))
	var wg sync.WaitGroup
	for i, step := range ready {
		wg.Add(1)
		go func(slot int, step Step) {
			defer wg.Done()
			results[slot] = e.runStep(ctx, run, step, executionID)
		}(i, step)
	}
	wg.Wait()
	return results
}

// runStep executes a single step with per-step failure isolation: handler
// errors and panics become a failed StepResult and never disturb siblings.
func (e *Executor) runStep(ctx context.Context, run *runState, step Step, executionID string) StepResult {
	started := time.Now()
	res := StepResult{StepID: step.ID, StartedAt: started}

	e.emit(Event{Type: EventStepStarted, ExecutionID: executionID, Timestamp: started, StepID: step.ID, Kind: step.Kind})
	ctx, span := e.tracer.Start(ctx, "orchestrate.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.kind", string(step.Kind)),
		))
	defer span.End()

	if run.sem != nil {
		if err := run.sem.Acquire(ctx, 1); err != nil {
			cancel := types.NewError(types.ErrCancelled, "step cancelled while waiting for a slot").WithCause(err)
			return e.finishStep(span, executionID, step, res, nil, nil, cancel)
		}
		defer run.sem.Release(1)
	}

	handler, err := e.registry.Resolve(step.Kind)
	if err != nil {
		return e.finishStep(span, executionID, step, res, nil, nil, err)
	}

	var calls []APICall
	invoke := func(c context.Context) (data any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = types.NewErrorf(types.ErrInternalError, "handler for step %q panicked: %v", step.ID, r)
			}
		}()
		var cs []APICall
		data, cs, err = handler.Handle(c, step, run.ec)
		calls = cs
		return data, err
	}

	var data any
	if e.cfg.Breaker != nil {
		data, err = e.cfg.Breaker.Execute(ctx, invoke)
	} else {
		data, err = invoke(ctx)
	}
	return e.finishStep(span, executionID, step, res, data, calls, err)
}

// finishStep stamps the result, records the span outcome, and emits the
// step_finished event.
func (e *Executor) finishStep(span trace.Span, executionID string, step Step, res StepResult, data any, calls []APICall, err error) StepResult {
	res.Duration = time.Since(res.StartedAt)
	res.Calls = calls
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		res.ErrorCode = types.GetErrorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
		e.logger.Warn("step failed",
			zap.String("execution_id", executionID),
			zap.String("step_id", step.ID),
			zap.String("kind", string(step.Kind)),
			zap.String("error_code", string(res.ErrorCode)),
			zap.Duration("duration", res.Duration),
			zap.Error(err),
		)
	} else {
		res.Success = true
		res.Data = data
		e.logger.Debug("step completed",
			zap.String("execution_id", executionID),
			zap.String("step_id", step.ID),
			zap.String("kind", string(step.Kind)),
			zap.Duration("duration", res.Duration),
		)
	}
	e.emit(Event{
		Type:        EventStepFinished,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
		StepID:      step.ID,
		Kind:        step.Kind,
		Success:     res.Success,
		Error:       res.Error,
	})
	return res
}

// nextBatch computes the next set of runnable steps. Blocking propagates
// first: a step whose dependency failed or is blocked can never become
// ready, transitively. The ready set preserves plan declaration order.
func (run *runState) nextBatch() []Step {
	if run.plan.Mode == ModeSequential {
		return run.nextSequential()
	}

	changed := true
	for changed {
		changed = false
		for _, s := range run.plan.Steps {
			if run.isSettled(s.ID) {
				continue
			}
			for _, dep := range s.Dependencies {
				if run.isBad(dep) {
					run.blocked[s.ID] = struct{}{}
					changed = true
					break
				}
			}
		}
	}

	var ready []Step
	for _, s := range run.plan.Steps {
		if run.isSettled(s.ID) {
			continue
		}
		allDone := true
		for _, dep := range s.Dependencies {
			if _, done := run.completed[dep]; !done {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, s)
		}
	}
	return ready
}

// nextSequential advances declared order one step at a time; once any step
// has failed, every remaining step is blocked.
func (run *runState) nextSequential() []Step {
	anyFailed := false
	for _, sr := range run.completed {
		if !sr.Success {
			anyFailed = true
			break
		}
	}
	for _, s := range run.plan.Steps {
		if run.isSettled(s.ID) {
			continue
		}
		if anyFailed {
			run.blocked[s.ID] = struct{}{}
			continue
		}
		return []Step{s}
	}
	return nil
}

func (run *runState) isSettled(id string) bool {
	if _, done := run.completed[id]; done {
		return true
	}
	_, blk := run.blocked[id]
	return blk
}

// isBad reports whether a dependency can never satisfy its dependents:
// it failed, or it is blocked itself.
func (run *runState) isBad(id string) bool {
	if _, blk := run.blocked[id]; blk {
		return true
	}
	if sr, done := run.completed[id]; done && !sr.Success {
		return true
	}
	return false
}

// pendingSteps returns, sorted, the steps that are neither completed nor
// blocked.
func (run *runState) pendingSteps() []string {
	var pending []string
	for _, s := range run.plan.Steps {
		if !run.isSettled(s.ID) {
			pending = append(pending, s.ID)
		}
	}
	sort.Strings(pending)
	return pending
}

// buildResult assembles the aggregate run result.
func (e *Executor) buildResult(run *runState, started time.Time, fatal error) *Result {
	res := &Result{
		Results:  run.results,
		Context:  run.ec.Snapshot(),
		Duration: time.Since(started),
	}
	if res.Results == nil {
		res.Results = []StepResult{}
	}
	for _, sr := range run.results {
		res.APITrace = append(res.APITrace, sr.Calls...)
	}
	for id := range run.blocked {
		res.Blocked = append(res.Blocked, id)
	}
	sort.Strings(res.Blocked)

	failed := len(res.FailedSteps())
	res.Success = fatal == nil && failed == 0 && len(res.Blocked) == 0 &&
		len(run.completed) == len(run.plan.Steps)

	if run.hasData {
		res.Data = run.lastData
	} else {
		res.Data = res.Context
	}

	switch {
	case fatal != nil:
		res.Error = fatal.Error()
	case !res.Success:
		msg := fmt.Sprintf("%d of %d steps failed", failed, len(run.plan.Steps))
		if len(res.Blocked) > 0 {
			msg += fmt.Sprintf(", %d blocked", len(res.Blocked))
		}
		res.Error = msg
	}
	return res
}

// emptyResult is the shape returned for plans rejected before execution.
func emptyResult(started time.Time, err error) *Result {
	return &Result{
		Success:  false,
		Results:  []StepResult{},
		Context:  map[string]any{},
		Error:    err.Error(),
		Duration: time.Since(started),
	}
}

func (e *Executor) emit(ev Event) {
	if e.cfg.Listener != nil {
		e.cfg.Listener(ev)
	}
}

func generateExecutionID() string {
	return fmt.Sprintf("exec_%d", time.Now().UnixNano())
}

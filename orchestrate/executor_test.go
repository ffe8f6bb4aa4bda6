package orchestrate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/circuitbreaker"
	"github.com/BaSui01/opsflow/types"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// callLog records handler invocations across goroutines.
type callLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *callLog) add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func (l *callLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// recordingListener collects executor events; emits happen on step goroutines.
type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (l *recordingListener) listen(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *recordingListener) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range l.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// okHandler succeeds with "<step_id>-data" and logs the invocation.
func okHandler(kind StepKind, log *callLog) Handler {
	return NewHandlerFunc(kind, func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		if log != nil {
			log.add(step.ID)
		}
		return step.ID + "-data", nil, nil
	})
}

// failingHandler fails every invocation with UPSTREAM_ERROR.
func failingHandler(kind StepKind, log *callLog) Handler {
	return NewHandlerFunc(kind, func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		if log != nil {
			log.add(step.ID)
		}
		return nil, nil, types.NewErrorf(types.ErrUpstreamError, "backend exploded for step %q", step.ID)
	})
}

func newTestExecutor(reg *Registry, cfg ExecutorConfig) *Executor {
	return NewExecutor(reg, cfg, zap.NewNop())
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

func TestExecutor_DAGBatchesAndContext(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	log := &callLog{}

	reg.MustRegister(NewHandlerFunc("fetch", func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		log.add(step.ID)
		return []string{"i-1", "i-2"}, nil, nil
	}))
	reg.MustRegister(NewHandlerFunc("metrics", func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		log.add(step.ID)
		return 0.93, nil, nil
	}))

	var joinSawInstances, joinSawCPU bool
	reg.MustRegister(NewHandlerFunc("join", func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		log.add(step.ID)
		_, joinSawInstances = ec.Get("instances")
		_, joinSawCPU = ec.Get("cpu")
		return "summary", nil, nil
	}))

	listener := &recordingListener{}
	exec := newTestExecutor(reg, ExecutorConfig{Listener: listener.listen})

	plan := &Plan{
		Mode: ModeDAG,
		Steps: []Step{
			{ID: "a", Kind: "fetch", OutputKey: "instances"},
			{ID: "b", Kind: "metrics", OutputKey: "cpu"},
			{ID: "c", Kind: "join", Dependencies: []string{"a", "b"}},
		},
	}

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, res.Success)

	// Both roots finish before the join step starts.
	require.Len(t, res.Results, 3)
	assert.Equal(t, "a", res.Results[0].StepID)
	assert.Equal(t, "b", res.Results[1].StepID)
	assert.Equal(t, "c", res.Results[2].StepID)
	assert.True(t, joinSawInstances, "join should see the instances output")
	assert.True(t, joinSawCPU, "join should see the cpu output")

	batches := listener.ofType(EventBatchStarted)
	require.Len(t, batches, 2)
	assert.Equal(t, 2, batches[0].BatchSize)
	assert.Equal(t, 1, batches[1].BatchSize)

	assert.Equal(t, map[string]any{"instances": []string{"i-1", "i-2"}, "cpu": 0.93}, res.Context)
	assert.Equal(t, "summary", res.Data)
	assert.Empty(t, res.Blocked)
	assert.Empty(t, res.Error)
}

func TestExecutor_ResultOrderFollowsDeclaration(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	bDone := make(chan struct{})

	reg.MustRegister(NewHandlerFunc("waiter", func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		<-bDone
		return "slow", nil, nil
	}))
	reg.MustRegister(NewHandlerFunc("signaler", func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		close(bDone)
		return "fast", nil, nil
	}))

	exec := newTestExecutor(reg, ExecutorConfig{})
	plan := &Plan{
		Mode: ModeDAG,
		Steps: []Step{
			{ID: "a", Kind: "waiter"},
			{ID: "b", Kind: "signaler"},
		},
	}

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, res.Success)

	// b finished first, yet results keep declaration order.
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a", res.Results[0].StepID)
	assert.Equal(t, "b", res.Results[1].StepID)
}

func TestExecutor_DiamondRunsEveryStepOnce(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	log := &callLog{}
	reg.MustRegister(okHandler("ok", log))

	exec := newTestExecutor(reg, ExecutorConfig{})
	plan := &Plan{
		Mode: ModeDAG,
		Steps: []Step{
			{ID: "a", Kind: "ok"},
			{ID: "b", Kind: "ok", Dependencies: []string{"a"}},
			{ID: "c", Kind: "ok", Dependencies: []string{"a"}},
			{ID: "d", Kind: "ok", Dependencies: []string{"b", "c"}},
		},
	}

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, res.Success)

	got := log.list()
	require.Len(t, got, 4)
	assert.Equal(t, "a", got[0])
	assert.Equal(t, "d", got[3])
	assert.ElementsMatch(t, []string{"b", "c"}, got[1:3])
}

func TestExecutor_MaxParallelCaps(t *testing.T) {
	reg := NewRegistry(zap.NewNop())

	var mu sync.Mutex
	current, peak := 0, 0
	reg.MustRegister(NewHandlerFunc("track", func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil, nil, nil
	}))

	exec := newTestExecutor(reg, ExecutorConfig{MaxParallel: 2})
	plan := &Plan{Mode: ModeDAG, Steps: []Step{
		{ID: "s1", Kind: "track"},
		{ID: "s2", Kind: "track"},
		{ID: "s3", Kind: "track"},
		{ID: "s4", Kind: "track"},
		{ID: "s5", Kind: "track"},
	}}

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.LessOrEqual(t, peak, 2)
}

// ---------------------------------------------------------------------------
// Failure semantics
// ---------------------------------------------------------------------------

func TestExecutor_FailureIsolationAndBlocking(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	okLog, boomLog := &callLog{}, &callLog{}
	reg.MustRegister(okHandler("ok", okLog))
	reg.MustRegister(failingHandler("boom", boomLog))

	exec := newTestExecutor(reg, ExecutorConfig{})
	plan := &Plan{
		Mode: ModeDAG,
		Steps: []Step{
			{ID: "a", Kind: "ok"},
			{ID: "b", Kind: "boom"},
			{ID: "c", Kind: "ok", Dependencies: []string{"b"}},
			{ID: "d", Kind: "ok", Dependencies: []string{"c"}},
			{ID: "e", Kind: "ok", Dependencies: []string{"a"}},
		},
	}

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err, "step failures are not fatal")
	assert.False(t, res.Success)

	// b failed; c and d are transitively blocked; a and e still ran.
	require.Len(t, res.Results, 3)
	assert.Equal(t, []string{"b"}, res.FailedSteps())
	assert.Equal(t, []string{"c", "d"}, res.Blocked)
	assert.ElementsMatch(t, []string{"a", "e"}, okLog.list())

	failed, ok := res.StepResultFor("b")
	require.True(t, ok)
	assert.False(t, failed.Success)
	assert.Equal(t, types.ErrUpstreamError, failed.ErrorCode)
	assert.Contains(t, failed.Error, "backend exploded")

	// The aggregate keeps the last successful step's data.
	assert.Equal(t, "e-data", res.Data)
	assert.Equal(t, "1 of 5 steps failed, 2 blocked", res.Error)
}

func TestExecutor_SequentialStopsAfterFailure(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	okLog := &callLog{}
	reg.MustRegister(okHandler("ok", okLog))
	reg.MustRegister(failingHandler("boom", nil))

	listener := &recordingListener{}
	exec := newTestExecutor(reg, ExecutorConfig{Listener: listener.listen})
	plan := &Plan{
		Mode: ModeSequential,
		Steps: []Step{
			{ID: "s1", Kind: "ok"},
			{ID: "s2", Kind: "boom"},
			{ID: "s3", Kind: "ok"},
		},
	}

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, res.Success)

	require.Len(t, res.Results, 2)
	assert.Equal(t, []string{"s2"}, res.FailedSteps())
	assert.Equal(t, []string{"s3"}, res.Blocked)
	assert.Equal(t, []string{"s1"}, okLog.list(), "s3 never runs")
	assert.Equal(t, "1 of 3 steps failed, 1 blocked", res.Error)

	// Sequential mode runs one step per batch.
	for _, ev := range listener.ofType(EventBatchStarted) {
		assert.Equal(t, 1, ev.BatchSize)
	}
}

func TestExecutor_UnknownKindFailsStep(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	exec := newTestExecutor(reg, ExecutorConfig{})

	res, err := exec.Execute(context.Background(), &Plan{
		Mode:  ModeDAG,
		Steps: []Step{{ID: "a", Kind: "nope"}},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)

	sr, ok := res.StepResultFor("a")
	require.True(t, ok)
	assert.Equal(t, types.ErrUnknownStepKind, sr.ErrorCode)
}

func TestExecutor_PanicIsolated(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.MustRegister(okHandler("ok", nil))
	reg.MustRegister(NewHandlerFunc("panics", func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		panic("kaboom")
	}))

	exec := newTestExecutor(reg, ExecutorConfig{})
	plan := &Plan{Mode: ModeDAG, Steps: []Step{
		{ID: "p", Kind: "panics"},
		{ID: "q", Kind: "ok"},
	}}

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, res.Success)

	crashed, ok := res.StepResultFor("p")
	require.True(t, ok)
	assert.Equal(t, types.ErrInternalError, crashed.ErrorCode)
	assert.Contains(t, crashed.Error, "panicked")

	fine, ok := res.StepResultFor("q")
	require.True(t, ok)
	assert.True(t, fine.Success)
}

// ---------------------------------------------------------------------------
// Fatal conditions
// ---------------------------------------------------------------------------

func TestExecutor_NilPlan(t *testing.T) {
	exec := newTestExecutor(NewRegistry(zap.NewNop()), ExecutorConfig{})

	res, err := exec.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Empty(t, res.Results)
}

func TestExecutor_CycleRejected(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	log := &callLog{}
	reg.MustRegister(okHandler("ok", log))

	exec := newTestExecutor(reg, ExecutorConfig{})
	plan := &Plan{
		Mode: ModeDAG,
		Steps: []Step{
			{ID: "a", Kind: "ok", Dependencies: []string{"b"}},
			{ID: "b", Kind: "ok", Dependencies: []string{"a"}},
		},
	}

	res, err := exec.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCircularDependency))
	assert.Contains(t, err.Error(), "[a b]", "error names the cycle participants")

	assert.False(t, res.Success)
	assert.Empty(t, res.Results, "no step may run in a cyclic plan")
	assert.Zero(t, log.count())
}

func TestExecutor_InvalidPlanRejected(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	log := &callLog{}
	reg.MustRegister(okHandler("ok", log))

	exec := newTestExecutor(reg, ExecutorConfig{})
	plan := &Plan{Mode: ModeDAG, Steps: []Step{
		{ID: "a", Kind: "ok"},
		{ID: "a", Kind: "ok"},
	}}

	res, err := exec.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidPlan))
	assert.Zero(t, log.count())
	assert.False(t, res.Success)
}

func TestExecutor_EmptyPlanSucceeds(t *testing.T) {
	exec := newTestExecutor(NewRegistry(zap.NewNop()), ExecutorConfig{})

	res, err := exec.Execute(context.Background(), &Plan{Mode: ModeDAG})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Results)
	assert.Empty(t, res.Error)
	assert.Equal(t, map[string]any{}, res.Data)
}

func TestExecutor_CancellationBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewRegistry(zap.NewNop())
	log := &callLog{}
	reg.MustRegister(NewHandlerFunc("cancels", func(ctx context.Context, step Step, ec *ExecutionContext) (any, []APICall, error) {
		log.add(step.ID)
		cancel()
		return "done", nil, nil
	}))
	reg.MustRegister(okHandler("ok", log))

	exec := newTestExecutor(reg, ExecutorConfig{})
	plan := &Plan{
		Mode: ModeDAG,
		Steps: []Step{
			{ID: "a", Kind: "cancels"},
			{ID: "b", Kind: "ok", Dependencies: []string{"a"}},
		},
	}

	res, err := exec.Execute(ctx, plan)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCancelled))

	// a completed before the cancellation took effect; b never started.
	assert.Equal(t, []string{"a"}, log.list())
	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "cancelled")
}

// ---------------------------------------------------------------------------
// Breaker wiring
// ---------------------------------------------------------------------------

// rejectingBreaker refuses every call without invoking the handler.
type rejectingBreaker struct{}

func (rejectingBreaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	return nil, types.NewError(types.ErrCircuitOpen, `circuit breaker "aws" is OPEN`)
}

func TestExecutor_BreakerRejectionSurfacesAsCircuitOpen(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	log := &callLog{}
	reg.MustRegister(okHandler("ok", log))

	exec := newTestExecutor(reg, ExecutorConfig{Breaker: rejectingBreaker{}})
	res, err := exec.Execute(context.Background(), &Plan{
		Mode:  ModeDAG,
		Steps: []Step{{ID: "a", Kind: "ok"}},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, log.count(), "rejected calls never reach the handler")

	sr, ok := res.StepResultFor("a")
	require.True(t, ok)
	assert.Equal(t, types.ErrCircuitOpen, sr.ErrorCode)
}

func TestExecutor_CircuitBreakerIntegration(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	log := &callLog{}
	reg.MustRegister(failingHandler("flaky", log))

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "aws",
		FailureThreshold: 2,
		Timeout:          time.Hour,
	}, zap.NewNop())

	exec := newTestExecutor(reg, ExecutorConfig{Breaker: breaker})
	plan := &Plan{Mode: ModeDAG, Steps: []Step{{ID: "a", Kind: "flaky"}}}

	for i := 0; i < 2; i++ {
		res, err := exec.Execute(context.Background(), plan)
		require.NoError(t, err)
		sr, _ := res.StepResultFor("a")
		assert.Equal(t, types.ErrUpstreamError, sr.ErrorCode, "run %d reaches the backend", i+1)
	}
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	sr, _ := res.StepResultFor("a")
	assert.Equal(t, types.ErrCircuitOpen, sr.ErrorCode)
	assert.Equal(t, 2, log.count(), "open breaker keeps the handler untouched")
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestExecutor_EventSequence(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.MustRegister(okHandler("ok", nil))

	listener := &recordingListener{}
	exec := newTestExecutor(reg, ExecutorConfig{Listener: listener.listen})
	plan := &Plan{
		Mode: ModeDAG,
		Steps: []Step{
			{ID: "a", Kind: "ok"},
			{ID: "b", Kind: "ok", Dependencies: []string{"a"}},
		},
	}

	res, err := exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, res.Success)

	events := listener.all()
	var gotTypes []EventType
	for _, ev := range events {
		gotTypes = append(gotTypes, ev.Type)
		assert.NotEmpty(t, ev.ExecutionID)
		assert.Equal(t, events[0].ExecutionID, ev.ExecutionID)
	}
	assert.Equal(t, []EventType{
		EventPlanStarted,
		EventBatchStarted,
		EventStepStarted,
		EventStepFinished,
		EventBatchStarted,
		EventStepStarted,
		EventStepFinished,
		EventPlanFinished,
	}, gotTypes)

	finished := listener.ofType(EventPlanFinished)
	require.Len(t, finished, 1)
	assert.True(t, finished[0].PlanOK)
	assert.Equal(t, 2, finished[0].StepsTotal)
	assert.Equal(t, ModeDAG, finished[0].Mode)

	batches := listener.ofType(EventBatchStarted)
	require.Len(t, batches, 2)
	assert.Equal(t, ModeDAG, batches[0].Mode)
	assert.Equal(t, 1, batches[0].BatchSize)

	stepDone := listener.ofType(EventStepFinished)
	require.Len(t, stepDone, 2)
	assert.Equal(t, "a", stepDone[0].StepID)
	assert.Equal(t, "b", stepDone[1].StepID)
	assert.True(t, stepDone[0].Success)
}

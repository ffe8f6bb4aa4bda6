package retryloop

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/opsflow/types"
)

func noopThink(context.Context, []Iteration) (Thought, error) {
	return Thought{Action: Action{Name: "noop"}}, nil
}

func noopAct(context.Context, Action) (any, error) {
	return "artifact", nil
}

func observeWith(status Status) ObserveFunc {
	return func(context.Context, any) (Observation, error) {
		return Observation{Status: status}, nil
	}
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil, noopAct, observeWith(StatusSuccess), zap.NewNop())
	assert.Equal(t, types.ErrValidationFailed, types.GetErrorCode(err))

	_, err = New(DefaultConfig(), noopThink, nil, observeWith(StatusSuccess), zap.NewNop())
	assert.Equal(t, types.ErrValidationFailed, types.GetErrorCode(err))

	_, err = New(DefaultConfig(), noopThink, noopAct, nil, zap.NewNop())
	assert.Equal(t, types.ErrValidationFailed, types.GetErrorCode(err))

	// observe may be nil when observation is disabled
	l, err := New(Config{EnableObservation: false}, noopThink, noopAct, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxIterations, l.cfg.MaxIterations)
}

// ---------------------------------------------------------------------------
// Always-failing trio: FAILED with exactly max_iterations entries
// ---------------------------------------------------------------------------

func TestRun_ExhaustsAtMaxIterations(t *testing.T) {
	const maxIterations = 4

	var acts int
	l, err := New(
		Config{Name: "always-fail", MaxIterations: maxIterations, EnableObservation: true},
		noopThink,
		func(context.Context, Action) (any, error) {
			acts++
			return "attempt", nil
		},
		func(context.Context, any) (Observation, error) {
			return Observation{Status: StatusFailed, Error: "validation rejected the artifact"}, nil
		},
		zap.NewNop(),
	)
	require.NoError(t, err)

	result, err := l.Run(context.Background())
	require.NoError(t, err, "exhaustion is a normal terminal state, not an error")
	require.NotNil(t, result)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Len(t, result.Iterations, maxIterations)
	assert.Equal(t, maxIterations, acts)
	assert.Contains(t, result.Error, "4 iterations")
	assert.Contains(t, result.Error, "validation rejected the artifact")
	assert.Nil(t, result.FinalArtifact)

	for i, it := range result.Iterations {
		assert.Equal(t, i+1, it.Iteration)
		assert.Equal(t, StatusFailed, it.Observation.Status)
	}
}

// ---------------------------------------------------------------------------
// Success on the third iteration, prior error payloads fed forward
// ---------------------------------------------------------------------------

func TestRun_SucceedsOnThirdIteration(t *testing.T) {
	attempt := 0
	actInputs := make([]any, 0, 3)

	think := func(_ context.Context, history []Iteration) (Thought, error) {
		// 上一轮失败的错误负载作为动作输入送入本轮执行
		var feedback string
		if len(history) > 0 {
			feedback = history[len(history)-1].Observation.Error
		}
		return Thought{
			Reasoning: fmt.Sprintf("attempt %d", len(history)+1),
			Action:    Action{Name: "generate", Input: feedback},
		}, nil
	}
	act := func(_ context.Context, action Action) (any, error) {
		actInputs = append(actInputs, action.Input)
		attempt++
		return fmt.Sprintf("artifact-%d", attempt), nil
	}
	observe := func(_ context.Context, artifact any) (Observation, error) {
		if attempt < 3 {
			return Observation{
				Status: StatusFailed,
				Error:  fmt.Sprintf("schema violation in %v", artifact),
			}, nil
		}
		return Observation{Status: StatusSuccess, Content: "valid"}, nil
	}

	l, err := New(Config{MaxIterations: 3, EnableObservation: true}, think, act, observe, zap.NewNop())
	require.NoError(t, err)

	result, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Len(t, result.Iterations, 3)
	assert.Equal(t, "artifact-3", result.FinalArtifact)
	assert.Empty(t, result.Error)

	// Iteration 3's act received iteration 2's error payload
	require.Len(t, actInputs, 3)
	assert.Equal(t, "", actInputs[0])
	assert.Equal(t, "schema violation in artifact-1", actInputs[1])
	assert.Equal(t, "schema violation in artifact-2", actInputs[2])

	assert.Equal(t, StatusFailed, result.Iterations[0].Observation.Status)
	assert.Equal(t, StatusFailed, result.Iterations[1].Observation.Status)
	assert.Equal(t, StatusSuccess, result.Iterations[2].Observation.Status)
}

// ---------------------------------------------------------------------------
// Observation disabled: first successful act terminates with skipped
// ---------------------------------------------------------------------------

func TestRun_ObservationDisabled(t *testing.T) {
	observeCalls := 0
	l, err := New(
		Config{MaxIterations: 5, EnableObservation: false},
		noopThink,
		func(context.Context, Action) (any, error) { return 42, nil },
		func(context.Context, any) (Observation, error) {
			observeCalls++
			return Observation{Status: StatusFailed}, nil
		},
		zap.NewNop(),
	)
	require.NoError(t, err)

	result, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Len(t, result.Iterations, 1)
	assert.Equal(t, StatusSkipped, result.Iterations[0].Observation.Status)
	assert.Equal(t, 42, result.FinalArtifact)
	assert.Equal(t, 0, observeCalls, "observe must not run when observation is disabled")
}

func TestRun_ObservationDisabledStillRetriesFailedActs(t *testing.T) {
	attempt := 0
	l, err := New(
		Config{MaxIterations: 3, EnableObservation: false},
		noopThink,
		func(context.Context, Action) (any, error) {
			attempt++
			if attempt == 1 {
				return nil, errors.New("transient quota error")
			}
			return "ok", nil
		},
		nil,
		zap.NewNop(),
	)
	require.NoError(t, err)

	result, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Len(t, result.Iterations, 2)
	assert.Equal(t, StatusFailed, result.Iterations[0].Observation.Status)
	assert.Equal(t, "transient quota error", result.Iterations[0].Observation.Error)
	assert.Equal(t, StatusSkipped, result.Iterations[1].Observation.Status)
}

// ---------------------------------------------------------------------------
// Act / observe errors become failed observations, not aborts
// ---------------------------------------------------------------------------

func TestRun_ActErrorConsumesIteration(t *testing.T) {
	var sawError string
	attempt := 0

	think := func(_ context.Context, history []Iteration) (Thought, error) {
		if len(history) > 0 {
			sawError = history[len(history)-1].Observation.Error
		}
		return Thought{Action: Action{Name: "run"}}, nil
	}
	act := func(context.Context, Action) (any, error) {
		attempt++
		if attempt == 1 {
			return nil, types.NewError(types.ErrThrottled, "rate limit exceeded")
		}
		return "done", nil
	}

	l, err := New(Config{MaxIterations: 3, EnableObservation: true}, think, act, observeWith(StatusSuccess), zap.NewNop())
	require.NoError(t, err)

	result, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Len(t, result.Iterations, 2)
	assert.Contains(t, result.Iterations[0].Observation.Error, "rate limit exceeded")
	assert.Contains(t, sawError, "rate limit exceeded")
}

func TestRun_ObserveErrorConsumesIteration(t *testing.T) {
	attempt := 0
	l, err := New(
		Config{MaxIterations: 2, EnableObservation: true},
		noopThink,
		noopAct,
		func(context.Context, any) (Observation, error) {
			attempt++
			if attempt == 1 {
				return Observation{}, errors.New("validator crashed")
			}
			return Observation{Status: StatusSuccess}, nil
		},
		zap.NewNop(),
	)
	require.NoError(t, err)

	result, err := l.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	require.Len(t, result.Iterations, 2)
	assert.Equal(t, StatusFailed, result.Iterations[0].Observation.Status)
	assert.Contains(t, result.Iterations[0].Observation.Error, "validator crashed")
}

func TestRun_EmptyObservationStatusTreatedAsFailed(t *testing.T) {
	l, err := New(
		Config{MaxIterations: 1, EnableObservation: true},
		noopThink,
		noopAct,
		func(context.Context, any) (Observation, error) {
			return Observation{Content: "forgot the status"}, nil
		},
		zap.NewNop(),
	)
	require.NoError(t, err)

	result, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, StatusFailed, result.Iterations[0].Observation.Status)
}

// ---------------------------------------------------------------------------
// Think errors and cancellation abort the loop mechanically
// ---------------------------------------------------------------------------

func TestRun_ThinkErrorAborts(t *testing.T) {
	attempt := 0
	think := func(context.Context, []Iteration) (Thought, error) {
		attempt++
		if attempt == 2 {
			return Thought{}, errors.New("planner unavailable")
		}
		return Thought{Action: Action{Name: "run"}}, nil
	}

	l, err := New(
		Config{MaxIterations: 5, EnableObservation: true},
		think,
		noopAct,
		observeWith(StatusFailed),
		zap.NewNop(),
	)
	require.NoError(t, err)

	result, err := l.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrInternalError, types.GetErrorCode(err))

	// 已完成的轮次历史保留在结果里
	require.NotNil(t, result)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Len(t, result.Iterations, 1)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l, err := New(Config{MaxIterations: 3, EnableObservation: true}, noopThink, noopAct, observeWith(StatusSuccess), zap.NewNop())
	require.NoError(t, err)

	result, err := l.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
	require.NotNil(t, result)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Empty(t, result.Iterations)
}

// ---------------------------------------------------------------------------
// Property: the loop never exceeds max_iterations cycles
// ---------------------------------------------------------------------------

func TestRun_BoundedIterationsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxIterations := rapid.IntRange(1, 10).Draw(rt, "max_iterations")
		failuresBeforeSuccess := rapid.IntRange(0, 15).Draw(rt, "failures_before_success")

		attempt := 0
		l, err := New(
			Config{MaxIterations: maxIterations, EnableObservation: true},
			noopThink,
			func(context.Context, Action) (any, error) {
				attempt++
				return attempt, nil
			},
			func(context.Context, any) (Observation, error) {
				if attempt <= failuresBeforeSuccess {
					return Observation{Status: StatusFailed, Error: "not yet"}, nil
				}
				return Observation{Status: StatusSuccess}, nil
			},
			zap.NewNop(),
		)
		if err != nil {
			rt.Fatalf("New failed: %v", err)
		}

		result, err := l.Run(context.Background())
		if err != nil {
			rt.Fatalf("Run failed: %v", err)
		}

		if len(result.Iterations) > maxIterations {
			rt.Fatalf("loop ran %d iterations, cap is %d", len(result.Iterations), maxIterations)
		}
		if attempt > maxIterations {
			rt.Fatalf("act invoked %d times, cap is %d", attempt, maxIterations)
		}

		if failuresBeforeSuccess < maxIterations {
			if result.Outcome != OutcomeSucceeded {
				rt.Fatalf("outcome = %s, want SUCCEEDED", result.Outcome)
			}
			if len(result.Iterations) != failuresBeforeSuccess+1 {
				rt.Fatalf("iterations = %d, want %d", len(result.Iterations), failuresBeforeSuccess+1)
			}
		} else {
			if result.Outcome != OutcomeFailed {
				rt.Fatalf("outcome = %s, want FAILED", result.Outcome)
			}
			if len(result.Iterations) != maxIterations {
				rt.Fatalf("iterations = %d, want exactly %d", len(result.Iterations), maxIterations)
			}
		}
	})
}

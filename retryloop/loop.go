// Package retryloop 实现有界的 plan-act-observe 循环：
// 每轮先规划（think）、再执行（act）、后观察（observe），
// 失败的观察结果作为显式上下文送入下一轮，最多执行 max_iterations 轮。
package retryloop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/types"
)

// Status 观察结论
type Status string

const (
	// StatusSuccess 产物通过观察
	StatusSuccess Status = "success"
	// StatusFailed 产物未通过观察
	StatusFailed Status = "failed"
	// StatusSkipped 观察被跳过（观察关闭时的终止状态）
	StatusSkipped Status = "skipped"
)

// Outcome 循环终态
type Outcome string

const (
	OutcomeRunning   Outcome = "RUNNING"
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
)

// Action 待执行的动作
type Action struct {
	Name  string `json:"name"`
	Input any    `json:"input,omitempty"`
}

// Thought 规划结果：推理说明与下一步动作
type Thought struct {
	Reasoning string `json:"reasoning,omitempty"`
	Action    Action `json:"action"`
}

// Observation 对一次执行产物的观察结果。
// Error 为失败时的错误负载，会原样出现在下一轮 think 的历史里。
type Observation struct {
	Status  Status `json:"status"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Iteration 单轮完整记录
type Iteration struct {
	Iteration   int           `json:"iteration"` // 从 1 开始
	Thought     Thought       `json:"thought"`
	Artifact    any           `json:"artifact,omitempty"`
	Observation Observation   `json:"observation"`
	Duration    time.Duration `json:"duration"`
}

// ThinkFunc 基于完整历史决定下一步动作
type ThinkFunc func(ctx context.Context, history []Iteration) (Thought, error)

// ActFunc 执行动作并返回产物
type ActFunc func(ctx context.Context, action Action) (any, error)

// ObserveFunc 评估产物
type ObserveFunc func(ctx context.Context, artifact any) (Observation, error)

// Config 循环配置
type Config struct {
	// Name 用于日志标识（如 generate_validate 任务名）
	Name string `yaml:"name" json:"name"`
	// MaxIterations 最大完整轮次，超出即以 FAILED 终止
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// EnableObservation 关闭后首次成功执行即以 skipped 终止
	EnableObservation bool `yaml:"enable_observation" json:"enable_observation"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxIterations:     3,
		EnableObservation: true,
	}
}

// Result 循环结果：无论成败都携带全部轮次历史，便于调用方诊断或续作。
type Result struct {
	Outcome       Outcome       `json:"outcome"`
	Iterations    []Iteration   `json:"iterations"`
	FinalArtifact any           `json:"final_artifact,omitempty"`
	TotalDuration time.Duration `json:"total_duration"`
	Error         string        `json:"error,omitempty"`
}

// Loop 有界重试循环控制器。
// 同一个控制器既用于单产物的生成-校验任务，
// 也用于以整个计划执行为 act 步骤的高层重试。
type Loop struct {
	cfg     Config
	think   ThinkFunc
	act     ActFunc
	observe ObserveFunc
	logger  *zap.Logger
}

// New 创建循环控制器；MaxIterations 非正时回退为默认值。
func New(cfg Config, think ThinkFunc, act ActFunc, observe ObserveFunc, logger *zap.Logger) (*Loop, error) {
	if think == nil {
		return nil, types.NewError(types.ErrValidationFailed, "retry loop requires a think function")
	}
	if act == nil {
		return nil, types.NewError(types.ErrValidationFailed, "retry loop requires an act function")
	}
	if cfg.EnableObservation && observe == nil {
		return nil, types.NewError(types.ErrValidationFailed, "retry loop requires an observe function when observation is enabled")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:     cfg,
		think:   think,
		act:     act,
		observe: observe,
		logger:  logger.With(zap.String("component", "retry_loop"), zap.String("loop", cfg.Name)),
	}, nil
}

// Run 执行循环直至成功观察、轮次耗尽或机械性故障。
// 轮次耗尽是正常终态：返回 FAILED 结果且 error 为 nil。
// 只有规划失败或上下文取消这类无法继续的故障才返回非 nil error，
// 此时结果仍携带已完成的轮次历史。
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()

	l.logger.Info("retry loop started",
		zap.Int("max_iterations", l.cfg.MaxIterations),
		zap.Bool("observation_enabled", l.cfg.EnableObservation),
	)

	history := make([]Iteration, 0, l.cfg.MaxIterations)

	for i := 1; i <= l.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return l.abort(history, startTime,
				types.NewError(types.ErrCancelled, "retry loop cancelled").WithCause(err))
		}

		iterStart := time.Now()

		// 1. 规划：完整历史（含上一轮失败的错误负载）作为显式上下文
		thought, err := l.think(ctx, history)
		if err != nil {
			// 规划失败无法继续，属于机械性故障而非迭代结果
			return l.abort(history, startTime,
				types.NewErrorf(types.ErrInternalError, "think failed at iteration %d", i).WithCause(err))
		}

		// 2. 执行动作
		artifact, actErr := l.act(ctx, thought.Action)

		// 3. 观察产物
		var obs Observation
		switch {
		case actErr != nil:
			// 动作失败计入本轮观察，不中断循环
			obs = Observation{Status: StatusFailed, Error: actErr.Error()}
		case !l.cfg.EnableObservation:
			obs = Observation{Status: StatusSkipped}
		default:
			observed, obsErr := l.observe(ctx, artifact)
			switch {
			case obsErr != nil:
				obs = Observation{Status: StatusFailed, Error: obsErr.Error()}
			case observed.Status == "":
				obs = Observation{Status: StatusFailed, Error: "observation returned empty status"}
			default:
				obs = observed
			}
		}

		history = append(history, Iteration{
			Iteration:   i,
			Thought:     thought,
			Artifact:    artifact,
			Observation: obs,
			Duration:    time.Since(iterStart),
		})

		l.logger.Debug("iteration completed",
			zap.Int("iteration", i),
			zap.String("action", thought.Action.Name),
			zap.String("status", string(obs.Status)),
		)

		// success 与 skipped 都以 SUCCEEDED 终止
		if obs.Status == StatusSuccess || obs.Status == StatusSkipped {
			duration := time.Since(startTime)
			l.logger.Info("retry loop succeeded",
				zap.Int("iterations", len(history)),
				zap.Duration("total_duration", duration),
			)
			return &Result{
				Outcome:       OutcomeSucceeded,
				Iterations:    history,
				FinalArtifact: artifact,
				TotalDuration: duration,
			}, nil
		}
	}

	// 轮次耗尽：正常终态，携带全部历史
	duration := time.Since(startTime)
	lastErr := history[len(history)-1].Observation.Error
	l.logger.Warn("retry loop exhausted",
		zap.Int("max_iterations", l.cfg.MaxIterations),
		zap.String("last_error", lastErr),
	)
	return &Result{
		Outcome:       OutcomeFailed,
		Iterations:    history,
		TotalDuration: duration,
		Error:         fmt.Sprintf("no successful observation after %d iterations: %s", l.cfg.MaxIterations, lastErr),
	}, nil
}

// abort 机械性故障：终止循环但保留已完成的历史
func (l *Loop) abort(history []Iteration, startTime time.Time, err error) (*Result, error) {
	l.logger.Error("retry loop aborted", zap.Error(err))
	return &Result{
		Outcome:       OutcomeFailed,
		Iterations:    history,
		TotalDuration: time.Since(startTime),
		Error:         err.Error(),
	}, err
}

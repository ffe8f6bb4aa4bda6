package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/opsflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常放行）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中，直接拒绝）
	StateOpen
	// StateHalfOpen 半开状态（限量试探恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config 熔断器配置
type Config struct {
	// Name 熔断器名称（对应一个被保护的外部依赖）
	Name string `yaml:"name" json:"name"`

	// FailureThreshold 关闭状态下连续失败多少次后熔断
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// SuccessThreshold 半开状态下连续成功多少次后恢复关闭
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`

	// Timeout 打开状态的冷却时间（Open → HalfOpen）
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// HalfOpenMaxCalls 半开状态下允许的最大并发试探数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls"`

	// ExcludedCodes 不计入失败的错误码（调用方错误不应触发熔断）。
	// 基于封闭的 types.ErrorCode 分类判定，绝不做错误文本子串匹配。
	ExcludedCodes []types.ErrorCode `yaml:"excluded_codes" json:"excluded_codes"`

	// OnStateChange 状态变更回调（异步触发）
	OnStateChange func(name string, from, to State) `yaml:"-" json:"-"`

	// OnReject 熔断拒绝回调。在锁外同步触发，实现必须快速返回。
	OnReject func(name string) `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Name:             "default",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitOpenError 熔断拒绝：请求未到达被保护的依赖。
// Remaining 为距离下一次试探窗口的剩余时间（半开限流拒绝时为 0）。
type CircuitOpenError struct {
	Name      string
	State     State
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.Remaining > 0 {
		return fmt.Sprintf("circuit breaker %q is %s, retry in %s", e.Name, e.State, e.Remaining)
	}
	return fmt.Sprintf("circuit breaker %q is %s", e.Name, e.State)
}

// IsCircuitOpen 判断错误是否为熔断拒绝
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// Stats 统计快照：每次状态变更后外部都能观测到一致的状态与计数。
type Stats struct {
	Name             string        `json:"name"`
	State            string        `json:"state"`
	FailureCount     int           `json:"failure_count"`
	SuccessCount     int           `json:"success_count"`
	HalfOpenInFlight int           `json:"half_open_in_flight"`
	LastFailureTime  time.Time     `json:"last_failure_time,omitempty"`
	LastStateChange  time.Time     `json:"last_state_change,omitempty"`
	RemainingTimeout time.Duration `json:"remaining_timeout"`
	TotalCalls       uint64        `json:"total_calls"`
	TotalSuccesses   uint64        `json:"total_successes"`
	TotalFailures    uint64        `json:"total_failures"`
	TotalRejections  uint64        `json:"total_rejections"`
	FailureRate      float64       `json:"failure_rate"`
}

// CircuitBreaker 三态熔断器。
// 锁只覆盖状态检查与迁移，绝不跨被包裹的调用持有，
// 因此并发调用方不会在下游延迟上相互串行。
type CircuitBreaker struct {
	cfg    Config
	logger *zap.Logger

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	halfOpenInFlight int
	lastFailureTime  time.Time
	lastStateChange  time.Time

	totalCalls      uint64
	totalSuccesses  uint64
	totalFailures   uint64
	totalRejections uint64
}

// New 创建熔断器；非法配置字段回退为默认值。
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		cfg:             cfg,
		logger:          logger.With(zap.String("component", "circuit_breaker"), zap.String("breaker", cfg.Name)),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Name 返回熔断器名称
func (b *CircuitBreaker) Name() string { return b.cfg.Name }

// admission 记录一次调用被放行时所处的状态
type admission struct {
	inHalfOpen bool
}

// Execute 通过熔断器执行 fn。
// 熔断中返回携带 *CircuitOpenError 的 CIRCUIT_OPEN 错误且不触碰依赖；
// 放行后原样返回 fn 的结果与错误 —— 熔断器从不吞掉底层错误，
// 只决定是否发起调用。被排除的错误码原样返回且不计入失败。
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	adm, err := b.beforeCall(time.Now())
	if err != nil {
		if b.cfg.OnReject != nil && types.IsCode(err, types.ErrCircuitOpen) {
			b.cfg.OnReject(b.cfg.Name)
		}
		return nil, err
	}

	out, callErr := fn(ctx)
	b.afterCall(adm, callErr, time.Now())
	if callErr != nil {
		return nil, callErr
	}
	return out, nil
}

// Do 是 Execute 的无返回值便捷形式
func (b *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.Execute(ctx, func(c context.Context) (any, error) {
		return nil, fn(c)
	})
	return err
}

// beforeCall 调用前的状态检查与放行判定
func (b *CircuitBreaker) beforeCall(now time.Time) (admission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	switch b.state {
	case StateClosed:
		return admission{}, nil

	case StateOpen:
		// 冷却期已过：先迁移到半开，再评估本次调用
		if now.Sub(b.lastFailureTime) >= b.cfg.Timeout {
			b.transitionTo(StateHalfOpen, now)
			b.halfOpenInFlight = 1
			return admission{inHalfOpen: true}, nil
		}
		b.totalRejections++
		return admission{}, b.rejectLocked(now)

	case StateHalfOpen:
		// 限制并发试探数：第 half_open_max_calls+1 个并发请求被拒绝
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			b.totalRejections++
			return admission{}, b.rejectLocked(now)
		}
		b.halfOpenInFlight++
		return admission{inHalfOpen: true}, nil

	default:
		return admission{}, types.NewErrorf(types.ErrInternalError, "circuit breaker %q in unknown state %d", b.cfg.Name, b.state)
	}
}

// afterCall 调用后的计数与状态迁移
func (b *CircuitBreaker) afterCall(adm admission, err error, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 归还半开试探名额；状态迁移会重置计数，避免负数
	if adm.inHalfOpen && b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	switch {
	case err == nil:
		b.totalSuccesses++
		b.onSuccess(adm, now)
	case b.isExcluded(err):
		// 调用方错误：既不算成功也不算失败，原样上抛
	default:
		b.totalFailures++
		b.onFailure(now)
	}
}

// onSuccess 处理成功调用
func (b *CircuitBreaker) onSuccess(adm admission, now time.Time) {
	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		// 只有半开期放行的试探请求计入恢复门槛
		if !adm.inHalfOpen {
			return
		}
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.logger.Info("circuit breaker recovered",
				zap.Int("probe_successes", b.successCount),
			)
			b.transitionTo(StateClosed, now)
		}

	case StateOpen:
		// 打开状态不放行新调用，这里只可能是早先放行的滞留调用
		b.logger.Warn("success observed while circuit breaker is open")
	}
}

// onFailure 处理失败调用
func (b *CircuitBreaker) onFailure(now time.Time) {
	b.lastFailureTime = now

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.logger.Warn("circuit breaker tripped",
				zap.Int("failure_count", b.failureCount),
				zap.Int("failure_threshold", b.cfg.FailureThreshold),
			)
			b.transitionTo(StateOpen, now)
		}

	case StateHalfOpen:
		// 半开期任一失败立即重新打开
		b.logger.Warn("probe failed, circuit breaker reopened")
		b.transitionTo(StateOpen, now)

	case StateOpen:
		b.logger.Warn("failure observed while circuit breaker is open")
	}
}

// isExcluded 判断错误是否在排除清单内（按封闭错误码分类判定）
func (b *CircuitBreaker) isExcluded(err error) bool {
	code := types.GetErrorCode(err)
	if code == "" {
		return false
	}
	for _, excluded := range b.cfg.ExcludedCodes {
		if code == excluded {
			return true
		}
	}
	return false
}

// transitionTo 迁移状态：重置进入新状态所需的计数，记录变更时间，
// 异步触发回调。调用方必须持有 b.mu。
func (b *CircuitBreaker) transitionTo(newState State, now time.Time) {
	oldState := b.state
	if oldState == newState {
		return
	}
	b.state = newState
	b.lastStateChange = now
	b.successCount = 0
	b.halfOpenInFlight = 0
	if newState == StateClosed {
		b.failureCount = 0
	}

	b.logger.Info("circuit breaker state changed",
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.cfg.Name, oldState, newState)
	}
}

// rejectLocked 构造熔断拒绝错误。调用方必须持有 b.mu。
func (b *CircuitBreaker) rejectLocked(now time.Time) error {
	coe := &CircuitOpenError{
		Name:      b.cfg.Name,
		State:     b.state,
		Remaining: b.remainingLocked(now),
	}
	return types.NewError(types.ErrCircuitOpen, coe.Error()).WithCause(coe)
}

// remainingLocked 距下一次试探窗口的剩余时间。调用方必须持有 b.mu。
func (b *CircuitBreaker) remainingLocked(now time.Time) time.Duration {
	if b.state != StateOpen {
		return 0
	}
	remaining := b.cfg.Timeout - now.Sub(b.lastFailureTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State 返回当前状态
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats 返回统计快照
func (b *CircuitBreaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	completed := b.totalSuccesses + b.totalFailures
	rate := 0.0
	if completed > 0 {
		rate = float64(b.totalFailures) / float64(completed)
	}
	return Stats{
		Name:             b.cfg.Name,
		State:            b.state.String(),
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		HalfOpenInFlight: b.halfOpenInFlight,
		LastFailureTime:  b.lastFailureTime,
		LastStateChange:  b.lastStateChange,
		RemainingTimeout: b.remainingLocked(time.Now()),
		TotalCalls:       b.totalCalls,
		TotalSuccesses:   b.totalSuccesses,
		TotalFailures:    b.totalFailures,
		TotalRejections:  b.totalRejections,
		FailureRate:      rate,
	}
}

// Reset 管理员手动复位：回到关闭状态并清空计数
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
	b.lastStateChange = time.Now()

	b.logger.Info("circuit breaker reset",
		zap.String("from", oldState.String()),
	)
	if b.cfg.OnStateChange != nil && oldState != StateClosed {
		go b.cfg.OnStateChange(b.cfg.Name, oldState, StateClosed)
	}
}

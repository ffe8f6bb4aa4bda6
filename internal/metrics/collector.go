package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 计划执行指标
	plansTotal   *prometheus.CounterVec
	planDuration *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	batchSize    *prometheus.HistogramVec

	// 熔断器指标
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	breakerRejections  *prometheus.CounterVec

	// 重试循环指标
	retryIterations *prometheus.HistogramVec
	retryOutcomes   *prometheus.CounterVec

	// 云厂商调用指标
	cloudCallsTotal   *prometheus.CounterVec
	cloudCallDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 计划执行指标
	c.plansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_executions_total",
			Help:      "Total number of plan executions",
		},
		[]string{"mode", "status"},
	)

	c.planDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_execution_duration_seconds",
			Help:      "Plan execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_executions_total",
			Help:      "Total number of step executions",
		},
		[]string{"kind", "status"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_execution_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	c.batchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_batch_size",
			Help:      "Number of steps dispatched per execution batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 6),
		},
		[]string{"mode"},
	)

	// 熔断器指标
	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	c.breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	c.breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"breaker"},
	)

	// 重试循环指标
	c.retryIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_loop_iterations",
			Help:      "Iterations used per retry loop run",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"loop"},
	)

	c.retryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_loop_outcomes_total",
			Help:      "Total number of retry loop runs by outcome",
		},
		[]string{"loop", "outcome"},
	)

	// 云厂商调用指标
	c.cloudCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cloud_api_calls_total",
			Help:      "Total number of cloud provider API calls",
		},
		[]string{"provider", "operation", "status"},
	)

	c.cloudCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cloud_api_call_duration_seconds",
			Help:      "Cloud provider API call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🗺️ 计划执行指标记录
// =============================================================================

// RecordPlanExecution 记录一次计划执行
func (c *Collector) RecordPlanExecution(mode, status string, duration time.Duration) {
	c.plansTotal.WithLabelValues(mode, status).Inc()
	c.planDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordStepExecution 记录一次步骤执行
func (c *Collector) RecordStepExecution(kind, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(kind, status).Inc()
	c.stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBlockedStep 记录因依赖失败而从未就绪的步骤。
// 阻塞步骤没有执行耗时，只计入计数器。
func (c *Collector) RecordBlockedStep(kind string) {
	c.stepsTotal.WithLabelValues(kind, "blocked").Inc()
}

// RecordBatch 记录一个调度批次的大小
func (c *Collector) RecordBatch(mode string, size int) {
	c.batchSize.WithLabelValues(mode).Observe(float64(size))
}

// =============================================================================
// ⚡ 熔断器指标记录
// =============================================================================

// RecordBreakerTransition 记录熔断器状态转换并更新状态 Gauge
func (c *Collector) RecordBreakerTransition(name, from, to string) {
	c.breakerTransitions.WithLabelValues(name, from, to).Inc()
	c.breakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

// RecordBreakerRejection 记录被熔断器直接拒绝的调用
func (c *Collector) RecordBreakerRejection(name string) {
	c.breakerRejections.WithLabelValues(name).Inc()
}

// =============================================================================
// 🔁 重试循环指标记录
// =============================================================================

// RecordRetryLoop 记录一次重试循环的终态与消耗轮次
func (c *Collector) RecordRetryLoop(loop, outcome string, iterations int) {
	c.retryOutcomes.WithLabelValues(loop, outcome).Inc()
	c.retryIterations.WithLabelValues(loop).Observe(float64(iterations))
}

// =============================================================================
// ☁️ 云厂商调用指标记录
// =============================================================================

// RecordCloudCall 记录一次云厂商 API 调用
func (c *Collector) RecordCloudCall(provider, operation string, success bool, duration time.Duration) {
	c.cloudCallsTotal.WithLabelValues(provider, operation, callStatus(success)).Inc()
	c.cloudCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// callStatus 将调用结果转换为状态标签
func callStatus(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// breakerStateValue 将熔断器状态名映射为 Gauge 数值
func breakerStateValue(state string) float64 {
	switch state {
	case "CLOSED":
		return 0
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	default:
		return -1
	}
}

package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/opsflow/circuitbreaker"
	"github.com/BaSui01/opsflow/persistence"
)

// =============================================================================
// 计划执行类型
// =============================================================================

// ExecuteRequest 表示一次计划执行请求。
// 内联 plan、命名 plan_name 与自然语言 query 三选一（至少其一）。
// @Description 计划执行请求结构
type ExecuteRequest struct {
	// 用于请求跟踪的跟踪 ID
	TraceID string `json:"trace_id,omitempty" example:"trace-123"`
	// 多租户的租户 ID
	TenantID string `json:"tenant_id,omitempty" example:"tenant-1"`
	// 用户身份
	UserID string `json:"user_id,omitempty" example:"user-1"`
	// 自然语言请求文本，随运行记录留档
	Query string `json:"query,omitempty" example:"audit the prod fleet"`
	// 预置计划名称（由规划器按名称提供）
	PlanName string `json:"plan_name,omitempty" example:"fleet-report"`
	// 内联计划文档（JSON），设置后绕过规划器
	Plan json.RawMessage `json:"plan,omitempty"`
	// 自由键值标签，复制到运行记录
	Labels map[string]string `json:"labels,omitempty"`
	// 请求超时时长
	Timeout string `json:"timeout,omitempty" example:"5m"`
}

// ValidateResponse 表示计划校验结果。
// 校验失败不是 HTTP 错误：结果作为数据返回。
// @Description 计划校验响应结构
type ValidateResponse struct {
	// 计划是否通过解析与结构校验
	Valid bool `json:"valid"`
	// 执行模式（sequential/dag）
	Mode string `json:"execution_mode,omitempty" example:"dag"`
	// 步骤数量
	Steps int `json:"steps,omitempty" example:"3"`
	// 校验失败原因
	Error string `json:"error,omitempty"`
	// 失败对应的错误码
	Code string `json:"code,omitempty" example:"CIRCULAR_DEPENDENCY"`
}

// =============================================================================
// 运行历史类型
// =============================================================================

// RunSummary 是运行记录的列表视图，省略计划与结果快照。
// @Description 运行记录摘要
type RunSummary struct {
	// 运行 ID
	ID string `json:"id" example:"9f4b..."`
	// 运行状态（running/succeeded/failed）
	Status string `json:"status" example:"succeeded"`
	// 触发请求文本
	Request string `json:"request,omitempty"`
	// 计划来源（inline 或规划器名称）
	PlanSource string `json:"plan_source,omitempty" example:"inline"`
	// 计划步骤数
	Steps int `json:"steps"`
	// 失败摘要
	Error string `json:"error,omitempty"`
	// 标签
	Labels map[string]string `json:"labels,omitempty"`
	// 创建时间
	CreatedAt time.Time `json:"created_at"`
	// 结束时间（进行中为空）
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// 运行耗时（进行中为已运行时长）
	Duration string `json:"duration"`
}

// NewRunSummary 从持久化记录构造摘要视图。
func NewRunSummary(rec *persistence.RunRecord) RunSummary {
	s := RunSummary{
		ID:         rec.ID,
		Status:     string(rec.Status),
		Request:    rec.Request,
		PlanSource: rec.PlanSource,
		Error:      rec.Error,
		Labels:     rec.Labels,
		CreatedAt:  rec.CreatedAt,
		FinishedAt: rec.FinishedAt,
		Duration:   rec.Duration().String(),
	}
	if rec.Plan != nil {
		s.Steps = len(rec.Plan.Steps)
	}
	return s
}

// RunListResponse 表示运行记录列表响应。
// @Description 运行记录列表
type RunListResponse struct {
	// 运行摘要列表
	Runs []RunSummary `json:"runs"`
	// 本页数量
	Count int `json:"count"`
	// 分页参数回显
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// StatsResponse 表示运行存储的聚合统计。
// @Description 运行存储统计
type StatsResponse struct {
	// 运行总数
	TotalRuns int64 `json:"total_runs"`
	// 按状态的数量分布
	StatusCounts map[string]int64 `json:"status_counts"`
	// 已完成运行的平均耗时
	AverageDuration string `json:"average_duration" example:"1.2s"`
	// 最老的进行中运行已持续时长
	OldestRunningAge string `json:"oldest_running_age,omitempty"`
}

// NewStatsResponse 从存储统计构造响应视图。
func NewStatsResponse(st *persistence.StoreStats) StatsResponse {
	resp := StatsResponse{
		TotalRuns:       st.TotalRuns,
		StatusCounts:    make(map[string]int64, len(st.StatusCounts)),
		AverageDuration: st.AverageDuration.String(),
	}
	for status, n := range st.StatusCounts {
		resp.StatusCounts[string(status)] = n
	}
	if st.OldestRunningAge > 0 {
		resp.OldestRunningAge = st.OldestRunningAge.String()
	}
	return resp
}

// =============================================================================
// 熔断器类型
// =============================================================================

// BreakerListResponse 表示全部熔断器的统计快照。
// @Description 熔断器列表
type BreakerListResponse struct {
	// 按名称升序的统计快照
	Breakers []circuitbreaker.Stats `json:"breakers"`
	// 数量
	Count int `json:"count"`
}

// ResetResponse 表示熔断器复位结果。
// @Description 熔断器复位响应
type ResetResponse struct {
	// 被复位的熔断器名称；复位全部时为 "*"
	Name string `json:"name" example:"aws"`
	// 复位后的状态
	State string `json:"state" example:"CLOSED"`
}

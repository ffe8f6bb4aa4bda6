package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/opsflow/api"
	"github.com/BaSui01/opsflow/assistant"
	"github.com/BaSui01/opsflow/orchestrate"
	"github.com/BaSui01/opsflow/persistence"
	"github.com/BaSui01/opsflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🚀 计划执行与运行历史 Handler
// =============================================================================

// maxPlanBytes 限制计划文档的请求体大小。
const maxPlanBytes = 1 << 20 // 1 MB

// RunsHandler 处理计划执行、计划校验与运行历史查询。
type RunsHandler struct {
	assistant *assistant.Assistant
	store     persistence.RunStore
	logger    *zap.Logger
}

// NewRunsHandler 创建运行处理器
func NewRunsHandler(a *assistant.Assistant, store persistence.RunStore, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{
		assistant: a,
		store:     store,
		logger:    logger,
	}
}

// HandleExecute 处理计划执行请求。
// 步骤失败的运行不是 HTTP 错误：记录以 200 返回，状态为 failed；
// 只有致命错误（无效请求、环依赖、未知计划名）映射为 4xx。
// @Summary 执行计划
// @Description 执行内联计划或按名称选取预置计划
// @Tags 运行
// @Accept json
// @Produce json
// @Param request body api.ExecuteRequest true "执行请求"
// @Success 200 {object} Response "运行记录"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "计划不存在"
// @Security ApiKeyAuth
// @Router /api/v1/plans/execute [post]
func (h *RunsHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ExecuteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	areq := assistant.Request{
		Query:    req.Query,
		PlanName: req.PlanName,
		Labels:   req.Labels,
	}
	if len(req.Plan) > 0 {
		plan, err := orchestrate.ParsePlan(req.Plan)
		if err != nil {
			WriteErr(w, err, h.logger)
			return
		}
		areq.Plan = plan
	}

	ctx := r.Context()
	if req.TraceID != "" {
		ctx = types.WithTraceID(ctx, req.TraceID)
	}
	if req.TenantID != "" {
		ctx = types.WithTenantID(ctx, req.TenantID)
	}
	if req.UserID != "" {
		ctx = types.WithUserID(ctx, req.UserID)
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			WriteError(w, types.NewErrorf(types.ErrInvalidRequest,
				"invalid timeout %q", req.Timeout), h.logger)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	rec, err := h.assistant.HandleRequest(ctx, areq)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	WriteSuccess(w, rec)
}

// HandleValidate 处理计划校验请求：请求体即计划文档。
// 校验结果作为数据返回，不通过 HTTP 状态码表达。
// @Summary 校验计划
// @Description 解析并校验计划文档，不执行
// @Tags 运行
// @Accept json
// @Produce json
// @Success 200 {object} Response "校验结果"
// @Security ApiKeyAuth
// @Router /api/v1/plans/validate [post]
func (h *RunsHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanBytes))
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"failed to read request body", h.logger)
		return
	}

	plan, err := orchestrate.ParsePlan(body)
	if err != nil {
		result := api.ValidateResponse{
			Error: err.Error(),
			Code:  string(types.GetErrorCodeOr(err, types.ErrInvalidPlan)),
		}
		var te *types.Error
		if errors.As(err, &te) {
			result.Error = te.Message
		}
		WriteSuccess(w, result)
		return
	}

	WriteSuccess(w, api.ValidateResponse{
		Valid: true,
		Mode:  string(plan.Mode),
		Steps: len(plan.Steps),
	})
}

// HandleRuns 处理运行列表查询。
// 过滤参数：status（可重复或逗号分隔）、plan_source、created_after/
// created_before（RFC3339）、limit（默认 50，上限 500）、offset、
// order（asc/desc，默认 desc，最新在前）。
// @Summary 查询运行历史
// @Description 按条件分页列出运行记录
// @Tags 运行
// @Produce json
// @Success 200 {object} Response "运行列表"
// @Failure 400 {object} Response "过滤参数无效"
// @Security ApiKeyAuth
// @Router /api/v1/runs [get]
func (h *RunsHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}

	filter, err := parseRunFilter(r)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	records, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	runs := make([]api.RunSummary, 0, len(records))
	for _, rec := range records {
		runs = append(runs, api.NewRunSummary(rec))
	}

	WriteSuccess(w, api.RunListResponse{
		Runs:   runs,
		Count:  len(runs),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// HandleRunByID 处理单条运行的查询与删除（路径 /api/v1/runs/{id}）。
// @Summary 查询或删除运行
// @Description GET 返回完整记录（含计划与结果快照），DELETE 删除记录
// @Tags 运行
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} Response "运行记录"
// @Failure 404 {object} Response "运行不存在"
// @Security ApiKeyAuth
// @Router /api/v1/runs/{id} [get]
func (h *RunsHandler) HandleRunByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/")
	if id == "" || strings.Contains(id, "/") {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound,
			"run not found", h.logger)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := h.store.GetRun(r.Context(), id)
		if err != nil {
			WriteErr(w, err, h.logger)
			return
		}
		WriteSuccess(w, rec)

	case http.MethodDelete:
		if err := h.store.DeleteRun(r.Context(), id); err != nil {
			WriteErr(w, err, h.logger)
			return
		}
		h.logger.Info("run deleted", zap.String("run_id", id))
		WriteSuccess(w, map[string]string{"deleted": id})

	default:
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
	}
}

// HandleStats 处理运行存储统计查询。
// @Summary 运行统计
// @Description 返回运行总数、状态分布与耗时统计
// @Tags 运行
// @Produce json
// @Success 200 {object} Response "统计信息"
// @Security ApiKeyAuth
// @Router /api/v1/stats [get]
func (h *RunsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	WriteSuccess(w, api.NewStatsResponse(stats))
}

// HandleDescribe 处理能力查询：已注册的步骤类型、规划器、云 Provider
// 与熔断器名称。
// @Summary 能力描述
// @Description 返回当前装配的步骤类型与依赖组件
// @Tags 运行
// @Produce json
// @Success 200 {object} Response "能力信息"
// @Security ApiKeyAuth
// @Router /api/v1/describe [get]
func (h *RunsHandler) HandleDescribe(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}

	WriteSuccess(w, h.assistant.Describe())
}

// =============================================================================
// 🔍 过滤参数解析
// =============================================================================

// validRunStatuses 是 status 过滤参数的合法取值。
var validRunStatuses = map[string]persistence.RunStatus{
	string(persistence.RunRunning):   persistence.RunRunning,
	string(persistence.RunSucceeded): persistence.RunSucceeded,
	string(persistence.RunFailed):    persistence.RunFailed,
}

// parseRunFilter 将查询参数转换为存储过滤器，非法取值返回
// INVALID_REQUEST。
func parseRunFilter(r *http.Request) (persistence.RunFilter, error) {
	q := r.URL.Query()
	filter := persistence.RunFilter{
		Limit:     50,
		OrderDesc: true,
	}

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			status, ok := validRunStatuses[strings.ToLower(s)]
			if !ok {
				return filter, types.NewErrorf(types.ErrInvalidRequest,
					"unknown status %q (running, succeeded, failed)", s)
			}
			filter.Status = append(filter.Status, status)
		}
	}

	filter.PlanSource = q.Get("plan_source")

	if v := q.Get("created_after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, types.NewErrorf(types.ErrInvalidRequest,
				"invalid created_after %q: use RFC3339", v)
		}
		filter.CreatedAfter = &ts
	}
	if v := q.Get("created_before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, types.NewErrorf(types.ErrInvalidRequest,
				"invalid created_before %q: use RFC3339", v)
		}
		filter.CreatedBefore = &ts
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, types.NewErrorf(types.ErrInvalidRequest, "invalid limit %q", v)
		}
		if n > 500 {
			n = 500
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, types.NewErrorf(types.ErrInvalidRequest, "invalid offset %q", v)
		}
		filter.Offset = n
	}

	switch q.Get("order") {
	case "", "desc":
		filter.OrderDesc = true
	case "asc":
		filter.OrderDesc = false
	default:
		return filter, types.NewErrorf(types.ErrInvalidRequest,
			"invalid order %q (asc, desc)", q.Get("order"))
	}

	return filter, nil
}

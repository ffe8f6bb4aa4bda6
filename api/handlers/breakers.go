package handlers

import (
	"net/http"
	"strings"

	"github.com/BaSui01/opsflow/api"
	"github.com/BaSui01/opsflow/circuitbreaker"
	"github.com/BaSui01/opsflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🛡️ 熔断器 Handler
// =============================================================================

// BreakersHandler 暴露熔断器的状态查询与人工复位。
type BreakersHandler struct {
	registry *circuitbreaker.Registry
	logger   *zap.Logger
}

// NewBreakersHandler 创建熔断器处理器
func NewBreakersHandler(registry *circuitbreaker.Registry, logger *zap.Logger) *BreakersHandler {
	return &BreakersHandler{
		registry: registry,
		logger:   logger,
	}
}

// HandleBreakers 列出全部熔断器的实时统计。
// @Summary 熔断器列表
// @Description 返回所有已注册熔断器的状态与计数，按名称排序
// @Tags 熔断器
// @Produce json
// @Success 200 {object} Response "熔断器统计"
// @Security ApiKeyAuth
// @Router /api/v1/breakers [get]
func (h *BreakersHandler) HandleBreakers(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}

	stats := h.registry.StatsAll()
	WriteSuccess(w, api.BreakerListResponse{
		Breakers: stats,
		Count:    len(stats),
	})
}

// HandleBreakerAction 处理熔断器复位：
// POST /api/v1/breakers/reset 复位全部，POST /api/v1/breakers/{name}/reset 复位单个。
// 复位直接回到 CLOSED 并清空计数，用于故障排除后的人工恢复。
// @Summary 复位熔断器
// @Description 将单个或全部熔断器复位为 CLOSED
// @Tags 熔断器
// @Produce json
// @Param name path string false "熔断器名称"
// @Success 200 {object} Response "复位结果"
// @Failure 404 {object} Response "熔断器不存在"
// @Security ApiKeyAuth
// @Router /api/v1/breakers/{name}/reset [post]
func (h *BreakersHandler) HandleBreakerAction(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/breakers/"), "/")
	if rest == "reset" {
		h.registry.ResetAll()
		h.logger.Info("所有熔断器已复位")
		WriteSuccess(w, api.ResetResponse{
			Name:  "*",
			State: circuitbreaker.StateClosed.String(),
		})
		return
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "reset" || parts[0] == "" {
		WriteError(w, types.NewError(types.ErrNotFound, "unknown breaker action"), h.logger)
		return
	}

	name := parts[0]
	b, ok := h.registry.Get(name)
	if !ok {
		WriteError(w, types.NewErrorf(types.ErrNotFound, "breaker %q not found", name), h.logger)
		return
	}

	b.Reset()
	h.logger.Info("熔断器已复位", zap.String("breaker", name))
	WriteSuccess(w, api.ResetResponse{
		Name:  name,
		State: b.Stats().State,
	})
}

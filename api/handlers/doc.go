// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 OpsFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 OpsFlow 所有 HTTP 端点的请求处理逻辑，
包括计划执行与校验、运行历史查询、熔断器管理、健康检查
以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - RunsHandler      — 计划执行、计划校验、运行历史与统计
  - BreakersHandler  — 熔断器状态查询与人工复位
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（存储 Ping、就绪位等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType、RequireMethod
  - ErrorCode → HTTP 状态码全量映射（4xx/5xx）
  - 运行历史过滤：状态、计划来源、时间窗口、分页与排序
  - 熔断器运维：按名称或全量复位，复位后回到 CLOSED
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers

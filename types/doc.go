// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 OpsFlow 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 orchestrate、
circuitbreaker、retryloop、cloud、persistence、api 等上层模块提供统一的
错误契约。所有跨包共享的错误码与结构化错误均定义于此，以避免循环依赖。

# 错误分类

  - 计划级错误   — INVALID_PLAN / CIRCULAR_DEPENDENCY / UNKNOWN_STEP_KIND，
    执行前拒绝，永不重试
  - 依赖级错误   — CIRCUIT_OPEN / TIMEOUT / UNAVAILABLE / THROTTLED /
    UPSTREAM_ERROR，默认可重试（CIRCUIT_OPEN 除外）
  - 调用方错误   — INVALID_REQUEST / AUTHENTICATION / PERMISSION_DENIED /
    NOT_FOUND / NOT_SUPPORTED，不计入熔断失败
  - 校验与生命周期 — VALIDATION_FAILED / RETRY_EXHAUSTED / STORAGE_ERROR /
    INTERNAL_ERROR / CANCELLED

错误分类是封闭的：熔断器的排除规则与重试策略都基于 ErrorCode 判定，
绝不依赖错误文本的子串匹配。
*/
package types

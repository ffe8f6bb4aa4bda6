// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
Package assistant 提供面向请求的顶层门面：把一次运维请求变成一次
有审计记录的计划执行。

# 概述

Assistant 是编排引擎的"拥有者"：它持有执行器、步骤处理器注册表、
熔断器注册表与运行历史存储，对外只暴露 HandleRequest。每个请求经历
规划（planner 或内联计划）→ 执行（DAG 执行器）→ 持久化（RunRecord）
三个阶段；执行进度事件转发给注入的监听器，指标写入 Prometheus 收集器。

# 核心类型

  - Request        — 一次请求：查询文本、计划名或内联计划、审计标签
  - Planner        — 规划器契约；外部协作方（LLM 规划器、规则引擎）实现
  - StaticPlanner  — 按名称提供预置计划，供测试与 CLI 使用
  - Assistant      — 门面本体；显式构造、依赖注入，无包级单例

# 失败语义

历史写入是尽力而为：存储故障只记日志，不影响执行结果。执行器的
致命错误（非法计划、环、取消）连同失败记录一起返回，调用方同时拿到
类型化错误与审计记录；步骤级失败不是错误，体现为 status=failed 的
记录与部分结果。
*/
package assistant

// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
Package orchestrate 提供弹性任务编排引擎的核心：计划模型与 DAG 执行器。

# 概述

orchestrate 包接收一个声明式计划（单步或带依赖关系的步骤图），按依赖层
并发执行，将各步骤输出合并进共享执行上下文，并聚合最终结果。步骤处理器
通过注册表按 kind 分发；对外部依赖的调用可选地经过熔断器保护。

# 核心接口与类型

  - Plan / Step          — 声明式计划与不可变步骤（含 JSON Schema 校验）
  - ExecutionContext     — output_key → 结果 的运行期上下文（单次运行独占）
  - Handler / Registry   — 步骤处理器接口与按 kind 分发的注册表
  - Executor             — DAG 执行器（就绪集计算、扇出/扇入、失败隔离）
  - StepResult / Result  — 单步结果与整体运行结果（含 API 审计轨迹）
  - Event / Listener     — 执行进度事件

# 执行语义

  - 就绪集：依赖全部成功完成的未执行步骤；同批次并发执行，批间内存屏障
  - 环检测：计划校验阶段即拒绝，零步骤执行（CIRCULAR_DEPENDENCY，不可重试）
  - 失败隔离：单步失败只产生失败的 StepResult，不影响同批兄弟步骤
  - 阻塞传播：失败步骤的下游永不就绪，计入 Result.Blocked，整体 success=false
  - 部分结果：失败时始终返回已完成步骤的全部结果与上下文快照
*/
package orchestrate

// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
Package persistence 提供运行历史（run history)的持久化存储抽象及多后端实现。

# 概述

每次编排执行都会生成一条 RunRecord：触发请求、规划器产出的计划快照、
执行状态与最终结果。本包通过统一的 RunStore 接口与可插拔后端，
让上层（assistant、HTTP API、CLI）无需关心存储细节即可审计"助手做了什么"。

# 核心接口

  - RunStore: 运行历史接口，提供保存、查询、过滤列表、删除、
    过期清理（PurgeOlderThan）、统计与健康检查。
  - RunRecord: 单次运行的持久化快照，状态机为 running → succeeded/failed。
  - RunFilter: 按状态、来源与时间窗过滤，支持分页与排序方向。

# 后端实现

  - Memory: 内存实现，开发与测试默认，重启后数据丢失；
    支持按保留策略自动清理。
  - Redis: 基于 go-redis 的实现，JSON 记录 + Sorted Set 时间/状态索引，
    Pipeline 批量写入，适合分布式部署。
  - Database: 基于 GORM 的关系型实现（postgres / mysql / sqlite），
    计划与结果以 JSON 文本列存储，跨方言可移植。

# 使用方式

通过工厂函数按配置创建存储实例：

	store, err := persistence.NewRunStore(cfg, logger)

错误遵循全局错误分类：未命中为 NOT_FOUND，后端故障为 STORAGE_ERROR，
连接不可用为 UNAVAILABLE。
*/
package persistence

// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
Package database 提供基于 GORM 的数据库连接池管理，服务于运行历史存储。

# 概述

本包通过 PoolManager 封装 GORM 与 database/sql 的连接池配置，统一管理
连接上限、空闲回收与生命周期。仅大于零的参数会被应用，全零配置下可直接
接管外部传入的连接池而不改动其调优。可选的后台健康检查定时 PingContext
探活，异常时通过 zap 输出诊断信息。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲/打开连接数、连接生命周期、
    空闲超时与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 连接池调优：MaxIdleConns / MaxOpenConns / ConnMaxLifetime 精细控制。
  - 健康检查：后台定时探活，输出连接数与空闲数。
  - 事务管理：WithTransaction 单次执行；WithTransactionRetry 对死锁、
    序列化失败、连接抖动等瞬时错误做指数退避重试。
*/
package database

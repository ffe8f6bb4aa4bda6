// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理运行历史（runs 表）的数据库 Schema 迁移，支持
PostgreSQL、MySQL 与 SQLite 三种数据库，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 按方言内嵌 SQL 迁移文件，结合 golang-migrate
引擎实现版本化的 Schema 变更管理。迁移目标与 persistence 包的
GORM 存储指向同一张 runs 表：生产部署用本包显式迁移，开发与测试
可继续依赖 AutoMigrate，两者产生的结构一致。SQLite 方言走纯 Go
的 modernc 驱动，与存储层保持同一引擎，全程无 cgo。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 等完整操作集。
  - DefaultMigrator：Migrator 的默认实现，封装 golang-migrate 实例
    与数据库连接管理。
  - Config：迁移配置，包含数据库类型、连接 URL、迁移表名与锁超时。
  - DatabaseType：数据库类型枚举（postgres/mysql/sqlite）。
  - MigrationStatus / MigrationInfo：迁移状态与摘要信息。
  - CLI：命令行交互层，opsflow migrate 子命令据此输出格式化结果。

# 主要能力

  - 多数据库支持：通过 DatabaseType 与内嵌 SQL 文件自动适配方言。
  - 工厂函数：NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
    NewMigratorFromURL 支持从不同配置源快速创建迁移器，复用配置中
    Database 段的连接参数。
  - CLI 集成：CLI 类型提供 RunUp/RunDown/RunStatus/RunInfo 等
    面向终端的格式化操作。
  - 辅助工具：ParseDatabaseType 解析类型字符串，BuildDatabaseURL
    按方言拼接连接 URL。
*/
package migration

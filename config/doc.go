// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供 OpsFlow 的配置管理功能。

# 概述

单一 Config 结构覆盖服务器、执行器、熔断器、重试循环、云厂商、
运行历史存储、Redis、数据库、日志、遥测与认证配置。Loader 以
Builder 模式按「默认值 → YAML 文件 → 环境变量」的优先级合成最终
配置，环境变量键由 env 标签逐级拼接而成（前缀默认 OPSFLOW，如
OPSFLOW_SERVER_HTTP_PORT）。

# 使用示例

	cfg, err := config.NewLoader().
	    WithConfigPath("config.yaml").
	    WithValidator(func(c *config.Config) error { return c.Validate() }).
	    Load()

时长字段按 Go duration 字符串解析（"30s"、"5m"）。
DatabaseConfig.DSN 按驱动类型（postgres、mysql、sqlite）拼装连接串。
*/
package config

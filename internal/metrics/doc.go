// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、计划执行、熔断器、重试循环与云厂商调用五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 计划执行指标：计划总数与耗时（按 mode/status 分组）、
    步骤总数与耗时（按 kind/status 分组，阻塞步骤单独计数）、
    调度批次大小分布。
  - 熔断器指标：当前状态 Gauge（0=closed / 1=half-open / 2=open）、
    状态转换计数与拒绝计数，按 breaker 分组。
  - 重试循环指标：每次循环消耗的轮次分布与终态计数，
    按 loop/outcome 分组。
  - 云厂商调用指标：调用总数与耗时，按 provider/operation 分组。
*/
package metrics

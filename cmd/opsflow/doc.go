// Copyright (c) OpsFlow Authors.
// Licensed under the MIT License.

// Package main 提供 OpsFlow 服务端程序入口。
//
// 核心类型：
//   - Server: 服务器实例，持有 HTTP 服务、存储、熔断器注册表与编排助手的生命周期
//   - Middleware: HTTP 中间件类型，经 Chain 自外向内组合
//   - responseWriter / metricsResponseWriter: 捕获状态码与响应大小的包装器
//
// 主要能力：
//   - 子命令分发: serve（常驻服务）、run（一次性执行计划）、migrate（数据库迁移）、
//     version、health
//   - 中间件链: Recovery、RequestID、SecurityHeaders、RequestLogger、
//     MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于客户端 IP）、
//     Auth（X-API-Key 或 Bearer JWT）
//   - /metrics 与业务接口同端口暴露，健康检查与指标路径豁免认证
//   - 优雅关闭: 按限流清理、HTTP、存储、遥测的顺序释放资源
//   - 版本信息经 ldflags 注入 Version / BuildTime / GitCommit
package main

// Package api defines the request/response types of the OpsFlow HTTP API.
//
// # API Overview
//
// OpsFlow provides a RESTful API for:
//   - Executing orchestration plans (inline or pre-authored by name)
//   - Validating plan documents without running them
//   - Browsing and managing run history
//   - Inspecting and resetting circuit breakers
//   - Health monitoring and metrics
//
// # Authentication
//
// When auth is enabled, API endpoints require the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Health, readiness, version and metrics endpoints are always exempt.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Generating Documentation
//
// To regenerate Swagger documentation using swag:
//
//	swag init -g cmd/opsflow/main.go -o api --parseDependency --parseInternal
package api

// Package config handles configuration loading for botfactory.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Missing values fall back to defaults. When no file exists at
// all, LoadOrDefault builds the configuration from defaults and the
// FACTORY_BOT_TOKEN environment variable.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	gateway:
//	  api_key: "${GATEWAY_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	tenants:
//	  start_timeout: "30s"
//	  stop_timeout: "10s"
//
// # Configuration Sections
//
// Factory bot:
//
//	factory:
//	  token: "${FACTORY_BOT_TOKEN}"   # Required
//
// Completion gateway:
//
//	gateway:
//	  base_url: "https://api.onlysq.ru/ai/openai/v1"
//	  api_key: "${GATEWAY_API_KEY}"
//	  model: "gpt-4o-mini"
//	  temperature: 0.7
//
// Tenants:
//
//	tenants:
//	  start_timeout: "30s"
//	  stop_timeout: "10s"
//	  history_limit: 20
//	  reconcile_concurrency: 4
//
// Operator API:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	auth:
//	  jwt_secret: "${BOTFACTORY_JWT_SECRET}"   # Optional, at least 32 bytes
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load validates:
//
//   - factory token presence
//   - JWT secret minimum length (32 bytes) when set
//   - duration format validity
//   - temperature range and logging format
package config

// Package config handles configuration loading for pulse-chat.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  token: "${PULSE_API_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	api:
//	  request_timeout: "30s"
//	cache:
//	  ttl: "5m"
//	stream:
//	  word_delay: "40ms"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Remote API:
//
//	api:
//	  base_url: "https://assist.example.com/api"
//	  domain_id: "hr"            # hr or it
//	  request_timeout: "30s"
//	  max_retries: 3
//
// Authentication (static token, or a token endpoint for refresh):
//
//	auth:
//	  token: "${PULSE_API_TOKEN}"
//	  token_endpoint: "https://auth.example.com/token"
//	  client_id: "pulse-chat"
//	  client_secret: "${PULSE_CLIENT_SECRET}"
//
// Local database:
//
//	database:
//	  path: "~/.local/share/pulse/chat.db"
//
// Conversation cache:
//
//	cache:
//	  ttl: "5m"
//	  max_entries: 128
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("~/.config/pulse/chat.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

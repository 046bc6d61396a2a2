// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension),
// with environment variable expansion, defaults, and per-field overrides
// from PARLEY_* environment variables.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/parley.yaml
//  3. ~/.config/parley/parley.yaml
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Any field can also be overridden directly. The variable name is the
// section and key, upper-cased, behind the PARLEY_ prefix:
//
//	PARLEY_SERVER_HTTP_ADDR=0.0.0.0:9000
//	PARLEY_DATABASE_DRIVER=postgres
//	PARLEY_DATABASE_DSN=postgres://parley@db/parley
//	PARLEY_SERVER_ALLOWED_ORIGINS=https://a.example,https://b.example
//
// LoadDotEnv reads a .env file into the environment first.
//
// # Sections
//
//	server:
//	  http_addr: "localhost:8080"
//	  allowed_origins: ["*"]
//	  max_body_bytes: 1048576
//	  shutdown_timeout: "10s"
//
//	database:
//	  driver: "sqlite"        # sqlite, sqlite3, postgres
//	  path: "/var/lib/parley/parley.db"
//	  dsn: ""                 # postgres only
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"   # at least 32 bytes
//	  token_ttl: "720h"
//	  bcrypt_cost: 10
//
//	realtime:
//	  send_buffer: 64
//	  ping_interval: "30s"
//	  pong_wait: "60s"
//	  write_wait: "10s"
//	  max_frame_bytes: 65536
//	  dedupe_ttl: "10m"
//	  dedupe_size: 10000
//
//	redis:
//	  url: ""                 # empty runs a single node
//	  channel: "parley:events"
//	  lock_expiry: "8s"
//
//	users:
//	  avatar_url_template: "https://i.pravatar.cc/150?u={id}"
//	  profile_cache_size: 1024
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
package config

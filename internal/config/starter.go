// ABOUTME: Starter configuration rendering for `parley init`
// ABOUTME: Produces a commented YAML file that Load accepts unchanged

package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// StarterOptions are the answers collected by `parley init`.
type StarterOptions struct {
	HTTPAddr  string
	DBPath    string
	JWTSecret string
	LogLevel  string
	LogFormat string
	RedisURL  string
}

// GenerateSecret returns a random hex secret of 2*n characters.
func GenerateSecret(n int) (string, error) {
	if n < MinJWTSecretLength/2 {
		n = MinJWTSecretLength / 2
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Starter renders a starter YAML config.
func Starter(opts StarterOptions) string {
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = "localhost:8080"
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}
	if opts.LogFormat == "" {
		opts.LogFormat = "text"
	}

	var b strings.Builder
	b.WriteString("# parley configuration\n")
	b.WriteString("# Generated by parley init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", opts.HTTPAddr)
	b.WriteString("  allowed_origins: [\"*\"]\n")
	b.WriteString("  shutdown_timeout: \"10s\"\n\n")

	b.WriteString("database:\n")
	b.WriteString("  driver: \"sqlite\"\n")
	fmt.Fprintf(&b, "  path: %q\n\n", opts.DBPath)

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n", opts.JWTSecret)
	b.WriteString("  token_ttl: \"720h\"\n\n")

	b.WriteString("realtime:\n")
	b.WriteString("  send_buffer: 64\n")
	b.WriteString("  ping_interval: \"30s\"\n")
	b.WriteString("  pong_wait: \"60s\"\n")
	b.WriteString("  dedupe_ttl: \"10m\"\n\n")

	if opts.RedisURL != "" {
		b.WriteString("redis:\n")
		fmt.Fprintf(&b, "  url: %q\n", opts.RedisURL)
		b.WriteString("  channel: \"parley:events\"\n\n")
	}

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", opts.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n\n", opts.LogFormat)

	b.WriteString("metrics:\n")
	b.WriteString("  enabled: false\n")
	b.WriteString("  path: \"/metrics\"\n")

	return b.String()
}

// ABOUTME: Tests for parley command helpers
// ABOUTME: Covers config path resolution, logger setup and the init prompt flow

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/2389/parley/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", "/etc/parley/custom.yaml")
	if got := getConfigPath(); got != "/etc/parley/custom.yaml" {
		t.Errorf("getConfigPath() = %q, want PARLEY_CONFIG value", got)
	}

	t.Setenv("PARLEY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got, want := getConfigPath(), filepath.Join("/xdg", "parley", "parley.yaml"); got != want {
		t.Errorf("getConfigPath() = %q, want %q", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("served", "status", 200)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
	for _, want := range []string{"INF served", "component=gateway", "req.status=200"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")

	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "parley.yaml")
	dbPath := filepath.Join(dir, "data", "parley.db")

	answers := strings.Join([]string{
		cfgPath,          // config path
		"127.0.0.1:9090", // http address
		dbPath,           // database
		"",               // redis
		"debug",          // level
		"json",           // format
	}, "\n") + "\n"

	if err := runInit(strings.NewReader(answers)); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Errorf("data directory not created: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != dbPath {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, dbPath)
	}
	if len(cfg.Auth.JWTSecret) < config.MinJWTSecretLength {
		t.Errorf("generated secret too short: %d", len(cfg.Auth.JWTSecret))
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

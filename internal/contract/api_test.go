// ABOUTME: Contract tests for the HTTP and JSON surface used by web and mobile clients.
// ABOUTME: Detects removed routes and renamed JSON fields before they reach production.

package contract

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/gateway"
)

// expectedRoutes defines the contract for the HTTP API surface.
var expectedRoutes = []string{
	"GET /health",
	"GET /health/ready",
	"GET /metrics",
	"POST /api/register",
	"POST /api/login",
	"GET /api/users",
	"GET /api/users/{id}",
	"POST /api/users/avatar",
	"GET /api/conversations",
	"POST /api/conversations",
	"GET /api/conversations/{id}",
	"GET /api/conversations/{id}/messages",
	"POST /api/conversations/{id}/messages",
	"PATCH /api/conversations/{id}/read",
	"GET /ws",
}

func newGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			HTTPAddr:        "127.0.0.1:0",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: time.Second,
		},
		Database: config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "api.db")},
		Auth:     config.AuthConfig{JWTSecret: "0123456789abcdef0123456789abcdef", TokenTTL: time.Hour, BcryptCost: 4},
		Realtime: config.RealtimeConfig{SendBuffer: 8, DedupeSize: 16, DedupeTTL: time.Minute},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func TestRouteSurface(t *testing.T) {
	routes, ok := newGateway(t).Handler().(chi.Routes)
	require.True(t, ok, "gateway handler should be a chi router")

	actual := map[string]bool{}
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		actual[method+" "+route] = true
		return nil
	})
	require.NoError(t, err)

	for _, r := range expectedRoutes {
		assert.True(t, actual[r], "route %s should exist", r)
	}

	var extra []string
	for r := range actual {
		found := false
		for _, e := range expectedRoutes {
			if e == r {
				found = true
				break
			}
		}
		if !found {
			extra = append(extra, r)
		}
	}
	sort.Strings(extra)
	for _, r := range extra {
		t.Logf("INFO: extra route %s not in contract (consider adding)", r)
	}
}

// jsonKeys marshals v and returns its top-level keys.
func jsonKeys(t *testing.T, v any) []string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TestJSONFieldNames pins the field names clients depend on, including the
// leading-underscore ids.
func TestJSONFieldNames(t *testing.T) {
	avatar := "https://example.com/a.png"
	tests := []struct {
		name string
		v    any
		want []string
	}{
		{"user", gateway.UserResponse{Avatar: &avatar}, []string{"_id", "avatar", "createdAt", "email", "name"}},
		{"auth", gateway.AuthResponse{}, []string{"token", "user"}},
		{"message", gateway.MessageResponse{}, []string{"_id", "conversation", "createdAt", "read", "sender", "text"}},
		{"conversation", gateway.ConversationResponse{LastMessage: &gateway.LastMessageResponse{}},
			[]string{"_id", "createdAt", "lastMessage", "participants", "updatedAt"}},
		{"last message", gateway.LastMessageResponse{}, []string{"createdAt", "read", "sender", "text"}},
		{"participant", gateway.ParticipantResponse{Name: "Ada", Email: "ada@example.com", Avatar: &avatar}, []string{"_id", "avatar", "email", "name"}},
		{"mark read", gateway.MarkReadResponse{}, []string{"success", "updated"}},
		{"avatar", gateway.AvatarResponse{}, []string{"avatarUrl", "success", "user"}},
		{"typing frame", gateway.TypingData{}, []string{"conversationId", "isTyping", "user"}},
		{"read frame", gateway.ReadData{}, []string{"conversationId", "count", "readAt", "reader"}},
		{"error frame", gateway.ErrorData{}, []string{"code", "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jsonKeys(t, tt.v))
		})
	}
}

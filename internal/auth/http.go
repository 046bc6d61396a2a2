// ABOUTME: HTTP middleware for JWT authentication on API and websocket endpoints
// ABOUTME: Extracts the JWT, resolves it to an existing user and adds it to the context

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/2389/parley/internal/store"
)

// UserLookup resolves a token subject to a user.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken finds the token on r. Browsers cannot set headers on a
// websocket handshake, so upgrades may pass it as ?token= instead.
func requestToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" && websocket.IsWebSocketUpgrade(r) {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, ""
		}
	}
	return extractBearerToken(header)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates JWT tokens.
// The token subject must name an existing user; the user is added to the request
// context as an AuthContext.
func HTTPAuthMiddleware(users UserLookup, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := requestToken(r)
			if errMsg != "" {
				writeUnauthorized(w, errMsg)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if errors.Is(err, store.ErrNotFound) {
				writeUnauthorized(w, "user not found")
				return
			}
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			authCtx := &AuthContext{UserID: user.ID, Email: user.Email, Name: user.Name}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

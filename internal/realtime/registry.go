// ABOUTME: Registry of live sessions and the conversations each has joined
// ABOUTME: Join/Leave/Forget keep router subscriptions consistent with session membership

package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/parley/internal/metrics"
)

var (
	// ErrUnknownSession is returned for operations on a session that is not registered.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionExists is returned when registering a session ID twice.
	ErrSessionExists = errors.New("session already registered")
)

// Registry tracks connected sessions. Its lock is always taken before the
// router's, so Forget is atomic with respect to Join and Leave.
type Registry struct {
	mu       sync.Mutex
	router   *Router
	sessions map[string]*Session
	joined   map[string]map[string]struct{} // sessionID -> conversationIDs
	buffer   int
	logger   *slog.Logger
}

// NewRegistry creates a registry whose sessions buffer up to buffer events.
func NewRegistry(router *Router, buffer int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		router:   router,
		sessions: make(map[string]*Session),
		joined:   make(map[string]map[string]struct{}),
		buffer:   buffer,
		logger:   logger.With("component", "registry"),
	}
}

// Register creates a session for userID.
func (g *Registry) Register(sessionID, userID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.sessions[sessionID]; exists {
		return nil, ErrSessionExists
	}

	s := newSession(sessionID, userID, g.buffer)
	g.sessions[sessionID] = s
	g.joined[sessionID] = make(map[string]struct{})
	metrics.ActiveSessions.Inc()

	g.logger.Debug("session registered", "session_id", sessionID, "user_id", userID)
	return s, nil
}

// Join subscribes the session to the conversation. Joining twice is a no-op.
func (g *Registry) Join(sessionID, conversationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if _, already := g.joined[sessionID][conversationID]; already {
		return nil
	}

	g.joined[sessionID][conversationID] = struct{}{}
	g.router.Subscribe(conversationID, s)
	return nil
}

// Leave unsubscribes the session from the conversation. Leaving a conversation
// that was never joined is a no-op.
func (g *Registry) Leave(sessionID, conversationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.sessions[sessionID]; !ok {
		return ErrUnknownSession
	}
	if _, joined := g.joined[sessionID][conversationID]; !joined {
		return nil
	}

	delete(g.joined[sessionID], conversationID)
	g.router.Unsubscribe(conversationID, sessionID)
	return nil
}

// Joined reports whether the session has joined the conversation.
func (g *Registry) Joined(sessionID, conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.joined[sessionID][conversationID]
	return ok
}

// Forget removes the session, unsubscribes it everywhere and closes it.
// Forgetting an unknown session is a no-op.
func (g *Registry) Forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forgetLocked(sessionID)
}

func (g *Registry) forgetLocked(sessionID string) {
	s, ok := g.sessions[sessionID]
	if !ok {
		return
	}

	for conversationID := range g.joined[sessionID] {
		g.router.Unsubscribe(conversationID, sessionID)
	}
	delete(g.joined, sessionID)
	delete(g.sessions, sessionID)
	s.close()
	metrics.ActiveSessions.Dec()

	g.logger.Debug("session forgotten", "session_id", sessionID, "user_id", s.UserID)
}

// Session looks up a registered session.
func (g *Registry) Session(sessionID string) (*Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	return s, ok
}

// Count returns the number of registered sessions.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Close forgets every session.
func (g *Registry) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id := range g.sessions {
		g.forgetLocked(id)
	}
	g.logger.Debug("registry closed")
}

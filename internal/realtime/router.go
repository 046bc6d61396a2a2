// ABOUTME: In-memory fan-out of conversation events to subscribed sessions
// ABOUTME: Tracks typing state and forwards local events to an optional cross-node relay

package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
)

// Relay forwards locally published events to other gateway nodes.
type Relay interface {
	Forward(ev *Event)
}

// Router delivers events to the sessions subscribed to a conversation.
// Delivery is best-effort and at most once: a session whose buffer is full
// misses the event, and late subscribers get no history.
type Router struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Session  // conversationID -> sessionID -> session
	typing map[string]map[string]time.Time // conversationID -> userID -> since
	relay  Relay
	logger *slog.Logger
}

// NewRouter creates a router. Pass nil logger for default.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		topics: make(map[string]map[string]*Session),
		typing: make(map[string]map[string]time.Time),
		logger: logger.With("component", "router"),
	}
}

// SetRelay attaches a cross-node relay. Call before serving traffic.
func (r *Router) SetRelay(relay Relay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relay = relay
}

// Subscribe adds the session to the conversation's subscriber set. Idempotent.
func (r *Router) Subscribe(conversationID string, s *Session) {
	r.mu.Lock()
	subs, ok := r.topics[conversationID]
	if !ok {
		subs = make(map[string]*Session)
		r.topics[conversationID] = subs
	}
	subs[s.ID] = s
	r.mu.Unlock()

	r.logger.Debug("session subscribed",
		"conversation_id", conversationID,
		"session_id", s.ID)
}

// Unsubscribe removes the session from the conversation. Idempotent. When the
// user has no other session left in the conversation and was marked typing,
// a typing(false) is published on their behalf.
func (r *Router) Unsubscribe(conversationID, sessionID string) {
	r.mu.Lock()
	subs, ok := r.topics[conversationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	s, exists := subs[sessionID]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(subs, sessionID)
	if len(subs) == 0 {
		delete(r.topics, conversationID)
	}

	clearTyping := false
	if !r.userSubscribedLocked(conversationID, s.UserID) {
		clearTyping = r.setTypingLocked(conversationID, s.UserID, false)
	}
	r.mu.Unlock()

	r.logger.Debug("session unsubscribed",
		"conversation_id", conversationID,
		"session_id", sessionID)

	if clearTyping {
		r.publish(&Event{
			Type:           EventTyping,
			ConversationID: conversationID,
			UserID:         s.UserID,
			IsTyping:       false,
			At:             time.Now().UTC(),
		})
	}
}

// PublishMessage delivers a stored message to every subscriber, the sender's
// own sessions included.
func (r *Router) PublishMessage(conversationID string, msg *store.Message) {
	r.publish(&Event{
		Type:           EventMessage,
		ConversationID: conversationID,
		Message:        msg,
		At:             msg.CreatedAt,
	})
}

// PublishRead tells every subscriber that readerID read count messages.
func (r *Router) PublishRead(conversationID, readerID string, count int64, at time.Time) {
	r.publish(&Event{
		Type:           EventRead,
		ConversationID: conversationID,
		UserID:         readerID,
		Count:          count,
		At:             at,
	})
}

// PublishTyping records the user's typing state and delivers it to every
// subscriber except the user's own sessions.
func (r *Router) PublishTyping(conversationID, userID string, isTyping bool) {
	r.mu.Lock()
	r.setTypingLocked(conversationID, userID, isTyping)
	r.mu.Unlock()

	r.publish(&Event{
		Type:           EventTyping,
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		At:             time.Now().UTC(),
	})
}

// IsTyping reports whether the user is currently marked typing in the conversation.
func (r *Router) IsTyping(conversationID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.typing[conversationID][userID]
	return ok
}

// Subscribers returns the number of sessions subscribed to the conversation.
func (r *Router) Subscribers(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[conversationID])
}

// Topics returns the number of conversations with at least one subscriber.
func (r *Router) Topics() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

func (r *Router) publish(ev *Event) {
	r.DeliverLocal(ev)

	r.mu.RLock()
	relay := r.relay
	r.mu.RUnlock()
	if relay != nil {
		relay.Forward(ev)
	}
}

// DeliverLocal fans ev out to this node's subscribers only. Relays call it
// for events that originated on other nodes.
func (r *Router) DeliverLocal(ev *Event) {
	r.mu.RLock()
	subs, ok := r.topics[ev.ConversationID]
	if !ok || len(subs) == 0 {
		r.mu.RUnlock()
		return
	}

	// Copy targets under read lock to avoid holding lock during sends
	targets := make([]*Session, 0, len(subs))
	for _, s := range subs {
		if ev.Type == EventTyping && s.UserID == ev.UserID {
			continue
		}
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if s.deliver(ev) {
			metrics.EventsDelivered.WithLabelValues(string(ev.Type)).Inc()
			continue
		}
		metrics.EventsDropped.WithLabelValues(string(ev.Type)).Inc()
		r.logger.Debug("dropped event for slow session",
			"conversation_id", ev.ConversationID,
			"session_id", s.ID,
			"type", ev.Type)
	}
}

// userSubscribedLocked must be called with mu held.
func (r *Router) userSubscribedLocked(conversationID, userID string) bool {
	for _, s := range r.topics[conversationID] {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// setTypingLocked updates typing state and reports whether it changed.
// Must be called with mu held.
func (r *Router) setTypingLocked(conversationID, userID string, isTyping bool) bool {
	users := r.typing[conversationID]
	_, was := users[userID]

	if isTyping {
		if users == nil {
			users = make(map[string]time.Time)
			r.typing[conversationID] = users
		}
		if !was {
			users[userID] = time.Now()
		}
		return !was
	}

	if !was {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.typing, conversationID)
	}
	return true
}

// ABOUTME: Live event types fanned out to websocket sessions
// ABOUTME: message and read follow committed writes; typing is ephemeral

package realtime

import (
	"time"

	"github.com/2389/parley/internal/store"
)

// EventType names a live event.
type EventType string

const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventRead    EventType = "read"
)

// Event is one unit of live delivery for a conversation.
type Event struct {
	Type           EventType
	ConversationID string

	// Message is set for EventMessage.
	Message *store.Message

	// UserID is the typing user for EventTyping and the reader for EventRead.
	UserID   string
	IsTyping bool
	Count    int64
	At       time.Time
}

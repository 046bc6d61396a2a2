// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines User, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation for the same participant pair already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateEmail is returned when a user with the same email already exists
var ErrDuplicateEmail = errors.New("email already registered")

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Avatar       *string
	CreatedAt    time.Time
}

// LastMessage is the denormalized summary of the newest message in a conversation,
// kept on the conversation so list views don't have to join messages.
type LastMessage struct {
	Text      string
	SenderID  string
	Read      bool
	CreatedAt time.Time
}

// Conversation is a durable two-party thread. Participants keeps creation order;
// PairKey is the order-independent identity of the pair and is unique in the store.
type Conversation struct {
	ID           string
	Participants [2]string
	PairKey      string
	LastMessage  *LastMessage // nil until the first message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Peer returns the other participant, or "" if userID is not a participant.
func (c *Conversation) Peer(userID string) string {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	default:
		return ""
	}
}

// Message is a single immutable text message within a conversation.
// Only Read ever changes after creation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	Read           bool
	CreatedAt      time.Time
}

// PairKey normalizes an unordered participant pair into a stable key.
func PairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// Store defines the interface for user, conversation and message persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUsers(ctx context.Context, ids []string) ([]*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUserAvatar(ctx context.Context, id, avatar string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// Messages
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// AppendMessage inserts msg and points the conversation's LastMessage and
	// UpdatedAt at it in a single transaction.
	AppendMessage(ctx context.Context, msg *Message) error

	// MarkConversationRead flips read=true on every unread message in the
	// conversation not sent by readerID, and marks LastMessage read when
	// readerID did not send it. Returns the number of messages changed.
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)

	// Ping checks that the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

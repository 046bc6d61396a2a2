// ABOUTME: Service is the write path for two-party conversations
// ABOUTME: Persists first, then publishes; every mutation runs under the per-conversation lock

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)

	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByPair(ctx context.Context, userA, userB string) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error)

	GetMessage(ctx context.Context, id string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	AppendMessage(ctx context.Context, msg *store.Message) error
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

// Publisher receives committed changes for live delivery.
type Publisher interface {
	PublishMessage(conversationID string, msg *store.Message)
	PublishRead(conversationID, readerID string, count int64, at time.Time)
}

type nopPublisher struct{}

func (nopPublisher) PublishMessage(string, *store.Message) {}
func (nopPublisher) PublishRead(string, string, int64, time.Time) {}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithDedupe enables idempotent sends keyed by SendRequest.ClientID.
func WithDedupe(c *dedupe.Cache) Option {
	return func(s *Service) {
		s.dedupe = c
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service owns conversation resolution, message sends and read receipts.
type Service struct {
	store     ConversationStore
	publisher Publisher
	locker    Locker
	dedupe    *dedupe.Cache
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a conversation Service. A nil publisher discards events.
func New(st ConversationStore, publisher Publisher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	s := &Service{
		store:     st,
		publisher: publisher,
		locker:    NewLocalLocker(),
		now:       time.Now,
		logger:    logger.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendRequest is a message submitted by a participant.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Text           string

	// ClientID is an optional client-generated idempotency key.
	ClientID string
}

// Send persists a message and publishes it to the conversation's subscribers.
//
// The message and the conversation's LastMessage summary are written in one
// store transaction under the per-conversation lock, and the stored message is
// published exactly once after the write succeeds. A retry carrying the same
// ClientID returns the original message without publishing again.
func (s *Service) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrValidation)
	}
	if req.ConversationID == "" || req.SenderID == "" {
		return nil, fmt.Errorf("%w: conversation and sender are required", ErrValidation)
	}

	if _, err := s.Authorize(ctx, req.ConversationID, req.SenderID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.ConversationID)
	if err != nil {
		return nil, s.storeError("lock conversation", err)
	}
	defer unlock()

	dedupeKey := ""
	if req.ClientID != "" && s.dedupe != nil {
		dedupeKey = req.ConversationID + "|" + req.SenderID + "|" + req.ClientID
		if id, ok := s.dedupe.Lookup(dedupeKey); ok {
			original, err := s.store.GetMessage(ctx, id)
			if err == nil {
				metrics.DuplicateSends.Inc()
				s.logger.Debug("duplicate send answered from cache",
					"conversation_id", req.ConversationID,
					"message_id", id,
					"client_id", req.ClientID)
				return original, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return nil, s.storeError("get message", err)
			}
			s.dedupe.Forget(dedupeKey)
		}
	}

	msg := &store.Message{
		ID:             ulid.Make().String(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Text:           text,
		Read:           false,
		CreatedAt:      s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, req.ConversationID)
		}
		return nil, s.storeError("append message", err)
	}

	if dedupeKey != "" {
		s.dedupe.Remember(dedupeKey, msg.ID)
	}
	metrics.MessagesSent.Inc()

	s.logger.Debug("message stored",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"sender_id", msg.SenderID)

	// Published while still holding the lock so fan-out order matches store order.
	s.publisher.PublishMessage(msg.ConversationID, msg)
	return msg, nil
}

// MarkRead marks every unread message the other participant sent as read and
// returns how many changed. It is idempotent; a read event is published only
// when something changed.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	if _, err := s.Authorize(ctx, conversationID, readerID); err != nil {
		return 0, err
	}

	unlock, err := s.locker.Lock(ctx, conversationID)
	if err != nil {
		return 0, s.storeError("lock conversation", err)
	}
	defer unlock()

	updated, err := s.store.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		return 0, s.storeError("mark read", err)
	}

	if updated > 0 {
		metrics.ReadTransitions.Add(float64(updated))
		s.publisher.PublishRead(conversationID, readerID, updated, s.now().UTC().Truncate(time.Microsecond))
	}
	return updated, nil
}

// Authorize loads the conversation and checks that userID participates in it.
func (s *Service) Authorize(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return nil, s.storeError("get conversation", err)
	}

	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conv, nil
}

// Get returns a conversation the user participates in.
func (s *Service) Get(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	return s.Authorize(ctx, conversationID, userID)
}

// List returns the user's conversations, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, s.storeError("list conversations", err)
	}
	return convs, nil
}

// Messages returns a conversation's full history in chronological order.
func (s *Service) Messages(ctx context.Context, conversationID, userID string) ([]*store.Message, error) {
	if _, err := s.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, s.storeError("list messages", err)
	}
	return msgs, nil
}

func (s *Service) storeError(op string, err error) error {
	s.logger.Error("store operation failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}

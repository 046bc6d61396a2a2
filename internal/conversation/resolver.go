// ABOUTME: Find-or-create for the unique conversation between two users
// ABOUTME: Concurrent creations for one pair converge on the single stored row

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/metrics"
	"github.com/2389/parley/internal/store"
)

// resolveRetries bounds the lookups after losing a creation race.
const resolveRetries = 3

// ResolveOrCreate returns the conversation between userA and userB, creating
// it with userA as the first participant when none exists. created reports
// whether this call inserted it.
func (s *Service) ResolveOrCreate(ctx context.Context, userA, userB string) (*store.Conversation, bool, error) {
	if userA == "" || userB == "" {
		return nil, false, fmt.Errorf("%w: both participants are required", ErrValidation)
	}
	if userA == userB {
		return nil, false, fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	}

	for _, id := range []string{userA, userB} {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, fmt.Errorf("%w: user %s", ErrNotFound, id)
			}
			return nil, false, s.storeError("get user", err)
		}
	}

	conv, err := s.store.GetConversationByPair(ctx, userA, userB)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, s.storeError("get conversation by pair", err)
	}

	now := s.now().UTC()
	conv = &store.Conversation{
		ID:           uuid.New().String(),
		Participants: [2]string{userA, userB},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.CreateConversation(ctx, conv)
	if err == nil {
		metrics.ConversationsCreated.Inc()
		s.logger.Info("conversation created", "conversation_id", conv.ID, "pair", conv.PairKey)
		return conv, true, nil
	}
	if !errors.Is(err, store.ErrDuplicateConversation) {
		return nil, false, s.storeError("create conversation", err)
	}

	// Another request created the pair between our lookup and insert.
	for attempt := 1; attempt <= resolveRetries; attempt++ {
		existing, err := s.store.GetConversationByPair(ctx, userA, userB)
		if err == nil {
			s.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, s.storeError("get conversation by pair", err)
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}

	s.logger.Error("retry lookup failed after duplicate error", "user_a", userA, "user_b", userB)
	return nil, false, fmt.Errorf("%w: conversation for %s and %s", ErrConflict, userA, userB)
}

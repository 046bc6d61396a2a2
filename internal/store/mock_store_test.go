// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on copy semantics and failure injection specific to the in-memory implementation

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedConversation(t, store, "conv-1", "alice", "bob")
	require.NoError(t, store.AppendMessage(ctx, &Message{
		ID: "m1", ConversationID: "conv-1", SenderID: "alice", Text: "hi", CreatedAt: baseTime,
	}))

	conv, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	conv.LastMessage.Text = "tampered"

	msgs, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	msgs[0].Read = true

	again, err := store.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.LastMessage.Text)

	fresh, err := store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, fresh.Read)
}

func TestMockStore_FailNext(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedConversation(t, store, "conv-1", "alice", "bob")

	boom := errors.New("disk on fire")
	store.FailNext("AppendMessage", boom)

	msg := &Message{ID: "m1", ConversationID: "conv-1", SenderID: "alice", Text: "hi", CreatedAt: baseTime}
	assert.ErrorIs(t, store.AppendMessage(ctx, msg), boom)

	// Nothing was written by the failed call.
	msgs, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// The failure is consumed after one call.
	assert.NoError(t, store.AppendMessage(ctx, msg))
}

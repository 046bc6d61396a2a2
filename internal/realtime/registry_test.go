// ABOUTME: Tests for the session Registry
// ABOUTME: Covers registration, join/leave bookkeeping, forget semantics and typing auto-clear

package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *Router) {
	router := NewRouter(nil)
	return NewRegistry(router, 8, nil), router
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	reg, _ := newTestRegistry()

	s, err := reg.Register("s-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", s.UserID)

	_, err = reg.Register("s-1", "bob")
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_UnknownSession(t *testing.T) {
	reg, _ := newTestRegistry()

	assert.ErrorIs(t, reg.Join("ghost", "conv-1"), ErrUnknownSession)
	assert.ErrorIs(t, reg.Leave("ghost", "conv-1"), ErrUnknownSession)
	assert.NotPanics(t, func() { reg.Forget("ghost") })
}

func TestRegistry_JoinLeave(t *testing.T) {
	reg, router := newTestRegistry()
	_, err := reg.Register("s-1", "alice")
	require.NoError(t, err)

	require.NoError(t, reg.Join("s-1", "conv-1"))
	require.NoError(t, reg.Join("s-1", "conv-1"))
	require.NoError(t, reg.Join("s-1", "conv-2"))
	assert.True(t, reg.Joined("s-1", "conv-1"))
	assert.Equal(t, 1, router.Subscribers("conv-1"))
	assert.Equal(t, 1, router.Subscribers("conv-2"))

	require.NoError(t, reg.Leave("s-1", "conv-1"))
	require.NoError(t, reg.Leave("s-1", "conv-1"))
	assert.False(t, reg.Joined("s-1", "conv-1"))
	assert.Equal(t, 0, router.Subscribers("conv-1"))
	assert.Equal(t, 1, router.Subscribers("conv-2"))
}

func TestRegistry_ForgetUnsubscribesEverywhereAndCloses(t *testing.T) {
	reg, router := newTestRegistry()
	s, err := reg.Register("s-1", "alice")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, reg.Join("s-1", fmt.Sprintf("conv-%d", i)))
	}

	reg.Forget("s-1")
	reg.Forget("s-1")

	assert.Equal(t, 0, router.Topics())
	assert.Equal(t, 0, reg.Count())
	_, ok := reg.Session("s-1")
	assert.False(t, ok)

	select {
	case <-s.Done():
	default:
		t.Fatal("forgotten session was not closed")
	}
	assert.False(t, s.deliver(&Event{Type: EventTyping}))

	// The ID can be reused after forgetting.
	_, err = reg.Register("s-1", "alice")
	assert.NoError(t, err)
}

func TestRegistry_ForgetWhileTypingNotifiesPeer(t *testing.T) {
	reg, router := newTestRegistry()
	_, err := reg.Register("s-alice", "alice")
	require.NoError(t, err)
	bob, err := reg.Register("s-bob", "bob")
	require.NoError(t, err)
	require.NoError(t, reg.Join("s-alice", "conv-1"))
	require.NoError(t, reg.Join("s-bob", "conv-1"))

	router.PublishTyping("conv-1", "alice", true)
	assert.True(t, receive(t, bob).IsTyping)

	reg.Forget("s-alice")

	ev := receive(t, bob)
	assert.Equal(t, EventTyping, ev.Type)
	assert.Equal(t, "alice", ev.UserID)
	assert.False(t, ev.IsTyping)
}

func TestRegistry_ConcurrentJoinForget(t *testing.T) {
	reg, router := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("s-%d", i)
		_, err := reg.Register(id, "alice")
		require.NoError(t, err)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for c := 0; c < 10; c++ {
				_ = reg.Join(id, fmt.Sprintf("conv-%d", c))
			}
		}()
		go func() {
			defer wg.Done()
			reg.Forget(id)
		}()
	}
	wg.Wait()

	// Whatever the interleaving, nothing outlives its session.
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 0, router.Topics())
}

func TestRegistry_Close(t *testing.T) {
	reg, router := newTestRegistry()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("s-%d", i)
		_, err := reg.Register(id, "alice")
		require.NoError(t, err)
		require.NoError(t, reg.Join(id, "conv-1"))
	}

	reg.Close()
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 0, router.Subscribers("conv-1"))
}

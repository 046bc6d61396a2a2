// ABOUTME: Tests for the Redis relay envelope handling
// ABOUTME: Live Redis coverage runs only when PARLEY_TEST_REDIS_URL is set

package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	msg := makeMessage("m1", "conv-1", "alice")
	msg.CreatedAt = at

	data, err := encodeEnvelope("node-a", &Event{Type: EventMessage, ConversationID: "conv-1", Message: msg, At: at})
	require.NoError(t, err)

	ev, origin, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "node-a", origin)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, "alice", ev.Message.SenderID)
	assert.True(t, ev.Message.CreatedAt.Equal(at))
}

func TestDecodeEnvelope_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{"},
		{"no conversation", `{"origin":"n","type":"typing"}`},
		{"unknown type", `{"origin":"n","type":"presence","conversationId":"c"}`},
		{"message without body", `{"origin":"n","type":"message","conversationId":"c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeEnvelope([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestRedisRelay_HandlePayloadSkipsOwnOrigin(t *testing.T) {
	router := NewRouter(nil)
	bob := newSession("s-bob", "bob", 8)
	router.Subscribe("conv-1", bob)

	relay := NewRedisRelay(nil, "", router, nil)

	own, err := encodeEnvelope(relay.NodeID(), &Event{Type: EventTyping, ConversationID: "conv-1", UserID: "alice", IsTyping: true})
	require.NoError(t, err)
	relay.handlePayload(string(own))
	assertNoEvent(t, bob)

	remote, err := encodeEnvelope("other-node", &Event{Type: EventTyping, ConversationID: "conv-1", UserID: "alice", IsTyping: true})
	require.NoError(t, err)
	relay.handlePayload(string(remote))
	ev := receive(t, bob)
	assert.Equal(t, "alice", ev.UserID)

	relay.handlePayload("garbage")
	assertNoEvent(t, bob)
}

func TestRedisRelay_TwoNodes(t *testing.T) {
	url := os.Getenv("PARLEY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PARLEY_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	channel := "parley:test:" + time.Now().Format("150405.000000000")

	routerA := NewRouter(nil)
	routerB := NewRouter(nil)
	relayA := NewRedisRelay(client, channel, routerA, nil)
	relayB := NewRedisRelay(client, channel, routerB, nil)
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))
	t.Cleanup(func() {
		relayA.Close()
		relayB.Close()
	})

	alice := newSession("s-alice", "alice", 8)
	bob := newSession("s-bob", "bob", 8)
	routerA.Subscribe("conv-1", alice)
	routerB.Subscribe("conv-1", bob)

	routerA.PublishMessage("conv-1", makeMessage("m1", "conv-1", "alice"))

	assert.Equal(t, "m1", receive(t, alice).Message.ID)
	assert.Equal(t, "m1", receive(t, bob).Message.ID)
	assertNoEvent(t, alice)
}

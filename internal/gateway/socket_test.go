// ABOUTME: Tests for the websocket live surface
// ABOUTME: Dials real sockets against httptest and checks join, typing, message and read frames

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameWait = 3 * time.Second

// wireFrame is an outbound frame with its payload left undecoded.
type wireFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func wsURL(base, token string) string {
	u := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// dial connects as the token's user and consumes the connected frame.
func dial(t *testing.T, base, token string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(base, token), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })

	connected := readFrame(t, ws)
	require.Equal(t, FrameConnected, connected.Type)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(frameWait)))
	var f wireFrame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// expectFrame reads the next frame, asserts its type and decodes its payload.
func expectFrame(t *testing.T, ws *websocket.Conn, frameType string, out any) {
	t.Helper()
	f := readFrame(t, ws)
	require.Equal(t, frameType, f.Type, "payload: %s", f.Data)
	if out != nil {
		require.NoError(t, json.Unmarshal(f.Data, out))
	}
}

func sendFrame(t *testing.T, ws *websocket.Conn, frame InboundFrame) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(frame))
}

func join(t *testing.T, ws *websocket.Conn, conversationID string) {
	t.Helper()
	sendFrame(t, ws, InboundFrame{Type: FrameJoin, ConversationID: conversationID})
	var ack AckData
	expectFrame(t, ws, FrameJoined, &ack)
	require.Equal(t, conversationID, ack.ConversationID)
}

// expectSilence asserts nothing arrives within a short window. The connection
// is unusable afterwards, so call it last.
func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var f wireFrame
	err := ws.ReadJSON(&f)
	require.Error(t, err, "unexpected frame %q: %s", f.Type, f.Data)
}

// pair registers two users with a conversation between them.
func pair(t *testing.T) (*apiClient, string, testUser, testUser, ConversationResponse) {
	t.Helper()
	_, srv := newTestServer(t)
	api := &apiClient{t: t, base: srv.URL}
	alice := registerUser(t, api, "Alice")
	bob := registerUser(t, api, "Bob")
	conv := createConversation(t, api, alice, bob, http.StatusCreated)
	return api, srv.URL, alice, bob, conv
}

func TestSocket_Connected(t *testing.T) {
	api := newAPI(t)
	alice := registerUser(t, api, "Alice")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(api.base, alice.Token), nil)
	require.NoError(t, err)
	defer ws.Close()

	var data ConnectedData
	expectFrame(t, ws, FrameConnected, &data)
	assert.Equal(t, alice.ID, data.UserID)
	assert.NotEmpty(t, data.SessionID)
}

func TestSocket_AuthorizationHeader(t *testing.T) {
	api := newAPI(t)
	alice := registerUser(t, api, "Alice")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+alice.Token)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(api.base, ""), header)
	require.NoError(t, err)
	defer ws.Close()

	var data ConnectedData
	expectFrame(t, ws, FrameConnected, &data)
	assert.Equal(t, alice.ID, data.UserID)
}

func TestSocket_RequiresToken(t *testing.T) {
	api := newAPI(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(api.base, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(api.base, "not-a-jwt"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSocket_RejectsForeignOrigin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.AllowedOrigins = []string{"https://chat.example"}
	_, srv := newTestServerWithConfig(t, cfg)
	api := &apiClient{t: t, base: srv.URL}
	alice := registerUser(t, api, "Alice")

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, alice.Token), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://chat.example")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, alice.Token), header)
	require.NoError(t, err)
	ws.Close()
}

func TestSocket_MessageFanOut(t *testing.T) {
	api, base, alice, bob, conv := pair(t)

	wsA := dial(t, base, alice.Token)
	wsB := dial(t, base, bob.Token)
	join(t, wsA, conv.ID)
	join(t, wsB, conv.ID)

	sent := sendMessage(t, api, alice, conv.ID, "hi bob")

	var got MessageResponse
	expectFrame(t, wsB, FrameMessage, &got)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hi bob", got.Text)
	assert.Equal(t, alice.ID, got.Sender)
	assert.Equal(t, conv.ID, got.Conversation)

	// The sender's own sessions receive the echo.
	var echo MessageResponse
	expectFrame(t, wsA, FrameMessage, &echo)
	assert.Equal(t, sent.ID, echo.ID)
}

func TestSocket_LeaveStopsDelivery(t *testing.T) {
	api, base, alice, bob, conv := pair(t)

	wsB := dial(t, base, bob.Token)
	join(t, wsB, conv.ID)

	sendFrame(t, wsB, InboundFrame{Type: FrameLeave, ConversationID: conv.ID})
	var ack AckData
	expectFrame(t, wsB, FrameLeft, &ack)
	assert.Equal(t, conv.ID, ack.ConversationID)

	sendMessage(t, api, alice, conv.ID, "anyone there?")
	expectSilence(t, wsB)
}

func TestSocket_Typing(t *testing.T) {
	_, base, alice, bob, conv := pair(t)

	wsA := dial(t, base, alice.Token)
	wsB := dial(t, base, bob.Token)
	join(t, wsA, conv.ID)
	join(t, wsB, conv.ID)

	sendFrame(t, wsA, InboundFrame{Type: FrameTyping, ConversationID: conv.ID, IsTyping: true})

	var typing TypingData
	expectFrame(t, wsB, FrameTyping, &typing)
	assert.Equal(t, conv.ID, typing.ConversationID)
	assert.Equal(t, alice.ID, typing.User)
	assert.True(t, typing.IsTyping)

	sendFrame(t, wsA, InboundFrame{Type: FrameTyping, ConversationID: conv.ID, IsTyping: false})
	expectFrame(t, wsB, FrameTyping, &typing)
	assert.False(t, typing.IsTyping)

	// Typing is never reflected back to the typist.
	expectSilence(t, wsA)
}

func TestSocket_DisconnectClearsTyping(t *testing.T) {
	_, base, alice, bob, conv := pair(t)

	wsA := dial(t, base, alice.Token)
	wsB := dial(t, base, bob.Token)
	join(t, wsA, conv.ID)
	join(t, wsB, conv.ID)

	sendFrame(t, wsA, InboundFrame{Type: FrameTyping, ConversationID: conv.ID, IsTyping: true})
	var typing TypingData
	expectFrame(t, wsB, FrameTyping, &typing)
	require.True(t, typing.IsTyping)

	require.NoError(t, wsA.Close())

	expectFrame(t, wsB, FrameTyping, &typing)
	assert.Equal(t, alice.ID, typing.User)
	assert.False(t, typing.IsTyping)
}

func TestSocket_ReadReceipt(t *testing.T) {
	api, base, alice, bob, conv := pair(t)

	wsA := dial(t, base, alice.Token)
	wsB := dial(t, base, bob.Token)
	join(t, wsA, conv.ID)
	join(t, wsB, conv.ID)

	sendMessage(t, api, alice, conv.ID, "read me")
	expectFrame(t, wsA, FrameMessage, nil)
	expectFrame(t, wsB, FrameMessage, nil)

	sendFrame(t, wsB, InboundFrame{Type: FrameRead, ConversationID: conv.ID})

	var read ReadData
	expectFrame(t, wsA, FrameRead, &read)
	assert.Equal(t, conv.ID, read.ConversationID)
	assert.Equal(t, bob.ID, read.Reader)
	assert.Equal(t, int64(1), read.Count)
	assert.False(t, read.ReadAt.IsZero())

	var msgs []MessageResponse
	api.as(alice.Token).doJSON(http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil, http.StatusOK, &msgs)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
}

func TestSocket_Errors(t *testing.T) {
	api, base, alice, _, conv := pair(t)
	carol := registerUser(t, api, "Carol")

	tests := []struct {
		name     string
		token    string
		raw      string
		frame    *InboundFrame
		wantCode string
	}{
		{
			name:     "non participant join",
			token:    carol.Token,
			frame:    &InboundFrame{Type: FrameJoin, ConversationID: conv.ID},
			wantCode: "forbidden",
		},
		{
			name:     "unknown conversation",
			token:    alice.Token,
			frame:    &InboundFrame{Type: FrameJoin, ConversationID: "missing"},
			wantCode: "not_found",
		},
		{
			name:     "typing before join",
			token:    alice.Token,
			frame:    &InboundFrame{Type: FrameTyping, ConversationID: conv.ID, IsTyping: true},
			wantCode: "not_joined",
		},
		{
			name:     "unknown type",
			token:    alice.Token,
			frame:    &InboundFrame{Type: "dance", ConversationID: conv.ID},
			wantCode: "unsupported_type",
		},
		{
			name:     "missing conversation id",
			token:    alice.Token,
			frame:    &InboundFrame{Type: FrameJoin},
			wantCode: "bad_request",
		},
		{
			name:     "invalid json",
			token:    alice.Token,
			raw:      "{nope",
			wantCode: "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := dial(t, base, tt.token)
			if tt.frame != nil {
				sendFrame(t, ws, *tt.frame)
			} else {
				require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.raw)))
			}

			var e ErrorData
			expectFrame(t, ws, FrameError, &e)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.NotEmpty(t, e.Error)

			// The connection survives a bad frame.
			join(t, ws, conv.ID)
		})
	}
}

func TestSocket_ForbiddenJoinSurvives(t *testing.T) {
	api, base, _, _, conv := pair(t)
	carol := registerUser(t, api, "Carol")

	ws := dial(t, base, carol.Token)
	sendFrame(t, ws, InboundFrame{Type: FrameJoin, ConversationID: conv.ID})
	var e ErrorData
	expectFrame(t, ws, FrameError, &e)
	assert.Equal(t, "forbidden", e.Code)

	sendFrame(t, ws, InboundFrame{Type: FrameRead, ConversationID: conv.ID})
	expectFrame(t, ws, FrameError, &e)
	assert.Equal(t, "forbidden", e.Code)
}

func TestSocket_ShutdownClosesSessions(t *testing.T) {
	cfg := testConfig(t)
	gw, srv := newTestServerWithConfig(t, cfg)
	api := &apiClient{t: t, base: srv.URL}
	alice := registerUser(t, api, "Alice")

	ws := dial(t, srv.URL, alice.Token)
	require.Eventually(t, func() bool { return gw.registry.Count() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Shutdown(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(frameWait)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addTestClient inserts a client directly into the hub's map, bypassing the
// register channel so tests need no Run goroutine or websocket.
func addTestClient(h *Hub, id, roomID string) *Client {
	c := &Client{
		hub:    h,
		id:     id,
		send:   make(chan []byte, 16),
		roomID: roomID,
	}
	h.mutex.Lock()
	h.clients[c] = true
	h.mutex.Unlock()
	return c
}

func drainEnvelopes(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case data := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func envelopeTypes(envs []Envelope) []string {
	types := make([]string, len(envs))
	for i, env := range envs {
		types[i] = env.Type
	}
	return types
}

func newTestHub(t *testing.T) (*Hub, *fakeStore) {
	t.Helper()
	svc, store, _ := newTestRoomService(testMatch(1, "SOLO"), testMatch(2, "SIMULTANEOUS"))
	return NewHub(svc), store
}

func TestBroadcastIsScopedToRoom(t *testing.T) {
	hub, _ := newTestHub(t)

	inRoom := addTestClient(hub, "c1", "room_1")
	alsoIn := addTestClient(hub, "c2", "room_1")
	elsewhere := addTestClient(hub, "c3", "room_2")
	unjoined := addTestClient(hub, "c4", "")

	hub.Broadcast("room_1", "move-made", map[string]int{"row": 1})

	assert.Equal(t, []string{"move-made"}, envelopeTypes(drainEnvelopes(t, inRoom)))
	assert.Equal(t, []string{"move-made"}, envelopeTypes(drainEnvelopes(t, alsoIn)))
	assert.Empty(t, drainEnvelopes(t, elsewhere))
	assert.Empty(t, drainEnvelopes(t, unjoined))
}

func TestEmitToReachesOneConnection(t *testing.T) {
	hub, _ := newTestHub(t)

	target := addTestClient(hub, "c1", "room_1")
	bystander := addTestClient(hub, "c2", "room_1")

	hub.EmitTo("c1", "hint-provided", Hint{Row: 0, Col: 0, Value: 5})
	hub.EmitTo("missing", "hint-provided", nil) // unknown id is a no-op

	envs := drainEnvelopes(t, target)
	require.Len(t, envs, 1)
	assert.Equal(t, "hint-provided", envs[0].Type)
	assert.Empty(t, drainEnvelopes(t, bystander))
}

func TestBroadcastDropsOnFullBuffer(t *testing.T) {
	hub, _ := newTestHub(t)

	c := addTestClient(hub, "c1", "room_1")
	for i := 0; i < cap(c.send); i++ {
		c.send <- []byte("{}")
	}

	// must not block
	hub.Broadcast("room_1", "game-state", nil)
	assert.Len(t, c.send, cap(c.send))
}

func TestDispatchRequiresSession(t *testing.T) {
	hub, _ := newTestHub(t)
	c := addTestClient(hub, "c1", "")

	hub.dispatch(c, inboundMessage{Type: "make-move", Payload: json.RawMessage(`{"row":0,"col":0,"value":1}`)})

	envs := drainEnvelopes(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, "error", envs[0].Type)
}

func TestDispatchBlocksSpectatorMutations(t *testing.T) {
	hub, _ := newTestHub(t)
	c := addTestClient(hub, "c1", "room_1")
	c.matchID = 1
	c.isSpectator = true

	for _, event := range []string{"make-move", "request-hint", "set-ready", "surrender", "send-message"} {
		hub.dispatch(c, inboundMessage{Type: event, Payload: json.RawMessage(`{}`)})

		envs := drainEnvelopes(t, c)
		require.Len(t, envs, 1, "event %s", event)
		assert.Equal(t, "error", envs[0].Type, "event %s", event)
	}

	// watching is still allowed
	hub.dispatch(c, inboundMessage{Type: "request-game-state"})
	envs := drainEnvelopes(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, "game-state", envs[0].Type)

	hub.dispatch(c, inboundMessage{Type: "ping"})
	envs = drainEnvelopes(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, "pong", envs[0].Type)
}

func TestDispatchIgnoresUnknownType(t *testing.T) {
	hub, _ := newTestHub(t)
	c := addTestClient(hub, "c1", "room_1")

	hub.dispatch(c, inboundMessage{Type: "no-such-event"})
	assert.Empty(t, drainEnvelopes(t, c))
}

func TestPingWithoutSession(t *testing.T) {
	hub, _ := newTestHub(t)
	c := addTestClient(hub, "c1", "")

	hub.dispatch(c, inboundMessage{Type: "ping"})

	envs := drainEnvelopes(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, "pong", envs[0].Type)
}

func TestJoinGameBindsSessionAndSendsState(t *testing.T) {
	hub, _ := newTestHub(t)
	c := addTestClient(hub, "c1", "")

	hub.dispatch(c, inboundMessage{
		Type:    "join-game",
		Payload: json.RawMessage(`{"matchId":1,"userId":1,"playerName":"Alice"}`),
	})

	assert.Equal(t, "room_1", c.roomID)
	assert.Equal(t, uint(1), c.matchID)
	assert.Equal(t, uint(1), c.userID)

	types := envelopeTypes(drainEnvelopes(t, c))
	assert.Contains(t, types, "game-state")
	assert.NotContains(t, types, "error")
}

func TestJoinGameRejectsSecondRoom(t *testing.T) {
	hub, _ := newTestHub(t)
	c := addTestClient(hub, "c1", "")

	hub.dispatch(c, inboundMessage{
		Type:    "join-game",
		Payload: json.RawMessage(`{"matchId":1,"userId":1,"playerName":"Alice"}`),
	})
	drainEnvelopes(t, c)

	hub.dispatch(c, inboundMessage{
		Type:    "join-game",
		Payload: json.RawMessage(`{"matchId":2,"userId":1,"playerName":"Alice"}`),
	})

	envs := drainEnvelopes(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, "error", envs[0].Type)
	assert.Equal(t, "room_1", c.roomID, "session still bound to the first room")
}

func TestJoinGameRejectsBadPayload(t *testing.T) {
	hub, _ := newTestHub(t)
	c := addTestClient(hub, "c1", "")

	for _, payload := range []string{`garbage`, `{"matchId":0,"userId":1}`, `{"matchId":1,"userId":0}`} {
		hub.dispatch(c, inboundMessage{Type: "join-game", Payload: json.RawMessage(payload)})
	}

	envs := drainEnvelopes(t, c)
	require.Len(t, envs, 3)
	for _, env := range envs {
		assert.Equal(t, "error", env.Type)
	}
	assert.Empty(t, c.roomID)
}

func TestMakeMoveFailureGoesBackAsMoveInvalid(t *testing.T) {
	hub, _ := newTestHub(t)
	c := addTestClient(hub, "c1", "")

	hub.dispatch(c, inboundMessage{
		Type:    "join-game",
		Payload: json.RawMessage(`{"matchId":1,"userId":1,"playerName":"Alice"}`),
	})
	drainEnvelopes(t, c)

	// room is still WAITING, so the move is rejected
	hub.dispatch(c, inboundMessage{
		Type:    "make-move",
		Payload: json.RawMessage(`{"row":0,"col":0,"value":5}`),
	})

	envs := drainEnvelopes(t, c)
	require.Len(t, envs, 1)
	assert.Equal(t, "move-invalid", envs[0].Type)
}

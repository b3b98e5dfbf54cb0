package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHub sets up a Hub with a test HTTP server that upgrades connections and
// registers them under the conn id passed in the query string.
func testHub(t *testing.T) (*Hub, func(connID uuid.UUID) *ws.Conn) {
	t.Helper()

	hub := NewHub(clockwork.NewRealClock())
	t.Cleanup(func() { hub.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connID := uuid.MustParse(r.URL.Query().Get("conn"))
		hub.Register(connID, conn)
	}))
	t.Cleanup(server.Close)

	dial := func(connID uuid.UUID) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?conn=" + connID.String()
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return hub, dial
}

// waitForRoomSize polls until the hub reports the expected room size.
func waitForRoomSize(hub *Hub, roomID string, expected int) bool {
	for i := 0; i < 100; i++ {
		if hub.RoomSize(roomID) == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func readFrame(t *testing.T, conn *ws.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, json.Unmarshal(msg, &f))
	return f
}

func expectSilence(t *testing.T, conn *ws.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no message")
}

func TestHub_SendTo(t *testing.T) {
	hub, dial := testHub(t)
	connID := uuid.New()

	conn := dial(connID)
	require.True(t, waitForClients(hub, 1))

	hub.SendTo(connID, "room_state", map[string]any{"historyIndex": -1})

	f := readFrame(t, conn)
	assert.Equal(t, "room_state", f.Event)
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	hub, dial := testHub(t)
	idA, idB := uuid.New(), uuid.New()

	connA := dial(idA)
	connB := dial(idB)
	require.True(t, waitForClients(hub, 2))

	hub.JoinRoom(idA, "r1")
	hub.JoinRoom(idB, "r1")
	require.True(t, waitForRoomSize(hub, "r1", 2))

	hub.BroadcastToRoom("r1", "drawing", map[string]any{"tool": "pen"}, idA)

	f := readFrame(t, connB)
	assert.Equal(t, "drawing", f.Event)
	expectSilence(t, connA)
}

func TestHub_BroadcastToWholeRoom(t *testing.T) {
	hub, dial := testHub(t)
	idA, idB := uuid.New(), uuid.New()

	connA := dial(idA)
	connB := dial(idB)
	require.True(t, waitForClients(hub, 2))

	hub.JoinRoom(idA, "r1")
	hub.JoinRoom(idB, "r1")
	require.True(t, waitForRoomSize(hub, "r1", 2))

	hub.BroadcastToRoom("r1", "action", map[string]any{"action": "undo"}, uuid.Nil)

	for _, conn := range []*ws.Conn{connA, connB} {
		f := readFrame(t, conn)
		assert.Equal(t, "action", f.Event)
	}
}

func TestHub_BroadcastStaysInRoom(t *testing.T) {
	hub, dial := testHub(t)
	idA, idB := uuid.New(), uuid.New()

	_ = dial(idA)
	connB := dial(idB)
	require.True(t, waitForClients(hub, 2))

	hub.JoinRoom(idA, "r1")
	hub.JoinRoom(idB, "r2")
	require.True(t, waitForRoomSize(hub, "r1", 1))
	require.True(t, waitForRoomSize(hub, "r2", 1))

	hub.BroadcastToRoom("r1", "drawing", map[string]any{}, uuid.Nil)

	expectSilence(t, connB)
}

func TestHub_LeaveRoomStopsDelivery(t *testing.T) {
	hub, dial := testHub(t)
	idA := uuid.New()

	connA := dial(idA)
	require.True(t, waitForClients(hub, 1))

	hub.JoinRoom(idA, "r1")
	require.True(t, waitForRoomSize(hub, "r1", 1))

	hub.LeaveRoom(idA, "r1")
	require.True(t, waitForRoomSize(hub, "r1", 0))

	hub.BroadcastToRoom("r1", "drawing", map[string]any{}, uuid.Nil)
	expectSilence(t, connA)
}

func TestHub_UnregisterRemovesFromRoom(t *testing.T) {
	hub, dial := testHub(t)
	idA := uuid.New()

	dial(idA)
	require.True(t, waitForClients(hub, 1))

	hub.JoinRoom(idA, "r1")
	require.True(t, waitForRoomSize(hub, "r1", 1))

	hub.Unregister(idA)
	require.True(t, waitForRoomSize(hub, "r1", 0))
	require.True(t, waitForClients(hub, 0))
}

func waitForClients(hub *Hub, expected int) bool {
	for i := 0; i < 100; i++ {
		if hub.ClientCount() == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

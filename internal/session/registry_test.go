package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchroom/internal/domain"
)

// fakeTransport records everything the registry sends. Safe for concurrent
// use: the registry goroutine writes, the test goroutine reads.
type fakeTransport struct {
	mu     sync.Mutex
	sends  []sentMessage
	casts  []broadcastMessage
	joins  []membership
	leaves []membership
}

type sentMessage struct {
	connID uuid.UUID
	event  string
	data   any
}

type broadcastMessage struct {
	roomID  string
	event   string
	data    any
	exclude uuid.UUID
}

type membership struct {
	connID uuid.UUID
	roomID string
}

func (f *fakeTransport) JoinRoom(connID uuid.UUID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, membership{connID, roomID})
}

func (f *fakeTransport) LeaveRoom(connID uuid.UUID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, membership{connID, roomID})
}

func (f *fakeTransport) SendTo(connID uuid.UUID, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentMessage{connID, event, data})
}

func (f *fakeTransport) BroadcastToRoom(roomID string, event string, data any, exclude uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casts = append(f.casts, broadcastMessage{roomID, event, data, exclude})
}

func (f *fakeTransport) sentTo(connID uuid.UUID, event string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sends {
		if m.connID == connID && m.event == event {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) broadcasts(event string) []broadcastMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcastMessage
	for _, m := range f.casts {
		if m.event == event {
			out = append(out, m)
		}
	}
	return out
}

// testRegistry builds a registry on a fake clock and transport.
func testRegistry(t *testing.T) (*Registry, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	r := NewRegistry(transport, clockwork.NewFakeClock(), domain.ConflictPreserve, 0)
	t.Cleanup(r.Stop)
	return r, transport
}

// sync flushes the registry's command queue: queries share the command
// channel, so a reply guarantees every earlier command has been processed.
func (r *Registry) sync() {
	r.RoomCount()
}

func join(r *Registry, connID uuid.UUID, userID, username, roomID string) {
	r.Dispatch(connID, domain.Join{UserID: userID, Username: username, Color: "#ff0000", RoomID: roomID})
}

func draw(r *Registry, connID uuid.UUID, roomID string, ts int64) {
	r.Dispatch(connID, domain.Drawing{
		RoomID:    roomID,
		Kind:      domain.KindDraw,
		Timestamp: ts,
		Raw:       json.RawMessage(`{"type":"draw","tool":"pen"}`),
	})
}

func TestRegistry_JoinCreatesRoomAndRepliesRoomState(t *testing.T) {
	r, transport := testRegistry(t)
	connA := uuid.New()

	join(r, connA, "a", "alice", "r1")
	r.sync()

	assert.Equal(t, 1, r.RoomCount())

	replies := transport.sentTo(connA, domain.EventRoomState)
	require.Len(t, replies, 1)
	state := replies[0].data.(domain.RoomStateData)
	assert.Equal(t, 0, state.HistoryLength)
	assert.Equal(t, -1, state.HistoryIndex)
	require.Len(t, state.Users, 1)
	assert.Equal(t, "alice", state.Users[0].Username)
}

func TestRegistry_JoinBroadcastsFullRosterToOthers(t *testing.T) {
	r, transport := testRegistry(t)
	connA, connB := uuid.New(), uuid.New()

	join(r, connA, "a", "alice", "r1")
	join(r, connB, "b", "bob", "r1")
	r.sync()

	joined := transport.broadcasts(domain.EventUserJoined)
	require.Len(t, joined, 2)

	// Bob's join excludes bob and carries the complete roster, not a delta.
	last := joined[1]
	assert.Equal(t, connB, last.exclude)
	data := last.data.(domain.UserJoinedData)
	assert.Equal(t, "bob", data.User.Username)
	require.Len(t, data.Users, 2)
}

func TestRegistry_DrawingRelayExcludesSender(t *testing.T) {
	r, transport := testRegistry(t)
	connA, connB := uuid.New(), uuid.New()

	join(r, connA, "a", "alice", "r1")
	join(r, connB, "b", "bob", "r1")
	draw(r, connA, "r1", 0)
	r.sync()

	drawings := transport.broadcasts(domain.EventDrawing)
	require.Len(t, drawings, 1)
	assert.Equal(t, "r1", drawings[0].roomID)
	assert.Equal(t, connA, drawings[0].exclude, "sender must not receive its own echo")

	require.Len(t, r.RoomHistory("r1"), 1)
}

func TestRegistry_UndoWithEmptyHistoryBroadcastsNothing(t *testing.T) {
	r, transport := testRegistry(t)
	connA := uuid.New()

	join(r, connA, "a", "alice", "r1")
	r.Dispatch(connA, domain.Action{RoomID: "r1", UserID: "a", Name: domain.ActionUndo})
	r.sync()

	assert.Empty(t, transport.broadcasts(domain.EventAction))
}

func TestRegistry_UndoBroadcastsToWholeRoomIncludingSender(t *testing.T) {
	r, transport := testRegistry(t)
	connA, connB := uuid.New(), uuid.New()

	join(r, connA, "a", "alice", "r1")
	join(r, connB, "b", "bob", "r1")
	draw(r, connA, "r1", 0)
	r.Dispatch(connA, domain.Action{RoomID: "r1", UserID: "a", Name: domain.ActionUndo})
	r.sync()

	actions := transport.broadcasts(domain.EventAction)
	require.Len(t, actions, 1)
	assert.Equal(t, uuid.Nil, actions[0].exclude, "action relays include the sender")

	data := actions[0].data.(domain.ActionData)
	assert.Equal(t, domain.ActionUndo, data.Action)
	assert.Equal(t, "a", data.UserID)
	assert.Equal(t, -1, data.HistoryIndex)
}

func TestRegistry_RedoPastTailIsSilentlyDropped(t *testing.T) {
	r, transport := testRegistry(t)
	connA := uuid.New()

	join(r, connA, "a", "alice", "r1")
	draw(r, connA, "r1", 0)
	r.Dispatch(connA, domain.Action{RoomID: "r1", UserID: "a", Name: domain.ActionRedo})
	r.sync()

	assert.Empty(t, transport.broadcasts(domain.EventAction))
}

func TestRegistry_ClearResetsHistory(t *testing.T) {
	r, transport := testRegistry(t)
	connA := uuid.New()

	join(r, connA, "a", "alice", "r1")
	draw(r, connA, "r1", 0)
	draw(r, connA, "r1", 0)
	r.Dispatch(connA, domain.Action{RoomID: "r1", UserID: "a", Name: domain.ActionClear})
	r.sync()

	actions := transport.broadcasts(domain.EventAction)
	require.Len(t, actions, 1)
	data := actions[0].data.(domain.ActionData)
	assert.Equal(t, domain.ActionClear, data.Action)
	assert.Equal(t, -1, data.HistoryIndex)
	assert.Empty(t, r.RoomHistory("r1"))
}

func TestRegistry_CursorUpdateIsStatelessRelay(t *testing.T) {
	r, transport := testRegistry(t)
	connA := uuid.New()
	raw := json.RawMessage(`{"x":10,"y":20,"userId":"a"}`)

	join(r, connA, "a", "alice", "r1")
	r.Dispatch(connA, domain.CursorUpdate{RoomID: "r1", UserID: "a", Raw: raw})
	r.sync()

	cursors := transport.broadcasts(domain.EventCursorUpdate)
	require.Len(t, cursors, 1)
	assert.Equal(t, connA, cursors[0].exclude)
	assert.Equal(t, raw, cursors[0].data)
}

func TestRegistry_EventsFromUnjoinedConnectionAreDropped(t *testing.T) {
	r, transport := testRegistry(t)
	stranger := uuid.New()

	r.Dispatch(stranger, domain.CursorUpdate{RoomID: "r1", Raw: json.RawMessage(`{}`)})
	r.Dispatch(stranger, domain.Drawing{RoomID: "r1", Kind: domain.KindDraw, Raw: json.RawMessage(`{}`)})
	r.Dispatch(stranger, domain.Action{RoomID: "r1", Name: domain.ActionUndo})
	r.sync()

	assert.Empty(t, transport.casts)
	assert.Empty(t, transport.sends)
}

func TestRegistry_DrawingToVanishedRoomIsDropped(t *testing.T) {
	r, transport := testRegistry(t)
	connA := uuid.New()

	join(r, connA, "a", "alice", "r1")
	// The room named by the event no longer exists (deletion raced the draw).
	draw(r, connA, "gone", 0)
	r.sync()

	assert.Empty(t, transport.broadcasts(domain.EventDrawing))
}

func TestRegistry_DisconnectOfSoleMemberDeletesRoom(t *testing.T) {
	r, transport := testRegistry(t)
	connA := uuid.New()

	join(r, connA, "a", "alice", "r1")
	draw(r, connA, "r1", 0)
	r.Disconnect(connA)
	r.sync()

	assert.Equal(t, 0, r.RoomCount())
	assert.Empty(t, transport.broadcasts(domain.EventUserLeft), "no retention, no farewell to an empty room")

	// A fresh join must see a fresh, empty log. No leaked history.
	connB := uuid.New()
	join(r, connB, "b", "bob", "r1")
	r.sync()

	replies := transport.sentTo(connB, domain.EventRoomState)
	require.Len(t, replies, 1)
	state := replies[0].data.(domain.RoomStateData)
	assert.Equal(t, 0, state.HistoryLength)
	assert.Equal(t, -1, state.HistoryIndex)
}

func TestRegistry_RequestStateAfterRoomRecreation(t *testing.T) {
	r, transport := testRegistry(t)
	connA := uuid.New()

	join(r, connA, "a", "alice", "r2")
	r.Disconnect(connA)

	connB := uuid.New()
	join(r, connB, "b", "bob", "r2")
	r.Dispatch(connB, domain.RequestState{RoomID: "r2"})
	r.sync()

	replies := transport.sentTo(connB, domain.EventCanvasState)
	require.Len(t, replies, 1)
	state := replies[0].data.(domain.CanvasStateData)
	assert.Nil(t, state.ImageData, "no stale session data from the previous occupant")
	assert.Equal(t, 0, state.HistoryLength)
	assert.Equal(t, -1, state.HistoryIndex)
}

func TestRegistry_DisconnectBroadcastsUserLeftWithRemainingRoster(t *testing.T) {
	r, transport := testRegistry(t)
	connA, connB := uuid.New(), uuid.New()

	join(r, connA, "a", "alice", "r1")
	join(r, connB, "b", "bob", "r1")
	r.Disconnect(connA)
	r.sync()

	lefts := transport.broadcasts(domain.EventUserLeft)
	require.Len(t, lefts, 1)
	data := lefts[0].data.(domain.UserLeftData)
	assert.Equal(t, "a", data.User.ID)
	require.Len(t, data.Users, 1)
	assert.Equal(t, "bob", data.Users[0].Username)
}

func TestRegistry_OutOfOrderDrawingIsInsertedByTimestamp(t *testing.T) {
	r, _ := testRegistry(t)
	connA, connB := uuid.New(), uuid.New()

	join(r, connA, "a", "alice", "r1")
	join(r, connB, "b", "bob", "r1")

	// Bob's stroke was made earlier but arrives second.
	draw(r, connA, "r1", 2000)
	draw(r, connB, "r1", 1000)
	r.sync()

	ops := r.RoomHistory("r1")
	require.Len(t, ops, 2)
	assert.Equal(t, int64(1000), ops[0].Timestamp)
	assert.Equal(t, int64(2000), ops[1].Timestamp)
}

func TestRegistry_RoomFullRejectsJoinSilently(t *testing.T) {
	transport := &fakeTransport{}
	r := NewRegistry(transport, clockwork.NewFakeClock(), domain.ConflictPreserve, 1)
	t.Cleanup(r.Stop)

	connA, connB := uuid.New(), uuid.New()
	join(r, connA, "a", "alice", "r1")
	join(r, connB, "b", "bob", "r1")
	r.sync()

	users := r.RoomUsers("r1")
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
	assert.Empty(t, transport.sentTo(connB, domain.EventRoomState))
}

func TestRegistry_RejoinMovesConnectionToNewRoom(t *testing.T) {
	r, _ := testRegistry(t)
	connA := uuid.New()

	join(r, connA, "a", "alice", "r1")
	join(r, connA, "a", "alice", "r2")
	r.sync()

	// One live user per connection: r1 emptied and died, r2 exists.
	assert.Equal(t, 1, r.RoomCount())
	assert.Nil(t, r.RoomUsers("r1"))
	require.Len(t, r.RoomUsers("r2"), 1)
}

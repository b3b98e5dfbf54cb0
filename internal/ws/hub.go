// Package ws implements the connection-layer transport using the actor pattern.
//
// The Hub owns every registered WebSocket connection and the room broadcast
// groups. Uses single goroutine + command channel (no mutexes). Per-connection
// write goroutines handle slow clients gracefully.
package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"sketchroom/internal/metrics"
)

const stopTimeout = 10 * time.Second

// frame is the wire envelope for every outbound message.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connID uuid.UUID
	conn   *websocket.Conn
}

type unregisterCmd struct {
	baseHubCmd
	connID uuid.UUID
}

type joinRoomCmd struct {
	baseHubCmd
	connID uuid.UUID
	roomID string
}

type leaveRoomCmd struct {
	baseHubCmd
	connID uuid.UUID
	roomID string
}

type sendToCmd struct {
	baseHubCmd
	connID uuid.UUID
	data   []byte
}

type broadcastCmd struct {
	baseHubCmd
	roomID  string
	data    []byte
	exclude uuid.UUID
}

type clientCountCmd struct {
	baseHubCmd
	replyCh chan int
}

type roomSizeCmd struct {
	baseHubCmd
	roomID  string
	replyCh chan int
}

type stopHubCmd struct {
	baseHubCmd
}

// Hub routes outbound messages to connections and room broadcast groups. It
// implements the registry's Transport interface. Delivery per connection is
// ordered (one writer goroutine per connection); nothing is ordered across
// connections.
type Hub struct {
	cmdCh    chan hubCmd
	clock    clockwork.Clock
	conns    map[uuid.UUID]*clientWriter
	rooms    map[string]map[uuid.UUID]*clientWriter
	connRoom map[uuid.UUID]string
	done     chan struct{}
}

// NewHub creates a hub and starts its goroutine.
func NewHub(clock clockwork.Clock) *Hub {
	h := &Hub{
		cmdCh:    make(chan hubCmd, 256),
		clock:    clock,
		conns:    make(map[uuid.UUID]*clientWriter),
		rooms:    make(map[string]map[uuid.UUID]*clientWriter),
		connRoom: make(map[uuid.UUID]string),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// Register adds a connection under its server-assigned id.
func (h *Hub) Register(connID uuid.UUID, conn *websocket.Conn) {
	h.cmdCh <- registerCmd{connID: connID, conn: conn}
}

// Unregister stops the connection's writer and removes it everywhere.
func (h *Hub) Unregister(connID uuid.UUID) {
	h.cmdCh <- unregisterCmd{connID: connID}
}

// JoinRoom subscribes the connection to a room's broadcast group.
func (h *Hub) JoinRoom(connID uuid.UUID, roomID string) {
	h.cmdCh <- joinRoomCmd{connID: connID, roomID: roomID}
}

// LeaveRoom unsubscribes the connection from a room's broadcast group.
func (h *Hub) LeaveRoom(connID uuid.UUID, roomID string) {
	h.cmdCh <- leaveRoomCmd{connID: connID, roomID: roomID}
}

// SendTo delivers one event to a single connection.
func (h *Hub) SendTo(connID uuid.UUID, event string, data any) {
	payload, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		slog.Error("Failed to marshal message", "event", event, "error", err)
		return
	}
	h.cmdCh <- sendToCmd{connID: connID, data: payload}
}

// BroadcastToRoom delivers one event to every member of a room except
// exclude; uuid.Nil excludes nobody.
func (h *Hub) BroadcastToRoom(roomID string, event string, data any, exclude uuid.UUID) {
	payload, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		slog.Error("Failed to marshal broadcast message", "event", event, "error", err)
		return
	}
	h.cmdCh <- broadcastCmd{roomID: roomID, data: payload, exclude: exclude}
}

// ClientCount returns the number of registered connections, or -1 on timeout.
func (h *Hub) ClientCount() int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{replyCh: replyCh}

	timer := h.clock.NewTimer(5 * time.Second)
	defer timer.Stop()

	select {
	case n := <-replyCh:
		return n
	case <-timer.Chan():
		return -1
	}
}

// RoomSize returns the number of connections in a room's broadcast group,
// or -1 on timeout.
func (h *Hub) RoomSize(roomID string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- roomSizeCmd{roomID: roomID, replyCh: replyCh}

	timer := h.clock.NewTimer(5 * time.Second)
	defer timer.Stop()

	select {
	case n := <-replyCh:
		return n
	case <-timer.Chan():
		return -1
	}
}

// Stop closes every connection and shuts the hub down. Blocks until the hub
// goroutine has exited or the stop timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopHubCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c.connID)
		case joinRoomCmd:
			h.handleJoinRoom(c)
		case leaveRoomCmd:
			h.handleLeaveRoom(c.connID, c.roomID)
		case sendToCmd:
			h.handleSendTo(c)
		case broadcastCmd:
			h.handleBroadcast(c)
		case clientCountCmd:
			c.replyCh <- len(h.conns)
		case roomSizeCmd:
			c.replyCh <- len(h.rooms[c.roomID])
		case stopHubCmd:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	if old, ok := h.conns[c.connID]; ok {
		old.stop()
	}
	h.conns[c.connID] = newClientWriter(c.conn, h.clock)
	metrics.HubConnectedClients.Set(float64(len(h.conns)))
	slog.Debug("Connection registered", "conn_id", c.connID.String(), "total_clients", len(h.conns))
}

func (h *Hub) handleUnregister(connID uuid.UUID) {
	cw, ok := h.conns[connID]
	if !ok {
		return
	}
	cw.stop()
	delete(h.conns, connID)
	if roomID, ok := h.connRoom[connID]; ok {
		h.handleLeaveRoom(connID, roomID)
	}
	metrics.HubConnectedClients.Set(float64(len(h.conns)))
	slog.Debug("Connection unregistered", "conn_id", connID.String(), "total_clients", len(h.conns))
}

func (h *Hub) handleJoinRoom(c joinRoomCmd) {
	cw, ok := h.conns[c.connID]
	if !ok {
		return
	}
	// A connection belongs to at most one room.
	if prev, ok := h.connRoom[c.connID]; ok && prev != c.roomID {
		h.handleLeaveRoom(c.connID, prev)
	}
	members, ok := h.rooms[c.roomID]
	if !ok {
		members = make(map[uuid.UUID]*clientWriter)
		h.rooms[c.roomID] = members
	}
	members[c.connID] = cw
	h.connRoom[c.connID] = c.roomID
}

func (h *Hub) handleLeaveRoom(connID uuid.UUID, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	delete(h.connRoom, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) handleSendTo(c sendToCmd) {
	cw, ok := h.conns[c.connID]
	if !ok {
		return
	}
	select {
	case cw.sendCh <- c.data:
	default:
		slog.Warn("Disconnecting slow client", "conn_id", c.connID.String())
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(c.connID)
	}
}

func (h *Hub) handleBroadcast(c broadcastCmd) {
	members, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	start := h.clock.Now()

	var slow []uuid.UUID
	for connID, cw := range members {
		if connID == c.exclude {
			continue
		}
		select {
		case cw.sendCh <- c.data:
		default:
			slow = append(slow, connID)
		}
	}

	for _, connID := range slow {
		slog.Warn("Disconnecting slow client", "room_id", c.roomID, "conn_id", connID.String())
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(connID)
	}

	metrics.HubBroadcastDuration.Observe(h.clock.Since(start).Seconds())
}

func (h *Hub) handleStop() {
	slog.Info("Hub shutting down", "rooms", len(h.rooms), "total_clients", len(h.conns))
	for connID, cw := range h.conns {
		cw.stopGraceful("Server shutting down")
		delete(h.conns, connID)
	}
	h.rooms = make(map[string]map[uuid.UUID]*clientWriter)
	h.connRoom = make(map[uuid.UUID]string)
	metrics.HubConnectedClients.Set(0)
}

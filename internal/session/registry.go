// Package session implements the room/user registry using the actor pattern.
//
// One goroutine owns all rooms and users and processes each inbound event to
// completion before the next, which is the mutual-exclusion model for room
// state: no locks, no interleaving mid-mutation. Everything the registry sends
// back out goes through the Transport interface.
package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"sketchroom/internal/domain"
	"sketchroom/internal/history"
	"sketchroom/internal/metrics"
)

const commandTimeout = 5 * time.Second

// Transport is what the registry needs from the connection layer. Delivery is
// reliable and ordered per connection; nothing is guaranteed across
// connections. All methods are fire-and-forget except where documented.
type Transport interface {
	JoinRoom(connID uuid.UUID, roomID string)
	LeaveRoom(connID uuid.UUID, roomID string)
	SendTo(connID uuid.UUID, event string, data any)
	// BroadcastToRoom delivers to every room member except exclude;
	// uuid.Nil excludes nobody.
	BroadcastToRoom(roomID string, event string, data any, exclude uuid.UUID)
}

// --- Command types ---

type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type joinCmd struct {
	baseRegistryCmd
	connID uuid.UUID
	ev     domain.Join
}

type requestStateCmd struct {
	baseRegistryCmd
	connID uuid.UUID
	ev     domain.RequestState
}

type cursorUpdateCmd struct {
	baseRegistryCmd
	connID uuid.UUID
	ev     domain.CursorUpdate
}

type drawingCmd struct {
	baseRegistryCmd
	connID uuid.UUID
	ev     domain.Drawing
}

type actionCmd struct {
	baseRegistryCmd
	connID uuid.UUID
	ev     domain.Action
}

type disconnectCmd struct {
	baseRegistryCmd
	connID uuid.UUID
}

type roomCountCmd struct {
	baseRegistryCmd
	replyCh chan int
}

type roomUsersCmd struct {
	baseRegistryCmd
	roomID  string
	replyCh chan []domain.RosterEntry
}

type roomHistoryCmd struct {
	baseRegistryCmd
	roomID  string
	replyCh chan []domain.Operation
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry owns the set of rooms and users and routes every inbound event to
// the right room's history log, deciding what to broadcast to whom.
type Registry struct {
	cmdCh          chan registryCmd
	transport      Transport
	clock          clockwork.Clock
	conflictPolicy domain.ConflictPolicy
	maxPerRoom     int
	rooms          map[string]*room
	users          map[uuid.UUID]*domain.User
	done           chan struct{}
}

// NewRegistry creates a registry and starts its event goroutine.
// maxPerRoom caps room membership (0 means unlimited).
func NewRegistry(transport Transport, clock clockwork.Clock, conflictPolicy domain.ConflictPolicy, maxPerRoom int) *Registry {
	r := &Registry{
		cmdCh:          make(chan registryCmd, 256),
		transport:      transport,
		clock:          clock,
		conflictPolicy: conflictPolicy,
		maxPerRoom:     maxPerRoom,
		rooms:          make(map[string]*room),
		users:          make(map[uuid.UUID]*domain.User),
		done:           make(chan struct{}),
	}
	go r.run()
	return r
}

// Dispatch routes one decoded inbound event. The switch is exhaustive over
// the closed event union; an unhandled type is a programming error.
func (r *Registry) Dispatch(connID uuid.UUID, ev domain.Inbound) {
	switch e := ev.(type) {
	case domain.Join:
		r.cmdCh <- joinCmd{connID: connID, ev: e}
	case domain.RequestState:
		r.cmdCh <- requestStateCmd{connID: connID, ev: e}
	case domain.CursorUpdate:
		r.cmdCh <- cursorUpdateCmd{connID: connID, ev: e}
	case domain.Drawing:
		r.cmdCh <- drawingCmd{connID: connID, ev: e}
	case domain.Action:
		r.cmdCh <- actionCmd{connID: connID, ev: e}
	default:
		panic("session: unhandled inbound event type")
	}
}

// Disconnect removes the connection's user and tears down its room if empty.
func (r *Registry) Disconnect(connID uuid.UUID) {
	r.cmdCh <- disconnectCmd{connID: connID}
}

// RoomCount returns the number of live rooms, or -1 if the registry did not
// answer within the command timeout.
func (r *Registry) RoomCount() int {
	replyCh := make(chan int, 1)
	r.cmdCh <- roomCountCmd{replyCh: replyCh}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-replyCh:
		return n
	case <-timer.Chan():
		slog.Warn("RoomCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// RoomUsers returns the roster of a room, or nil if the room does not exist
// or the registry did not answer within the command timeout.
func (r *Registry) RoomUsers(roomID string) []domain.RosterEntry {
	replyCh := make(chan []domain.RosterEntry, 1)
	r.cmdCh <- roomUsersCmd{roomID: roomID, replyCh: replyCh}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case users := <-replyCh:
		return users
	case <-timer.Chan():
		slog.Warn("RoomUsers timed out", "timeout", commandTimeout)
		return nil
	}
}

// RoomHistory returns the effective operation sequence of a room (applied
// operations up to the cursor), or nil for an unknown room.
func (r *Registry) RoomHistory(roomID string) []domain.Operation {
	replyCh := make(chan []domain.Operation, 1)
	r.cmdCh <- roomHistoryCmd{roomID: roomID, replyCh: replyCh}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case ops := <-replyCh:
		return ops
	case <-timer.Chan():
		slog.Warn("RoomHistory timed out", "timeout", commandTimeout)
		return nil
	}
}

// Stop shuts the registry down. Blocks until the event goroutine has exited.
func (r *Registry) Stop() {
	r.cmdCh <- stopCmd{}
	<-r.done
}

func (r *Registry) run() {
	defer close(r.done)

	depthTicker := r.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			metrics.RegistryCommandChannelDepth.Set(float64(len(r.cmdCh)))
		case cmd := <-r.cmdCh:
			switch c := cmd.(type) {
			case joinCmd:
				r.handleJoin(c.connID, c.ev)
			case requestStateCmd:
				r.handleRequestState(c.connID, c.ev)
			case cursorUpdateCmd:
				r.handleCursorUpdate(c.connID, c.ev)
			case drawingCmd:
				r.handleDrawing(c.connID, c.ev)
			case actionCmd:
				r.handleAction(c.connID, c.ev)
			case disconnectCmd:
				r.handleDisconnect(c.connID)
			case roomCountCmd:
				c.replyCh <- len(r.rooms)
			case roomUsersCmd:
				if rm, ok := r.rooms[c.roomID]; ok {
					c.replyCh <- rm.roster()
				} else {
					c.replyCh <- nil
				}
			case roomHistoryCmd:
				if rm, ok := r.rooms[c.roomID]; ok {
					c.replyCh <- rm.log.CurrentState()
				} else {
					c.replyCh <- nil
				}
			case stopCmd:
				return
			}
		}
	}
}

func (r *Registry) handleJoin(connID uuid.UUID, ev domain.Join) {
	// One live user per connection: a second join implicitly leaves the
	// previous room first.
	if _, ok := r.users[connID]; ok {
		r.handleDisconnect(connID)
	}

	rm, ok := r.rooms[ev.RoomID]
	if !ok {
		rm = &room{
			id:    ev.RoomID,
			users: make(map[string]*domain.User),
			log:   history.New(r.clock, r.conflictPolicy),
		}
		r.rooms[ev.RoomID] = rm
		metrics.ActiveRooms.Set(float64(len(r.rooms)))
		slog.Info("Room created", "room_id", ev.RoomID)
	}

	if r.maxPerRoom > 0 && len(rm.users) >= r.maxPerRoom {
		slog.Warn("Rejecting join: room full", "room_id", ev.RoomID, "max_users", r.maxPerRoom)
		metrics.DroppedEventsTotal.WithLabelValues("room_full").Inc()
		return
	}

	user := &domain.User{
		ID:           ev.UserID,
		ConnectionID: connID,
		Username:     ev.Username,
		Color:        ev.Color,
		RoomID:       ev.RoomID,
		JoinedAt:     r.clock.Now(),
	}
	r.users[connID] = user
	rm.users[ev.UserID] = user
	metrics.ConnectedUsers.Set(float64(len(r.users)))

	r.transport.JoinRoom(connID, ev.RoomID)

	roster := rm.roster()
	r.transport.BroadcastToRoom(ev.RoomID, domain.EventUserJoined, domain.UserJoinedData{
		User:  user.Roster(),
		Users: roster,
	}, connID)
	r.transport.SendTo(connID, domain.EventRoomState, domain.RoomStateData{
		Users:         roster,
		HistoryLength: rm.log.Len(),
		HistoryIndex:  rm.log.Index(),
	})

	slog.Info("User joined", "user_id", ev.UserID, "username", ev.Username, "room_id", ev.RoomID, "room_size", len(rm.users))
}

func (r *Registry) handleRequestState(connID uuid.UUID, ev domain.RequestState) {
	if _, err := r.requireUser(connID); err != nil {
		return
	}
	rm, err := r.requireRoom(ev.RoomID)
	if err != nil {
		return
	}

	r.transport.SendTo(connID, domain.EventCanvasState, domain.CanvasStateData{
		ImageData:     rm.snapshot,
		HistoryLength: rm.log.Len(),
		HistoryIndex:  rm.log.Index(),
	})
}

func (r *Registry) handleCursorUpdate(connID uuid.UUID, ev domain.CursorUpdate) {
	user, err := r.requireUser(connID)
	if err != nil {
		return
	}

	// Stateless relay, never persisted: last write wins at the renderer.
	r.transport.BroadcastToRoom(user.RoomID, domain.EventCursorUpdate, ev.Raw, connID)
}

func (r *Registry) handleDrawing(connID uuid.UUID, ev domain.Drawing) {
	user, err := r.requireUser(connID)
	if err != nil {
		return
	}
	rm, err := r.requireRoom(ev.RoomID)
	if err != nil {
		return
	}

	op := domain.Operation{
		Kind:      ev.Kind,
		Payload:   ev.Raw,
		UserID:    user.ID,
		Timestamp: ev.Timestamp,
	}

	// A client stamp older than the stored tail means this operation lost a
	// race across connections; place it by timestamp instead of appending.
	if tail, ok := rm.log.Tail(); ok && ev.Timestamp != 0 && ev.Timestamp < tail.Timestamp {
		_, at := rm.log.ResolveConflict(op)
		metrics.ConflictInsertions.Inc()
		slog.Debug("Operation conflict-resolved", "room_id", ev.RoomID, "user_id", user.ID, "position", at)
	} else {
		rm.log.Record(op)
		metrics.OperationsRecorded.Inc()
	}

	// Relay the raw payload only; the sender already applied it locally.
	r.transport.BroadcastToRoom(ev.RoomID, domain.EventDrawing, ev.Raw, connID)
}

func (r *Registry) handleAction(connID uuid.UUID, ev domain.Action) {
	user, err := r.requireUser(connID)
	if err != nil {
		return
	}
	rm, err := r.requireRoom(ev.RoomID)
	if err != nil {
		return
	}

	switch ev.Name {
	case domain.ActionUndo:
		if _, err := rm.log.Undo(); err != nil {
			metrics.ActionsTotal.WithLabelValues(ev.Name, "noop").Inc()
			return
		}
	case domain.ActionRedo:
		if _, err := rm.log.Redo(); err != nil {
			metrics.ActionsTotal.WithLabelValues(ev.Name, "noop").Inc()
			return
		}
	case domain.ActionClear:
		rm.log.Clear()
		rm.snapshot = nil
	}
	metrics.ActionsTotal.WithLabelValues(ev.Name, "applied").Inc()

	// Unlike drawing relays, the sender gets this too: it cannot know whether
	// its optimistic cursor move held, so the authoritative index corrects it.
	r.transport.BroadcastToRoom(ev.RoomID, domain.EventAction, domain.ActionData{
		Action:       ev.Name,
		UserID:       user.ID,
		HistoryIndex: rm.log.Index(),
	}, uuid.Nil)

	slog.Debug("Action applied", "action", ev.Name, "room_id", ev.RoomID, "user_id", user.ID, "history_index", rm.log.Index())
}

func (r *Registry) handleDisconnect(connID uuid.UUID) {
	user, ok := r.users[connID]
	if !ok {
		return
	}
	delete(r.users, connID)
	metrics.ConnectedUsers.Set(float64(len(r.users)))

	rm, ok := r.rooms[user.RoomID]
	if !ok {
		return
	}
	delete(rm.users, user.ID)
	r.transport.LeaveRoom(connID, user.RoomID)

	if len(rm.users) == 0 {
		// No retention: the history log dies with the room.
		delete(r.rooms, user.RoomID)
		metrics.ActiveRooms.Set(float64(len(r.rooms)))
		slog.Info("Room deleted", "room_id", user.RoomID)
		return
	}

	r.transport.BroadcastToRoom(user.RoomID, domain.EventUserLeft, domain.UserLeftData{
		User:  user.Roster(),
		Users: rm.roster(),
	}, uuid.Nil)
	slog.Info("User left", "user_id", user.ID, "room_id", user.RoomID, "room_size", len(rm.users))
}

// requireUser resolves the connection's user, dropping the event silently per
// the best-effort relay policy when the connection never joined.
func (r *Registry) requireUser(connID uuid.UUID) (*domain.User, error) {
	user, ok := r.users[connID]
	if !ok {
		metrics.DroppedEventsTotal.WithLabelValues("unknown_user").Inc()
		return nil, domain.ErrUnknownUser
	}
	return user, nil
}

// requireRoom resolves a room by id, dropping the event silently when it has
// already been deleted (a disconnect can race an in-flight drawing).
func (r *Registry) requireRoom(roomID string) (*room, error) {
	rm, ok := r.rooms[roomID]
	if !ok {
		metrics.DroppedEventsTotal.WithLabelValues("unknown_room").Inc()
		return nil, domain.ErrUnknownRoom
	}
	return rm, nil
}

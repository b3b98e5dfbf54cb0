package domain

import (
	"encoding/json"
	"fmt"
)

// Inbound event names accepted from clients.
const (
	EventJoin         = "join"
	EventRequestState = "request_state"
	EventCursorUpdate = "cursor_update"
	EventDrawing      = "drawing"
	EventAction       = "action"
)

// Outbound event names sent to clients.
const (
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventRoomState   = "room_state"
	EventCanvasState = "canvas_state"
)

// DefaultRoomID is used when a join omits the room id.
const DefaultRoomID = "default"

// Inbound is the closed union of client events. The registry switches
// exhaustively over these types; a new event kind that is not handled there
// is a bug, not a silent no-op.
type Inbound interface{ isInbound() }

type baseInbound struct{}

func (baseInbound) isInbound() {}

// Join registers a user in a room, creating the room on first use.
type Join struct {
	baseInbound
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
	RoomID   string `json:"roomId"`
}

// RequestState asks for the room's current canvas snapshot and history cursor.
type RequestState struct {
	baseInbound
	RoomID string `json:"roomId"`
}

// CursorUpdate is a stateless cursor position relay. Raw is the payload
// forwarded verbatim to the rest of the room.
type CursorUpdate struct {
	baseInbound
	RoomID string          `json:"roomId"`
	UserID string          `json:"userId"`
	Raw    json.RawMessage `json:"-"`
}

// Drawing carries one stroke or shape. Kind is the only payload field the
// server reads; Raw is stored as the operation payload and relayed verbatim.
type Drawing struct {
	baseInbound
	RoomID    string          `json:"roomId"`
	UserID    string          `json:"userId"`
	Kind      OpKind          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// Action names for the Action event.
const (
	ActionUndo  = "undo"
	ActionRedo  = "redo"
	ActionClear = "clear"
)

// Action moves a room's history cursor (undo/redo) or clears the history.
type Action struct {
	baseInbound
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Name   string `json:"action"`
}

// envelope is the wire frame for every client message.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeInbound parses one client frame into its concrete event type.
// Unknown event names and malformed payloads are rejected here so the
// registry only ever sees the closed union.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventJoin:
		var ev Join
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode join: %w", err)
		}
		if ev.RoomID == "" {
			ev.RoomID = DefaultRoomID
		}
		return ev, nil
	case EventRequestState:
		var ev RequestState
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode request_state: %w", err)
		}
		return ev, nil
	case EventCursorUpdate:
		var ev CursorUpdate
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode cursor_update: %w", err)
		}
		ev.Raw = append(json.RawMessage(nil), env.Data...)
		return ev, nil
	case EventDrawing:
		var ev Drawing
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode drawing: %w", err)
		}
		if ev.Kind != KindDraw && ev.Kind != KindShape {
			return nil, fmt.Errorf("decode drawing: invalid kind %q", ev.Kind)
		}
		ev.Raw = append(json.RawMessage(nil), env.Data...)
		return ev, nil
	case EventAction:
		var ev Action
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
		switch ev.Name {
		case ActionUndo, ActionRedo, ActionClear:
		default:
			return nil, fmt.Errorf("decode action: invalid action %q", ev.Name)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}

// --- Outbound payloads ---

// UserJoinedData announces a new member, with the full roster for resync.
type UserJoinedData struct {
	User  RosterEntry   `json:"user"`
	Users []RosterEntry `json:"users"`
}

// UserLeftData announces a departure, with the full remaining roster.
type UserLeftData struct {
	User  RosterEntry   `json:"user"`
	Users []RosterEntry `json:"users"`
}

// RoomStateData is the join reply: roster plus the history cursor. The
// canvas pixels themselves are fetched separately via request_state.
type RoomStateData struct {
	Users         []RosterEntry `json:"users"`
	HistoryLength int           `json:"historyLength"`
	HistoryIndex  int           `json:"historyIndex"`
}

// CanvasStateData is the request_state reply. ImageData is an opaque blob
// handed to the rendering client un-parsed; nil when the room has none.
type CanvasStateData struct {
	ImageData     []byte `json:"imageData"`
	HistoryLength int    `json:"historyLength"`
	HistoryIndex  int    `json:"historyIndex"`
}

// ActionData is the action relay, sent to the whole room including the
// sender. HistoryIndex is the authoritative post-action cursor so clients
// whose optimistic local cursor diverged can correct themselves.
type ActionData struct {
	Action       string `json:"action"`
	UserID       string `json:"userId"`
	HistoryIndex int    `json:"historyIndex"`
}

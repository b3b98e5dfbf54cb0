package domain

import (
	"encoding/json"
	"fmt"
)

// OpKind discriminates recorded operations. Undo/redo are cursor moves on the
// history log, not operations, so they never appear here.
type OpKind string

const (
	KindDraw  OpKind = "draw"
	KindShape OpKind = "shape"
	KindClear OpKind = "clear"
)

// Operation is one recorded entry in a room's history. Payload is the raw
// drawing data (tool, color, geometry) and stays opaque to the server; only
// the rendering clients interpret it.
type Operation struct {
	ID        string          `json:"id"`
	Kind      OpKind          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	UserID    string          `json:"userId"`
	Timestamp int64           `json:"timestamp"`
}

// ConflictPolicy controls how out-of-order insertion interacts with a
// previously undone tail of the history.
type ConflictPolicy string

const (
	// ConflictPreserve inserts into the full operation array, including any
	// undone tail, and moves the cursor to the end. An out-of-order arrival
	// therefore revives operations the room had undone. This matches the
	// behavior of the reference client protocol.
	ConflictPreserve ConflictPolicy = "preserve"

	// ConflictTruncate drops the undone tail first, the same way a regular
	// record does, then inserts by timestamp. Undone operations stay gone.
	ConflictTruncate ConflictPolicy = "truncate"
)

// ParseConflictPolicy validates a policy string from configuration.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case ConflictPreserve, ConflictTruncate:
		return ConflictPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid conflict policy %q (want %q or %q)", s, ConflictPreserve, ConflictTruncate)
	}
}

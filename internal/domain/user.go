package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is one live participant. Exactly one User exists per connection; it is
// removed when the transport reports a disconnect. The ID is client-generated
// and opaque, the ConnectionID is assigned by the server on upgrade.
type User struct {
	ID           string
	ConnectionID uuid.UUID
	Username     string
	Color        string
	RoomID       string
	JoinedAt     time.Time
}

// RosterEntry is the public projection of a User carried in roster broadcasts.
type RosterEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
}

// Roster returns the broadcastable projection of the user.
func (u *User) Roster() RosterEntry {
	return RosterEntry{ID: u.ID, Username: u.Username, Color: u.Color}
}

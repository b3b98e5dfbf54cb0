package session

import (
	"sort"

	"sketchroom/internal/domain"
	"sketchroom/internal/history"
)

// room is one live collaboration session. Created on the first join naming an
// unseen room id, destroyed the moment its user set empties.
type room struct {
	id       string
	users    map[string]*domain.User
	log      *history.Log
	snapshot []byte
}

// roster returns the full member list, ordered by join time (user id breaks
// ties) so repeated broadcasts are stable.
func (r *room) roster() []domain.RosterEntry {
	members := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		members = append(members, u)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].ID < members[j].ID
	})

	entries := make([]domain.RosterEntry, len(members))
	for i, u := range members {
		entries[i] = u.Roster()
	}
	return entries
}

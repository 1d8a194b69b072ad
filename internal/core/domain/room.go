package domain

import "time"

type RoomID string
type MemberID string
type ConnectionID string

// Room is a snapshot of one room's membership as held by the registry.
// Rooms are created implicitly on first join and destroyed when the last
// member leaves; nothing about them is persisted.
type Room struct {
	ID        RoomID
	Members   []MemberID
	CreatedAt time.Time
}

func (r *Room) HasMember(id MemberID) bool {
	for _, m := range r.Members {
		if m == id {
			return true
		}
	}
	return false
}

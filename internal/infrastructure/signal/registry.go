package signal

import (
	"sort"
	"sync"
	"time"

	"pointlink/internal/core/domain"
)

// Registry is the single source of truth for room membership. Every
// Join/Leave/Lookup for every room goes through one mutex, which gives the
// per-room serialization the relay needs without any per-room machinery.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
}

type roomEntry struct {
	members   map[domain.MemberID]*Client
	createdAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*roomEntry),
	}
}

// Join registers c as the holder of its member id in its room, creating the
// room on first join. If the member already exists the new connection
// silently replaces it (reconnect flows reuse identifiers) and the old
// client is returned so the relay can close it. A connection holds at most
// one membership: re-joining under a new identity drops the old one first.
func (r *Registry) Join(roomID domain.RoomID, memberID domain.MemberID, c *Client) (replaced *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok && room.members[memberID] == c {
		return nil // already the holder
	}
	r.detachLocked(c)

	room, ok := r.rooms[roomID]
	if !ok {
		room = &roomEntry{
			members:   make(map[domain.MemberID]*Client),
			createdAt: time.Now(),
		}
		r.rooms[roomID] = room
	}

	replaced = room.members[memberID]
	room.members[memberID] = c
	c.room = roomID
	c.member = memberID
	return replaced
}

// detachLocked removes whatever membership c currently holds, deleting the
// room when it empties. Callers hold r.mu.
func (r *Registry) detachLocked(c *Client) {
	room, ok := r.rooms[c.room]
	if !ok || room.members[c.member] != c {
		return
	}
	delete(room.members, c.member)
	if len(room.members) == 0 {
		delete(r.rooms, c.room)
	}
}

// Leave removes c from its room, deleting the room when it empties. It
// returns the remaining members so the relay can broadcast the departure.
// A client that was replaced by a reconnect is no longer the registered
// holder and leaves without side effects.
func (r *Registry) Leave(c *Client) (remaining []*Client, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[c.room]
	if !exists || room.members[c.member] != c {
		return nil, false
	}
	r.detachLocked(c)

	for _, other := range room.members {
		remaining = append(remaining, other)
	}
	return remaining, true
}

// Lookup finds the connection holding memberID within roomID.
func (r *Registry) Lookup(roomID domain.RoomID, memberID domain.MemberID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	c, ok := room.members[memberID]
	return c, ok
}

// Others returns every member of roomID except exclude.
func (r *Registry) Others(roomID domain.RoomID, exclude domain.MemberID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(room.members))
	for id, c := range room.members {
		if id != exclude {
			out = append(out, c)
		}
	}
	return out
}

// Rooms returns a membership snapshot for the operational HTTP surface.
func (r *Registry) Rooms() []domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Room, 0, len(r.rooms))
	for id, room := range r.rooms {
		snapshot := domain.Room{ID: id, CreatedAt: room.createdAt}
		for member := range room.members {
			snapshot.Members = append(snapshot.Members, member)
		}
		sort.Slice(snapshot.Members, func(i, j int) bool {
			return snapshot.Members[i] < snapshot.Members[j]
		})
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConnectionCount reports how many registered connections exist.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, room := range r.rooms {
		n += len(room.members)
	}
	return n
}

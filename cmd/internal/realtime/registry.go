package realtime

import (
	"hash/fnv"
	"sync"

	v1 "notesync/shared/contracts/realtime/v1"
)

const registryLockStripes = 256

// Registry tracks which sessions are connected to which room.
//
// Concurrency guarantees:
// - Add/Remove/Evict are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - A room entry is pruned when its last session leaves; persisted data is untouched.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry

	// Striped write locks order content writes with their broadcasts per room.
	// They live outside roomEntry so pruning never races a lock holder.
	locks [registryLockStripes]sync.Mutex
}

type roomEntry struct {
	members map[string]*Session
	edits   uint64
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*roomEntry)}
}

// Add puts s into room and returns the room's new member count.
func (r *Registry) Add(room string, s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.rooms[room]
	if e == nil {
		e = &roomEntry{members: make(map[string]*Session)}
		r.rooms[room] = e
	}
	e.members[s.ID] = s
	return len(e.members)
}

// Remove takes sessionID out of room and returns the remaining count.
// The entry is pruned at zero. Removing an absent session is a no-op.
func (r *Registry) Remove(room, sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.rooms[room]
	if e == nil {
		return 0
	}
	delete(e.members, sessionID)
	n := len(e.members)
	if n == 0 {
		delete(r.rooms, room)
	}
	return n
}

// Count returns the number of sessions in room.
func (r *Registry) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e := r.rooms[room]; e != nil {
		return len(e.members)
	}
	return 0
}

// Has reports whether sessionID is a member of room.
func (r *Registry) Has(room, sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.rooms[room]
	if e == nil {
		return false
	}
	_, ok := e.members[sessionID]
	return ok
}

// Sessions returns a snapshot of room's members.
func (r *Registry) Sessions(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.rooms[room]
	if e == nil {
		return nil
	}
	out := make([]*Session, 0, len(e.members))
	for _, s := range e.members {
		out = append(out, s)
	}
	return out
}

// Evict removes the whole room entry and returns its former members.
func (r *Registry) Evict(room string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.rooms[room]
	if e == nil {
		return nil
	}
	delete(r.rooms, room)

	out := make([]*Session, 0, len(e.members))
	for _, s := range e.members {
		out = append(out, s)
	}
	return out
}

// Rooms returns the number of rooms with at least one session.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Total returns the number of room memberships across all rooms.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.rooms {
		n += len(e.members)
	}
	return n
}

// Broadcast fans env out to room's members except exceptSessionID ("" for everyone).
// Non-blocking: a member whose queue is full or who is shutting down is skipped.
func (r *Registry) Broadcast(room string, env v1.Envelope, exceptSessionID string) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.rooms[room]
	if e == nil {
		return 0, 0
	}
	for id, s := range e.members {
		if id == exceptSessionID || s == nil {
			continue
		}
		if s.enqueue(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Serialize returns the write lock for room.
// Holding it orders store writes with their broadcasts and with joins.
func (r *Registry) Serialize(room string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return &r.locks[h.Sum32()%registryLockStripes]
}

// nextEdit increments and returns room's edit counter.
func (r *Registry) nextEdit(room string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.rooms[room]
	if e == nil {
		return 0
	}
	e.edits++
	return e.edits
}

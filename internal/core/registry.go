// Package core holds the room registry and the transport-facing
// abstractions it stores. It never touches transport resources.
package core

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/domain"
)

// ErrAlreadyRegistered is returned when a connection tries to register
// while still bound to a room. The caller must unregister first.
var ErrAlreadyRegistered = errors.New("connection already registered to a room")

// Member is what the registry stores per connection: the domain identity
// plus the transport handle used to reach it.
type Member struct {
	domain.Member
	Conn ConnID
	Sig  SignalConnection
}

// roomEntry serializes membership of a single room. Unrelated rooms never
// contend: the registry lock is held only for map lookup/insert.
// closed marks an entry the GC removed from the registry map; a Register
// that raced the removal must not resurrect it.
type roomEntry struct {
	mu      sync.RWMutex
	room    *domain.Room
	closed  bool
	members map[ConnID]*Member
}

func (e *roomEntry) snapshot(skip ConnID) []Member {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Member, 0, len(e.members))
	for id, m := range e.members {
		if id == skip {
			continue
		}
		out = append(out, *m)
	}
	return out
}

// Registry is the only shared mutable structure of the signaling tier:
// an in-memory mapping room -> member set, lifecycle tied to the process.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
	conns map[ConnID]domain.RoomID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*roomEntry),
		conns: make(map[ConnID]domain.RoomID),
	}
}

// Register binds a connection to a room and returns the members that were
// present before this join, so the caller can fan out initial offers.
func (r *Registry) Register(conn ConnID, roomID domain.RoomID, user domain.UserID, sig SignalConnection) ([]Member, error) {
	for {
		r.mu.Lock()
		if _, bound := r.conns[conn]; bound {
			r.mu.Unlock()
			return nil, ErrAlreadyRegistered
		}
		entry, ok := r.rooms[roomID]
		if !ok {
			entry = &roomEntry{
				room:    &domain.Room{ID: roomID, CreatedAt: time.Now()},
				members: make(map[ConnID]*Member),
			}
			r.rooms[roomID] = entry
		}
		r.conns[conn] = roomID
		r.mu.Unlock()

		entry.mu.Lock()
		if entry.closed {
			// The last member's Unregister dropped this room between the
			// two locks. Undo the conns binding and take a fresh entry.
			entry.mu.Unlock()
			r.mu.Lock()
			delete(r.conns, conn)
			r.mu.Unlock()
			continue
		}
		existing := make([]Member, 0, len(entry.members))
		for _, m := range entry.members {
			existing = append(existing, *m)
		}
		entry.members[conn] = &Member{Member: *domain.NewMember(user, roomID), Conn: conn, Sig: sig}
		entry.mu.Unlock()

		log.Info().Str("module", "core.registry").
			Str("conn", string(conn)).Str("user", string(user)).Str("room", string(roomID)).
			Int("present", len(existing)).Msg("member registered")
		return existing, nil
	}
}

// Unregister removes a connection from whatever room it was in and drops
// the room once empty. Idempotent: an absent connection is a no-op.
// It returns the departed member and the remaining room-mates so the
// caller can broadcast user-left.
func (r *Registry) Unregister(conn ConnID) (Member, []Member, bool) {
	r.mu.Lock()
	roomID, bound := r.conns[conn]
	if !bound {
		r.mu.Unlock()
		return Member{}, nil, false
	}
	delete(r.conns, conn)
	entry, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return Member{}, nil, false
	}

	entry.mu.Lock()
	m, ok := entry.members[conn]
	if !ok {
		entry.mu.Unlock()
		return Member{}, nil, false
	}
	delete(entry.members, conn)
	departed := *m
	remaining := make([]Member, 0, len(entry.members))
	for _, rm := range entry.members {
		remaining = append(remaining, *rm)
	}
	empty := len(entry.members) == 0
	entry.mu.Unlock()

	if empty {
		r.mu.Lock()
		// Re-check under both locks: a Register may have grabbed this
		// entry in the meantime, and one that has not added itself yet
		// must find closed set so it retries instead of joining a room
		// the map no longer knows.
		if e, found := r.rooms[roomID]; found && e == entry {
			e.mu.Lock()
			if len(e.members) == 0 {
				e.closed = true
				delete(r.rooms, roomID)
			}
			e.mu.Unlock()
		}
		r.mu.Unlock()
		log.Info().Str("module", "core.registry").Str("room", string(roomID)).Msg("room dropped, last member left")
	}

	log.Info().Str("module", "core.registry").
		Str("conn", string(conn)).Str("user", string(departed.User)).Str("room", string(roomID)).
		Msg("member unregistered")
	return departed, remaining, true
}

// MembersOf returns a snapshot of a room's member set.
func (r *Registry) MembersOf(roomID domain.RoomID) []Member {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return entry.snapshot("")
}

// RoomOf reports which room a connection is bound to.
func (r *Registry) RoomOf(conn ConnID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.conns[conn]
	return roomID, ok
}

// Lookup finds a member of roomID by user identity. Used for targeted
// relay of offer/answer/ice-candidate; absence is not an error.
func (r *Registry) Lookup(roomID domain.RoomID, user domain.UserID) (Member, bool) {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return Member{}, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	for _, m := range entry.members {
		if m.User == user {
			return *m, true
		}
	}
	return Member{}, false
}

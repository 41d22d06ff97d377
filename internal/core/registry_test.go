package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmentor/livesession/internal/domain"
)

type nopConn struct{}

func (nopConn) TrySend(Frame) error { return nil }
func (nopConn) Close()              {}

func TestRegisterReturnsPriorMembers(t *testing.T) {
	r := NewRegistry()

	existing, err := r.Register("c-a", "room-42", "alice", nopConn{})
	require.NoError(t, err)
	assert.Empty(t, existing)

	existing, err = r.Register("c-b", "room-42", "bob", nopConn{})
	require.NoError(t, err)
	require.Len(t, existing, 1)
	assert.Equal(t, domain.UserID("alice"), existing[0].User)
}

func TestRegisterTwiceFails(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("c-a", "room-1", "alice", nopConn{})
	require.NoError(t, err)

	_, err = r.Register("c-a", "room-2", "alice", nopConn{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = r.Register("c-a", "room-1", "alice", nopConn{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered, "same-room rejoin still needs an unregister first")
}

func TestMembersOfMatchesJoinsAndLeaves(t *testing.T) {
	r := NewRegistry()

	_, _ = r.Register("c-a", "room-42", "alice", nopConn{})
	_, _ = r.Register("c-b", "room-42", "bob", nopConn{})

	members := r.MembersOf("room-42")
	require.Len(t, members, 2)

	departed, remaining, ok := r.Unregister("c-b")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("bob"), departed.User)
	require.Len(t, remaining, 1)
	assert.Equal(t, domain.UserID("alice"), remaining[0].User)

	members = r.MembersOf("room-42")
	require.Len(t, members, 1)
	assert.Equal(t, domain.UserID("alice"), members[0].User)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()

	_, _, ok := r.Unregister("never-seen")
	assert.False(t, ok)

	_, _ = r.Register("c-a", "room-1", "alice", nopConn{})
	_, _, ok = r.Unregister("c-a")
	assert.True(t, ok)
	_, _, ok = r.Unregister("c-a")
	assert.False(t, ok)
}

func TestEmptyRoomIsDropped(t *testing.T) {
	r := NewRegistry()

	_, _ = r.Register("c-a", "room-1", "alice", nopConn{})
	_, _, _ = r.Unregister("c-a")

	assert.Empty(t, r.MembersOf("room-1"))

	// Re-registering after the drop starts a fresh room.
	existing, err := r.Register("c-a", "room-1", "alice", nopConn{})
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestLookupFindsOnlyCurrentMembers(t *testing.T) {
	r := NewRegistry()

	_, _ = r.Register("c-a", "room-1", "alice", nopConn{})

	m, ok := r.Lookup("room-1", "alice")
	require.True(t, ok)
	assert.Equal(t, ConnID("c-a"), m.Conn)

	_, ok = r.Lookup("room-1", "bob")
	assert.False(t, ok)
	_, ok = r.Lookup("room-x", "alice")
	assert.False(t, ok)

	_, _, _ = r.Unregister("c-a")
	_, ok = r.Lookup("room-1", "alice")
	assert.False(t, ok)
}

func TestConcurrentRoomsDoNotInterfere(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room := domain.RoomID(fmt.Sprintf("room-%d", i%4))
			conn := ConnID(fmt.Sprintf("conn-%d", i))
			user := domain.UserID(fmt.Sprintf("user-%d", i))
			_, err := r.Register(conn, room, user, nopConn{})
			require.NoError(t, err)
			r.MembersOf(room)
			_, _, _ = r.Unregister(conn)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Empty(t, r.MembersOf(domain.RoomID(fmt.Sprintf("room-%d", i))))
	}
}

func TestRegisterVisibleDespiteConcurrentRoomDrop(t *testing.T) {
	r := NewRegistry()

	// The last member leaving can drop the room while a new member is
	// between binding its connection and adding itself to the entry. A
	// successful Register must always leave the member reachable.
	for i := 0; i < 5000; i++ {
		_, err := r.Register("c-old", "room-1", "old", nopConn{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = r.Unregister("c-old")
		}()
		_, err = r.Register("c-new", "room-1", "new", nopConn{})
		wg.Wait()
		require.NoError(t, err)

		found := false
		for _, m := range r.MembersOf("room-1") {
			if m.User == "new" {
				found = true
			}
		}
		require.True(t, found, "iteration %d: registered member invisible to MembersOf", i)

		_, lookupOK := r.Lookup("room-1", "new")
		require.True(t, lookupOK, "iteration %d: registered member not addressable", i)

		_, _, ok := r.Unregister("c-new")
		require.True(t, ok, "iteration %d: member vanished before unregister", i)
	}

	assert.Empty(t, r.MembersOf("room-1"))
}

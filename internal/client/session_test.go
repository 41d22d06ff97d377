package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinBlockedWhenMediaDenied(t *testing.T) {
	dev := newFakeDevice()
	dev.failOn[KindAudio] = ErrPermissionDenied

	s := NewSession(SessionConfig{
		SignalingURL: "ws://127.0.0.1:1/api/ws/signal",
		Constraints:  Constraints{Audio: true, Video: true},
		Device:       dev,
	})

	err := s.Join(context.Background(), "room-42")
	require.ErrorIs(t, err, ErrPermissionDenied)

	// Signaling was never dialed; the session stays out of the room.
	assert.False(t, s.Joined())
	assert.Empty(t, s.Self())
	assert.Nil(t, s.Orch)
}

func TestLeaveBeforeJoinIsSafe(t *testing.T) {
	s := NewSession(SessionConfig{Device: newFakeDevice()})

	s.Leave()
	s.Leave()

	assert.False(t, s.Joined())
}

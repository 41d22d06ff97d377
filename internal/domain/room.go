package domain

import (
	"errors"
	"time"
)

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

type RoomID string

// NewRoomID validates a caller-supplied room identifier before it is
// allowed to key the registry.
func NewRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}

// Room is a signaling-scoped group of members sharing one live session.
// Lifecycle is tied to process uptime; an empty room is dropped.
type Room struct {
	ID        RoomID
	CreatedAt time.Time
}

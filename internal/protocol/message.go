// Package protocol defines the JSON signaling messages exchanged over the
// persistent connection between clients and the relay.
package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message type tags.
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeJoinRoom      = "join-room"
	TypeLeaveRoom     = "leave-room"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeRoomMembers   = "room-members"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeICECandidate  = "ice-candidate"
	TypeError         = "error"
)

// PeekType reads only the type tag so the caller can pick a payload struct.
func PeekType(data []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

type Authenticate struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	DevKey string `json:"devKey,omitempty"`
}

type Authenticated struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type JoinRoom struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

type LeaveRoom struct {
	Type string `json:"type"`
}

type UserJoined struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type MemberInfo struct {
	UserID string `json:"userId"`
}

type RoomMembers struct {
	Type    string       `json:"type"`
	Members []MemberInfo `json:"members"`
}

// Offer/Answer/ICECandidate carry To on the way in and From on the way
// out; the relay rewrites the addressing, never the payload.
type Offer struct {
	Type  string                    `json:"type"`
	To    string                    `json:"to,omitempty"`
	From  string                    `json:"from,omitempty"`
	Offer webrtc.SessionDescription `json:"offer"`
}

type Answer struct {
	Type   string                    `json:"type"`
	To     string                    `json:"to,omitempty"`
	From   string                    `json:"from,omitempty"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidate struct {
	Type      string                  `json:"type"`
	To        string                  `json:"to,omitempty"`
	From      string                  `json:"from,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/domain"
	"github.com/openmentor/livesession/internal/protocol"
)

// Handlers receive decoded relay messages. Unset handlers drop.
type Handlers struct {
	OnAuthenticated func(success bool, userID string, errMsg string)
	OnRoomMembers   func(users []domain.UserID)
	OnUserJoined    func(user domain.UserID)
	OnUserLeft      func(user domain.UserID)
	OnOffer         func(from domain.UserID, sdp webrtc.SessionDescription)
	OnAnswer        func(from domain.UserID, sdp webrtc.SessionDescription)
	OnCandidate     func(from domain.UserID, c webrtc.ICECandidateInit)
	OnError         func(code string)
	OnDisconnect    func(err error)
}

// SignalingClient is the persistent connection to the relay.
// It implements Signaler for the orchestrator.
type SignalingClient struct {
	conn     *websocket.Conn
	handlers Handlers

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialSignaling connects to the relay's WebSocket endpoint.
func DialSignaling(ctx context.Context, url string, handlers Handlers) (*SignalingClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &SignalingClient{conn: conn, handlers: handlers}, nil
}

// Run reads until the connection dies, dispatching to handlers.
// OnDisconnect fires exactly once, on the way out.
func (s *SignalingClient) Run(ctx context.Context) {
	var readErr error
	defer func() {
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(readErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
			return
		default:
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				readErr = err
				return
			}
			s.dispatch(data)
		}
	}
}

func (s *SignalingClient) dispatch(data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		log.Error().Err(err).Str("module", "client.signaling").Msg("bad frame")
		return
	}

	switch typ {
	case protocol.TypeAuthenticated:
		var p protocol.Authenticated
		if json.Unmarshal(data, &p) == nil && s.handlers.OnAuthenticated != nil {
			s.handlers.OnAuthenticated(p.Success, p.UserID, p.Error)
		}
	case protocol.TypeRoomMembers:
		var p protocol.RoomMembers
		if json.Unmarshal(data, &p) == nil && s.handlers.OnRoomMembers != nil {
			users := make([]domain.UserID, 0, len(p.Members))
			for _, m := range p.Members {
				users = append(users, domain.UserID(m.UserID))
			}
			s.handlers.OnRoomMembers(users)
		}
	case protocol.TypeUserJoined:
		var p protocol.UserJoined
		if json.Unmarshal(data, &p) == nil && s.handlers.OnUserJoined != nil {
			s.handlers.OnUserJoined(domain.UserID(p.UserID))
		}
	case protocol.TypeUserLeft:
		var p protocol.UserLeft
		if json.Unmarshal(data, &p) == nil && s.handlers.OnUserLeft != nil {
			s.handlers.OnUserLeft(domain.UserID(p.UserID))
		}
	case protocol.TypeOffer:
		var p protocol.Offer
		if json.Unmarshal(data, &p) == nil && s.handlers.OnOffer != nil {
			s.handlers.OnOffer(domain.UserID(p.From), p.Offer)
		}
	case protocol.TypeAnswer:
		var p protocol.Answer
		if json.Unmarshal(data, &p) == nil && s.handlers.OnAnswer != nil {
			s.handlers.OnAnswer(domain.UserID(p.From), p.Answer)
		}
	case protocol.TypeICECandidate:
		var p protocol.ICECandidate
		if json.Unmarshal(data, &p) == nil && s.handlers.OnCandidate != nil {
			s.handlers.OnCandidate(domain.UserID(p.From), p.Candidate)
		}
	case protocol.TypeError:
		var p protocol.Error
		if json.Unmarshal(data, &p) == nil && s.handlers.OnError != nil {
			s.handlers.OnError(p.Error)
		}
	default:
		log.Warn().Str("module", "client.signaling").Str("type", typ).Msg("unknown message")
	}
}

func (s *SignalingClient) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *SignalingClient) Authenticate(token, devKey string) error {
	return s.writeJSON(protocol.Authenticate{Type: protocol.TypeAuthenticate, Token: token, DevKey: devKey})
}

func (s *SignalingClient) JoinRoom(roomID domain.RoomID) error {
	return s.writeJSON(protocol.JoinRoom{Type: protocol.TypeJoinRoom, RoomID: string(roomID)})
}

func (s *SignalingClient) LeaveRoom() error {
	return s.writeJSON(protocol.LeaveRoom{Type: protocol.TypeLeaveRoom})
}

func (s *SignalingClient) SendOffer(to domain.UserID, sdp webrtc.SessionDescription) error {
	return s.writeJSON(protocol.Offer{Type: protocol.TypeOffer, To: string(to), Offer: sdp})
}

func (s *SignalingClient) SendAnswer(to domain.UserID, sdp webrtc.SessionDescription) error {
	return s.writeJSON(protocol.Answer{Type: protocol.TypeAnswer, To: string(to), Answer: sdp})
}

func (s *SignalingClient) SendCandidate(to domain.UserID, c webrtc.ICECandidateInit) error {
	return s.writeJSON(protocol.ICECandidate{Type: protocol.TypeICECandidate, To: string(to), Candidate: c})
}

func (s *SignalingClient) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// Package relay implements the signaling control plane: per-connection
// state machines that authenticate, bind to rooms, and forward
// offer/answer/ice-candidate messages between room members. It carries
// no media and is transport-agnostic; adapters own the sockets.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/core"
	"github.com/openmentor/livesession/internal/domain"
	"github.com/openmentor/livesession/internal/protocol"
)

// State of one signaling connection.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in-room"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Server owns the shared registry and mints per-connection state machines.
type Server struct {
	Registry *core.Registry
	Auth     Authenticator
}

func NewServer(reg *core.Registry, auth Authenticator) *Server {
	return &Server{Registry: reg, Auth: auth}
}

// Conn is the state machine for a single signaling connection.
// HandleMessage runs on the transport's read loop, so transitions are
// naturally serialized; the mutex guards against the disconnect path
// racing in from the write side.
type Conn struct {
	id  core.ConnID
	srv *Server
	sig core.SignalConnection

	mu    sync.Mutex
	state State
	user  domain.UserID
	room  domain.RoomID
}

func (s *Server) NewConn(id core.ConnID, sig core.SignalConnection) *Conn {
	return &Conn{id: id, srv: s, sig: sig, state: StateUnauthenticated}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) User() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// HandleMessage dispatches one inbound frame.
func (c *Conn) HandleMessage(ctx context.Context, data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Str("conn", string(c.id)).Msg("bad json")
		c.sendError("bad_payload")
		return
	}

	switch typ {
	case protocol.TypeAuthenticate:
		c.handleAuthenticate(ctx, data)
	case protocol.TypeJoinRoom:
		c.handleJoin(data)
	case protocol.TypeLeaveRoom:
		c.handleLeave()
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		c.handleRelay(typ, data)
	default:
		log.Warn().Str("module", "relay").Str("type", typ).Msg("unknown signal")
		c.sendError("unknown_type")
	}
}

func (c *Conn) handleAuthenticate(ctx context.Context, data []byte) {
	var p protocol.Authenticate
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError("bad_payload")
		return
	}

	// A connection authenticates once. Repeats echo the bound identity;
	// rebinding mid-connection would desync the registry.
	c.mu.Lock()
	if c.state != StateUnauthenticated {
		bound := c.user
		c.mu.Unlock()
		c.sendJSON(protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: true, UserID: string(bound)})
		return
	}
	c.mu.Unlock()

	uid, err := c.srv.Auth.Authenticate(ctx, Credential{Token: p.Token, DevKey: p.DevKey})
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("conn", string(c.id)).Msg("authentication failed")
		c.sendJSON(protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: false, Error: "invalid_credential"})
		return
	}

	c.mu.Lock()
	if c.state == StateUnauthenticated {
		c.state = StateAuthenticated
		c.user = uid
	}
	c.mu.Unlock()

	log.Info().Str("module", "relay").Str("conn", string(c.id)).Str("user", string(uid)).Msg("authenticated")
	c.sendJSON(protocol.Authenticated{Type: protocol.TypeAuthenticated, Success: true, UserID: string(uid)})
}

func (c *Conn) handleJoin(data []byte) {
	var p protocol.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		c.sendError("bad_payload")
		return
	}
	roomID, err := domain.NewRoomID(p.RoomID)
	if err != nil {
		c.sendError("bad_payload")
		return
	}

	c.mu.Lock()
	state, user := c.state, c.user
	c.mu.Unlock()

	if state != StateAuthenticated {
		if state == StateUnauthenticated {
			c.sendError("not_authenticated")
		} else {
			c.sendError("already_in_room")
		}
		return
	}
	// Identity comes from authentication; a mismatched payload userId is
	// ignored, not trusted.
	if p.UserID != "" && p.UserID != string(user) {
		log.Warn().Str("module", "relay").Str("conn", string(c.id)).
			Str("claimed", p.UserID).Str("actual", string(user)).Msg("join userId mismatch ignored")
	}

	existing, err := c.srv.Registry.Register(c.id, roomID, user, c.sig)
	if err != nil {
		if errors.Is(err, core.ErrAlreadyRegistered) {
			c.sendError("already_in_room")
		} else {
			c.sendError("join_failed")
		}
		return
	}

	c.mu.Lock()
	c.state = StateInRoom
	c.room = roomID
	c.mu.Unlock()

	log.Info().Str("module", "relay").Str("conn", string(c.id)).
		Str("user", string(user)).Str("room", string(roomID)).Msg("joined room")

	// Existing members hear about the newcomer before the newcomer gets
	// the member list, so nobody can address a peer it has not been told
	// about yet.
	c.broadcast(existing, protocol.UserJoined{Type: protocol.TypeUserJoined, UserID: string(user)})

	members := make([]protocol.MemberInfo, 0, len(existing))
	for _, m := range existing {
		members = append(members, protocol.MemberInfo{UserID: string(m.User)})
	}
	c.sendJSON(protocol.RoomMembers{Type: protocol.TypeRoomMembers, Members: members})
}

func (c *Conn) handleLeave() {
	if !c.leaveRoom() {
		c.sendError("not_in_room")
	}
}

// leaveRoom unregisters and notifies former room-mates. Reports whether
// the connection was actually in a room.
func (c *Conn) leaveRoom() bool {
	c.mu.Lock()
	if c.state != StateInRoom {
		c.mu.Unlock()
		return false
	}
	c.state = StateAuthenticated
	c.room = ""
	c.mu.Unlock()

	departed, remaining, ok := c.srv.Registry.Unregister(c.id)
	if !ok {
		return false
	}
	log.Info().Str("module", "relay").Str("conn", string(c.id)).Str("user", string(departed.User)).Msg("left room")
	c.broadcast(remaining, protocol.UserLeft{Type: protocol.TypeUserLeft, UserID: string(departed.User)})
	return true
}

// Disconnect is the implicit leave: transport closed in any state.
// Registry cleanup and the user-left broadcast still occur so peers can
// tear down their links.
func (c *Conn) Disconnect() {
	c.leaveRoom()
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// handleRelay forwards an offer/answer/ice-candidate to the addressed
// member of the same room. An absent target is a silent drop: races
// between leave and in-flight negotiation are expected, not exceptional.
func (c *Conn) handleRelay(typ string, data []byte) {
	c.mu.Lock()
	state, user, room := c.state, c.user, c.room
	c.mu.Unlock()

	if state != StateInRoom {
		c.sendError("not_in_room")
		return
	}

	var out core.Frame
	var to string
	switch typ {
	case protocol.TypeOffer:
		var p protocol.Offer
		if err := json.Unmarshal(data, &p); err != nil {
			c.sendError("bad_payload")
			return
		}
		to, p.To, p.From = p.To, "", string(user)
		out, _ = json.Marshal(p)
	case protocol.TypeAnswer:
		var p protocol.Answer
		if err := json.Unmarshal(data, &p); err != nil {
			c.sendError("bad_payload")
			return
		}
		to, p.To, p.From = p.To, "", string(user)
		out, _ = json.Marshal(p)
	case protocol.TypeICECandidate:
		var p protocol.ICECandidate
		if err := json.Unmarshal(data, &p); err != nil {
			c.sendError("bad_payload")
			return
		}
		to, p.To, p.From = p.To, "", string(user)
		out, _ = json.Marshal(p)
	}
	if to == "" {
		c.sendError("bad_payload")
		return
	}

	target, ok := c.srv.Registry.Lookup(room, domain.UserID(to))
	if !ok {
		log.Debug().Str("module", "relay").Str("type", typ).
			Str("from", string(user)).Str("to", to).Msg("target not in room, dropped")
		return
	}
	if err := target.Sig.TrySend(out); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("to", to).Msg("relay send failed")
	}
}

// broadcast fans a message out to a member snapshot. Members whose send
// buffers are full are kicked: a signaling connection that cannot accept
// a control message is as good as gone.
func (c *Conn) broadcast(members []core.Member, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("broadcast marshal")
		return
	}
	var slow []core.Member
	for _, m := range members {
		if err := m.Sig.TrySend(b); err != nil {
			slow = append(slow, m)
		}
	}
	for _, m := range slow {
		log.Warn().Str("module", "relay").Str("conn", string(m.Conn)).Msg("kicking slow consumer")
		if departed, remaining, ok := c.srv.Registry.Unregister(m.Conn); ok {
			c.broadcast(remaining, protocol.UserLeft{Type: protocol.TypeUserLeft, UserID: string(departed.User)})
		}
		m.Sig.Close()
	}
}

func (c *Conn) sendError(code string) {
	c.sendJSON(protocol.Error{Type: protocol.TypeError, Error: code})
}

func (c *Conn) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("sendJSON marshal")
		return
	}
	_ = c.sig.TrySend(b)
}

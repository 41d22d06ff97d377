package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/domain"
	"github.com/openmentor/livesession/internal/restclient"
)

var (
	ErrAuthFailed  = errors.New("authentication rejected")
	ErrJoinTimeout = errors.New("join timed out")
)

// SessionConfig wires one participant into a live session.
type SessionConfig struct {
	SignalingURL string
	APIBaseURL   string
	Token        string
	DevKey       string

	Constraints      Constraints
	Device           Device
	Transports       TransportFactory
	OfferTimeout     time.Duration
	ChatPollInterval time.Duration

	// OnPeerEvent surfaces per-peer state to the UI layer.
	OnPeerEvent func(PeerEvent)
	// OnChatUpdate surfaces the refreshed message list.
	OnChatUpdate func([]domain.ChatMessage)
}

// Session composes media, signaling, orchestration, and chat for one
// participant. Teardown is guarded by a sync.Once so every exit path
// (explicit leave, relay disconnect, context cancel) releases hardware
// exactly once.
type Session struct {
	cfg SessionConfig

	Media *MediaController
	Orch  *Orchestrator
	Chat  *ChatChannel

	signaling *SignalingClient
	self      domain.UserID
	cancel    context.CancelFunc
	leaveOnce sync.Once
	joined    bool
	mu        sync.Mutex
}

func NewSession(cfg SessionConfig) *Session {
	return &Session{
		cfg:   cfg,
		Media: NewMediaController(cfg.Device),
	}
}

// Self is the authenticated identity, empty before Join succeeds.
func (s *Session) Self() domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Joined reports whether the session reached the in-room state.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// Join acquires media, authenticates, and enters the room. Media comes
// first: a denied permission aborts before any signaling is attempted,
// so the orchestrator never negotiates with a null stream.
func (s *Session) Join(ctx context.Context, roomID domain.RoomID) error {
	if err := s.Media.Acquire(s.cfg.Constraints); err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	// Handlers are installed before the read loop starts; the orchestrator
	// does not exist until authentication completes, so each relay handler
	// resolves it through orch() at dispatch time.
	authed := make(chan error, 1)
	handlers := Handlers{
		OnAuthenticated: func(success bool, userID string, errMsg string) {
			if !success {
				authed <- fmt.Errorf("%w: %s", ErrAuthFailed, errMsg)
				return
			}
			s.mu.Lock()
			s.self = domain.UserID(userID)
			s.mu.Unlock()
			authed <- nil
		},
		OnRoomMembers: func(users []domain.UserID) {
			if o := s.orch(); o != nil {
				o.HandleRoomMembers(users)
			}
		},
		OnUserJoined: func(user domain.UserID) {
			if o := s.orch(); o != nil {
				o.HandleUserJoined(user)
			}
		},
		OnUserLeft: func(user domain.UserID) {
			if o := s.orch(); o != nil {
				o.HandleUserLeft(user)
			}
		},
		OnOffer: func(from domain.UserID, sdp webrtc.SessionDescription) {
			if o := s.orch(); o != nil {
				o.HandleOffer(from, sdp)
			}
		},
		OnAnswer: func(from domain.UserID, sdp webrtc.SessionDescription) {
			if o := s.orch(); o != nil {
				o.HandleAnswer(from, sdp)
			}
		},
		OnCandidate: func(from domain.UserID, c webrtc.ICECandidateInit) {
			if o := s.orch(); o != nil {
				o.HandleCandidate(from, c)
			}
		},
		OnError: func(msg string) {
			log.Warn().Str("module", "client.session").Str("error", msg).Msg("relay error")
		},
		OnDisconnect: func(err error) {
			// Relay disconnect is an implicit leave: full local teardown
			// so no orphaned links believe they are still connected.
			if err != nil {
				log.Warn().Err(err).Str("module", "client.session").Msg("signaling disconnected")
			}
			s.Leave()
		},
	}

	sc, err := DialSignaling(ctx, s.cfg.SignalingURL, handlers)
	if err != nil {
		s.Media.ReleaseAll()
		return fmt.Errorf("dial signaling: %w", err)
	}
	s.signaling = sc

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go sc.Run(runCtx)

	if err := sc.Authenticate(s.cfg.Token, s.cfg.DevKey); err != nil {
		s.teardown()
		return err
	}
	select {
	case err := <-authed:
		if err != nil {
			s.teardown()
			return err
		}
	case <-ctx.Done():
		s.teardown()
		return ctx.Err()
	case <-time.After(15 * time.Second):
		s.teardown()
		return ErrJoinTimeout
	}

	self := s.Self()
	orch := NewOrchestrator(self, sc, s.Media, s.cfg.Transports)
	if s.cfg.OfferTimeout > 0 {
		orch.SetOfferTimeout(s.cfg.OfferTimeout)
	}
	if s.cfg.OnPeerEvent != nil {
		orch.OnPeerEvent(s.cfg.OnPeerEvent)
	}
	s.Media.OnVideoSwap(orch.RenegotiateTrack)
	s.mu.Lock()
	s.Orch = orch
	s.mu.Unlock()

	if err := sc.JoinRoom(roomID); err != nil {
		s.teardown()
		return err
	}

	s.Chat = NewChatChannel(
		restclient.New(s.cfg.APIBaseURL).WithAuth(s.cfg.Token, s.cfg.DevKey),
		string(roomID), s.cfg.ChatPollInterval,
	)
	if s.cfg.OnChatUpdate != nil {
		s.Chat.OnUpdate(s.cfg.OnChatUpdate)
	}
	if err := s.Chat.LoadHistory(ctx); err != nil {
		log.Debug().Err(err).Str("module", "client.session").Msg("initial chat load failed")
	}
	s.Chat.Start(runCtx)

	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	log.Info().Str("module", "client.session").Str("room", string(roomID)).Str("self", string(self)).Msg("joined session")
	return nil
}

func (s *Session) orch() *Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Orch
}

// Leave tears the session down: all links closed, all in-flight
// negotiation cancelled, all hardware released. Safe from any exit path;
// only the first call does work.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() {
		s.mu.Lock()
		s.joined = false
		s.mu.Unlock()

		if s.signaling != nil {
			_ = s.signaling.LeaveRoom()
		}
		s.teardown()
		log.Info().Str("module", "client.session").Msg("left session")
	})
}

func (s *Session) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
	if o := s.orch(); o != nil {
		o.Close()
	}
	s.Media.ReleaseAll()
	if s.signaling != nil {
		s.signaling.Close()
	}
}

// Package client is the participant side of a live session: peer
// connection orchestration, local media ownership, the in-room chat
// channel, and the signaling socket, composed by Session.
package client

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/domain"
)

var ErrOrchestratorClosed = errors.New("orchestrator closed")

// Signaler sends addressed negotiation messages through the relay.
type Signaler interface {
	SendOffer(to domain.UserID, sdp webrtc.SessionDescription) error
	SendAnswer(to domain.UserID, sdp webrtc.SessionDescription) error
	SendCandidate(to domain.UserID, c webrtc.ICECandidateInit) error
}

// TransportFactory mints one PeerTransport per remote member.
type TransportFactory func(remote domain.UserID) (PeerTransport, error)

// PeerEvent reports a per-peer state change to the UI layer. A failed
// link is a degraded tile, never a session teardown.
type PeerEvent struct {
	User  domain.UserID
	State LinkState
}

const DefaultOfferTimeout = 30 * time.Second

// Initiates decides which side of a pair creates the offer: the member
// with the lexicographically smaller identifier. Both sides evaluate the
// same pure function, so exactly one of them initiates and offer glare
// cannot happen.
func Initiates(local, remote domain.UserID) bool {
	return local < remote
}

// Orchestrator owns every PeerLink of one local session.
type Orchestrator struct {
	self         domain.UserID
	signaler     Signaler
	media        *MediaController
	newTransport TransportFactory
	offerTimeout time.Duration
	onPeer       func(PeerEvent)

	mu     sync.Mutex
	links  map[domain.UserID]*PeerLink
	closed bool

	closeOnce sync.Once
}

func NewOrchestrator(self domain.UserID, sig Signaler, media *MediaController, factory TransportFactory) *Orchestrator {
	return &Orchestrator{
		self:         self,
		signaler:     sig,
		media:        media,
		newTransport: factory,
		offerTimeout: DefaultOfferTimeout,
		links:        make(map[domain.UserID]*PeerLink),
	}
}

func (o *Orchestrator) SetOfferTimeout(d time.Duration) { o.offerTimeout = d }

// OnPeerEvent registers the UI callback. Must be set before joining.
func (o *Orchestrator) OnPeerEvent(fn func(PeerEvent)) { o.onPeer = fn }

func (o *Orchestrator) emit(user domain.UserID, state LinkState) {
	if o.onPeer != nil {
		o.onPeer(PeerEvent{User: user, State: state})
	}
}

// Links returns the current remote members and link states.
func (o *Orchestrator) Links() map[domain.UserID]LinkState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[domain.UserID]LinkState, len(o.links))
	for u, l := range o.links {
		out[u] = l.State()
	}
	return out
}

// HandleRoomMembers processes the join reply: the members that were in
// the room before us. We offer only toward peers the initiator rule
// assigns to us; the others will offer to us.
func (o *Orchestrator) HandleRoomMembers(users []domain.UserID) {
	for _, u := range users {
		o.maybeInitiate(u)
	}
}

// HandleUserJoined processes a newcomer notification. Duplicate
// notifications for a member we already have a link to are no-ops.
func (o *Orchestrator) HandleUserJoined(user domain.UserID) {
	o.maybeInitiate(user)
}

func (o *Orchestrator) maybeInitiate(remote domain.UserID) {
	if remote == o.self || !Initiates(o.self, remote) {
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if _, exists := o.links[remote]; exists {
		o.mu.Unlock()
		log.Debug().Str("module", "client.orch").Str("remote", string(remote)).Msg("duplicate join ignored")
		return
	}
	link, err := o.createLink(remote)
	if err != nil {
		o.mu.Unlock()
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("create transport")
		return
	}
	o.mu.Unlock()

	offer, err := link.transport.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("create offer")
		o.failLink(remote, link)
		return
	}
	link.setState(LinkNegotiating)
	o.emit(remote, LinkNegotiating)

	link.startOfferTimer(o.offerTimeout, func() {
		log.Warn().Str("module", "client.orch").Str("remote", string(remote)).Msg("offer timed out")
		o.failLink(remote, link)
	})

	if err := o.signaler.SendOffer(remote, offer); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("send offer")
		o.failLink(remote, link)
	}
}

// createLink must be called with o.mu held. It wires transport callbacks
// and attaches the controller's current outbound tracks.
func (o *Orchestrator) createLink(remote domain.UserID) (*PeerLink, error) {
	t, err := o.newTransport(remote)
	if err != nil {
		return nil, err
	}
	link := newPeerLink(remote, t)

	t.OnCandidate(func(c webrtc.ICECandidateInit) {
		if err := o.signaler.SendCandidate(remote, c); err != nil {
			log.Warn().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("send candidate")
		}
	})
	t.OnStateChange(func(s webrtc.PeerConnectionState) {
		o.handleTransportState(remote, link, s)
	})

	if o.media != nil {
		for _, track := range o.media.Tracks() {
			if err := t.AddTrack(track); err != nil {
				_ = t.Close()
				return nil, err
			}
		}
	}

	o.links[remote] = link
	return link, nil
}

func (o *Orchestrator) handleTransportState(remote domain.UserID, link *PeerLink, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		link.stopOfferTimer()
		if link.setState(LinkConnected) {
			o.emit(remote, LinkConnected)
		}
	case webrtc.PeerConnectionStateFailed:
		o.failLink(remote, link)
	}
}

// failLink degrades one peer without touching the rest of the session.
func (o *Orchestrator) failLink(remote domain.UserID, link *PeerLink) {
	link.stopOfferTimer()
	if link.setState(LinkFailed) {
		o.emit(remote, LinkFailed)
	}
}

// HandleOffer answers an inbound offer, creating the link if this is the
// first contact with that member.
func (o *Orchestrator) HandleOffer(from domain.UserID, sdp webrtc.SessionDescription) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	link, exists := o.links[from]
	if !exists {
		var err error
		link, err = o.createLink(from)
		if err != nil {
			o.mu.Unlock()
			log.Error().Err(err).Str("module", "client.orch").Str("from", string(from)).Msg("create transport for offer")
			return
		}
	}
	o.mu.Unlock()

	answer, err := link.transport.ApplyOffer(sdp)
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("from", string(from)).Msg("apply offer")
		o.failLink(from, link)
		return
	}
	if err := link.remoteApplied(); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("from", string(from)).Msg("flush candidates")
	}
	link.setState(LinkNegotiating)
	o.emit(from, LinkNegotiating)

	if err := o.signaler.SendAnswer(from, answer); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("from", string(from)).Msg("send answer")
		o.failLink(from, link)
	}
}

// HandleAnswer completes an offer we sent. An answer from a member we
// have no link to is logged and dropped, never a crash.
func (o *Orchestrator) HandleAnswer(from domain.UserID, sdp webrtc.SessionDescription) {
	o.mu.Lock()
	link, exists := o.links[from]
	o.mu.Unlock()
	if !exists {
		log.Warn().Str("module", "client.orch").Str("from", string(from)).Msg("answer without link, dropped")
		return
	}

	if err := link.transport.ApplyAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("from", string(from)).Msg("apply answer")
		o.failLink(from, link)
		return
	}
	link.stopOfferTimer()
	if err := link.remoteApplied(); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("from", string(from)).Msg("flush candidates")
	}
}

// HandleCandidate routes a remote ICE candidate to its link. Candidates
// arriving before the remote description are buffered by the link.
func (o *Orchestrator) HandleCandidate(from domain.UserID, c webrtc.ICECandidateInit) {
	o.mu.Lock()
	link, exists := o.links[from]
	o.mu.Unlock()
	if !exists {
		log.Debug().Str("module", "client.orch").Str("from", string(from)).Msg("candidate without link, dropped")
		return
	}
	if err := link.addCandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "client.orch").Str("from", string(from)).Msg("add candidate")
	}
}

// HandleUserLeft tears down the link to the departed member only.
func (o *Orchestrator) HandleUserLeft(user domain.UserID) {
	o.mu.Lock()
	link, exists := o.links[user]
	delete(o.links, user)
	o.mu.Unlock()
	if !exists {
		return
	}
	link.close()
	o.emit(user, LinkClosed)
}

// RenegotiateTrack swaps the outbound track of the given kind on every
// active link. In-place replacement when the transport supports it, a
// fresh offer toward peers whose transport does not. A nil track stops
// the outbound stream of that kind.
func (o *Orchestrator) RenegotiateTrack(kind string, track webrtc.TrackLocal) {
	o.mu.Lock()
	links := make(map[domain.UserID]*PeerLink, len(o.links))
	for u, l := range o.links {
		links[u] = l
	}
	o.mu.Unlock()

	for remote, link := range links {
		if link.State() == LinkClosed || link.State() == LinkFailed {
			continue
		}
		replaced, err := link.transport.ReplaceTrack(kind, track)
		if err != nil {
			log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("replace track")
			continue
		}
		if replaced {
			continue
		}
		if track == nil {
			// Nothing to attach in place of the removed track.
			continue
		}
		// Fallback: full renegotiation.
		if err := link.transport.AddTrack(track); err != nil {
			log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("add track for renegotiation")
			continue
		}
		offer, err := link.transport.CreateOffer()
		if err != nil {
			log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("renegotiation offer")
			continue
		}
		if err := o.signaler.SendOffer(remote, offer); err != nil {
			log.Warn().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("send renegotiation offer")
		}
	}
}

// Close tears down every link exactly once. Local tracks are released by
// the media controller, which owns them; links only drop references.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		links := o.links
		o.links = make(map[domain.UserID]*PeerLink)
		o.mu.Unlock()

		for user, link := range links {
			link.close()
			o.emit(user, LinkClosed)
		}
		log.Info().Str("module", "client.orch").Int("links", len(links)).Msg("orchestrator closed")
	})
}

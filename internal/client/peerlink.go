package client

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/openmentor/livesession/internal/domain"
)

// LinkState is the lifecycle of one peer-to-peer connection.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkNegotiating
	LinkConnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// PeerTransport is the encrypted media connection under a PeerLink.
// Implemented over pion in internal/adapters/rtc and faked in tests.
type PeerTransport interface {
	// CreateOffer creates and applies the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOffer applies a remote offer and returns the local answer.
	ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer applies the remote answer to a sent offer.
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	// ReplaceTrack swaps the outbound track of the given kind in place.
	// Reports false when the transport cannot do it without renegotiating.
	ReplaceTrack(kind string, track webrtc.TrackLocal) (bool, error)
	OnCandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// PeerLink owns one PeerTransport toward one remote member. Exclusively
// owned by the orchestrator that created it.
type PeerLink struct {
	remote    domain.UserID
	transport PeerTransport

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	timer     *time.Timer
}

func newPeerLink(remote domain.UserID, t PeerTransport) *PeerLink {
	return &PeerLink{remote: remote, transport: t, state: LinkNew}
}

func (l *PeerLink) Remote() domain.UserID { return l.remote }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// setState transitions the link unless it is already terminal.
// Reports whether the transition happened.
func (l *PeerLink) setState(s LinkState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed || (l.state == LinkFailed && s != LinkClosed) {
		return false
	}
	if l.state == s {
		return false
	}
	l.state = s
	return true
}

// addCandidate applies a remote candidate, or buffers it while the
// remote description is still missing. Buffered candidates are flushed
// by remoteApplied; none are dropped.
func (l *PeerLink) addCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.transport.AddICECandidate(c)
}

// remoteApplied marks the remote description set and flushes buffered
// candidates in arrival order.
func (l *PeerLink) remoteApplied() error {
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.transport.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

// startOfferTimer fails the link if no answer arrives within d.
func (l *PeerLink) startOfferTimer(d time.Duration, onTimeout func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(d, onTimeout)
}

func (l *PeerLink) stopOfferTimer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// close releases the transport. Safe to call more than once.
func (l *PeerLink) close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()
	_ = l.transport.Close()
}

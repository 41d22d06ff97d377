package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/domain"
)

// WebRTCTransport backs one peer link with a pion PeerConnection.
type WebRTCTransport struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

func DefaultWebRTCConfig(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
}

func NewWebRTCTransport(cfg webrtc.Configuration, remote domain.UserID) (*WebRTCTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	t := &WebRTCTransport{pc: pc, remote: remote, senders: make(map[string]*webrtc.RTPSender)}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(remote)).Str("peer_connection_state", s.String()).Msg("peer state")
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("remote", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		t.mu.Lock()
		fn := t.onTrack
		t.mu.Unlock()
		if fn != nil {
			fn(track, receiver)
		}
	})

	return t, nil
}

func (t *WebRTCTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gatherComplete
	return *t.pc.LocalDescription(), nil
}

func (t *WebRTCTransport) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gatherComplete
	return *t.pc.LocalDescription(), nil
}

func (t *WebRTCTransport) ApplyAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

func (t *WebRTCTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(ci)
}

func (t *WebRTCTransport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.senders[track.Kind().String()] = sender
	t.mu.Unlock()
	return nil
}

// ReplaceTrack swaps the outbound track of the given kind on its existing
// RTPSender. Reports false when no sender of that kind is attached yet.
func (t *WebRTCTransport) ReplaceTrack(kind string, track webrtc.TrackLocal) (bool, error) {
	t.mu.Lock()
	sender, ok := t.senders[kind]
	t.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return false, err
	}
	return true, nil
}

func (t *WebRTCTransport) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *WebRTCTransport) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// OnRemoteTrack sets the application callback for inbound media.
func (t *WebRTCTransport) OnRemoteTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *WebRTCTransport) Close() error {
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("remote", string(t.remote)).Msg("close error")
		return err
	}
	log.Debug().Str("module", "rtc").Str("remote", string(t.remote)).Msg("closed")
	return nil
}

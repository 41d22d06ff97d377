package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Track kinds as seen by the media controller and peer transports.
const (
	KindAudio   = "audio"
	KindVideo   = "video"
	KindDisplay = "display"
)

var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrNotAcquired       = errors.New("media not acquired")
	ErrAlreadySharing    = errors.New("screen share already active")
)

// LocalTrack is one hardware-bound media track. Only the controller that
// opened it may close it.
type LocalTrack interface {
	Kind() string
	Enabled() bool
	SetEnabled(bool)
	// Unwrap exposes the transport-attachable track.
	Unwrap() webrtc.TrackLocal
	// OnEnded fires when the OS ends the capture (user stopped sharing
	// from browser chrome). Only display capture uses it today.
	OnEnded(func())
	Close() error
}

// Device abstracts OS capture so the controller is testable.
type Device interface {
	Open(kind string) (LocalTrack, error)
}

// Constraints selects which capture kinds Acquire opens.
type Constraints struct {
	Audio bool
	Video bool
}

// LocalMediaState is the UI-facing snapshot.
type LocalMediaState struct {
	HasAudioTrack   bool
	HasVideoTrack   bool
	IsScreenSharing bool
	Muted           bool
	CameraOff       bool
}

// MediaController exclusively owns local capture tracks. Peer transports
// get references via Tracks()/the swap callback and never stop a track
// themselves, so release happens exactly once.
type MediaController struct {
	device Device

	// onVideoSwap pushes a replacement outbound video track to the
	// orchestrator when screen share starts or stops.
	onVideoSwap func(kind string, track webrtc.TrackLocal)

	mu      sync.Mutex
	audio   LocalTrack
	camera  LocalTrack
	screen  LocalTrack
	muted   bool
	camOff  bool
	sharing bool
}

func NewMediaController(device Device) *MediaController {
	return &MediaController{device: device}
}

// OnVideoSwap registers the orchestrator hook. Must be set before
// StartScreenShare is reachable.
func (m *MediaController) OnVideoSwap(fn func(kind string, track webrtc.TrackLocal)) {
	m.onVideoSwap = fn
}

// Acquire opens camera and/or microphone. A denied permission or missing
// device surfaces as a typed error; the caller must not proceed to join
// signaling without media.
func (m *MediaController) Acquire(c Constraints) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Audio && m.audio == nil {
		t, err := m.device.Open(KindAudio)
		if err != nil {
			return err
		}
		m.audio = t
	}
	if c.Video && m.camera == nil {
		t, err := m.device.Open(KindVideo)
		if err != nil {
			// Do not keep a half-acquired mic holding the hardware.
			m.releaseLocked()
			return err
		}
		m.camera = t
	}
	log.Info().Str("module", "client.media").Bool("audio", c.Audio).Bool("video", c.Video).Msg("media acquired")
	return nil
}

// State snapshots what the UI renders.
func (m *MediaController) State() LocalMediaState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return LocalMediaState{
		HasAudioTrack:   m.audio != nil,
		HasVideoTrack:   m.camera != nil || m.screen != nil,
		IsScreenSharing: m.sharing,
		Muted:           m.muted,
		CameraOff:       m.camOff,
	}
}

// Tracks returns the current outbound set: audio plus screen-or-camera.
func (m *MediaController) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webrtc.TrackLocal
	if m.audio != nil {
		out = append(out, m.audio.Unwrap())
	}
	if m.sharing && m.screen != nil {
		out = append(out, m.screen.Unwrap())
	} else if m.camera != nil {
		out = append(out, m.camera.Unwrap())
	}
	return out
}

// ActiveKinds lists the kinds currently outbound, for state assertions.
func (m *MediaController) ActiveKinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	if m.audio != nil {
		out = append(out, KindAudio)
	}
	if m.sharing && m.screen != nil {
		out = append(out, KindDisplay)
	} else if m.camera != nil {
		out = append(out, KindVideo)
	}
	return out
}

// ToggleMute flips the audio track's enabled flag. Purely local: the
// track reference is unchanged, so no renegotiation happens.
func (m *MediaController) ToggleMute() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audio == nil {
		return false, ErrNotAcquired
	}
	m.muted = !m.muted
	m.audio.SetEnabled(!m.muted)
	return m.muted, nil
}

// ToggleCamera flips the camera track's enabled flag.
func (m *MediaController) ToggleCamera() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.camera == nil {
		return false, ErrNotAcquired
	}
	m.camOff = !m.camOff
	m.camera.SetEnabled(!m.camOff)
	return m.camOff, nil
}

// StartScreenShare opens display capture and swaps it in as the outbound
// video. The OS "user stopped sharing" event funnels into the same stop
// path as an explicit stop.
func (m *MediaController) StartScreenShare() error {
	m.mu.Lock()
	if m.sharing {
		m.mu.Unlock()
		return ErrAlreadySharing
	}
	t, err := m.device.Open(KindDisplay)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.screen = t
	m.sharing = true
	m.mu.Unlock()

	t.OnEnded(func() { m.StopScreenShare() })

	log.Info().Str("module", "client.media").Msg("screen share started")
	if m.onVideoSwap != nil {
		m.onVideoSwap(KindVideo, t.Unwrap())
	}
	return nil
}

// StopScreenShare releases display capture and restores the camera as
// the outbound video. Idempotent.
func (m *MediaController) StopScreenShare() {
	m.mu.Lock()
	if !m.sharing {
		m.mu.Unlock()
		return
	}
	m.sharing = false
	screen := m.screen
	m.screen = nil
	camera := m.camera
	m.mu.Unlock()

	if screen != nil {
		if err := screen.Close(); err != nil {
			log.Warn().Err(err).Str("module", "client.media").Msg("close display capture")
		}
	}
	log.Info().Str("module", "client.media").Msg("screen share stopped")
	if m.onVideoSwap != nil {
		// Without a camera the swap target is nil, which tells the links
		// to stop sending video instead of keeping the dead display track.
		if camera != nil {
			m.onVideoSwap(KindVideo, camera.Unwrap())
		} else {
			m.onVideoSwap(KindVideo, nil)
		}
	}
}

// ReleaseAll stops every owned track. Idempotent; part of the single
// teardown path, so the camera LED never stays on after leaving.
func (m *MediaController) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

func (m *MediaController) releaseLocked() {
	for _, t := range []LocalTrack{m.audio, m.camera, m.screen} {
		if t != nil {
			if err := t.Close(); err != nil {
				log.Warn().Err(err).Str("module", "client.media").Msg("close track")
			}
		}
	}
	m.audio, m.camera, m.screen = nil, nil, nil
	m.sharing = false
	m.muted = false
	m.camOff = false
}

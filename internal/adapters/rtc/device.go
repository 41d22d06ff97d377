package rtc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/openmentor/livesession/internal/client"
)

// StaticDevice mints sample-fed local tracks, one per capture kind. A
// headless participant pushes encoded samples into them; the controller
// treats them like any OS capture.
type StaticDevice struct{}

func (StaticDevice) Open(kind string) (client.LocalTrack, error) {
	var caps webrtc.RTPCodecCapability
	var trackKind string
	switch kind {
	case client.KindAudio:
		caps = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
		trackKind = "audio"
	case client.KindVideo, client.KindDisplay:
		caps = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
		trackKind = "video"
	default:
		return nil, fmt.Errorf("unknown capture kind %q", kind)
	}
	track, err := webrtc.NewTrackLocalStaticSample(caps, trackKind+"-"+uuid.NewString(), "live-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &staticTrack{kind: kind, track: track, enabled: 1}, nil
}

type staticTrack struct {
	kind    string
	track   *webrtc.TrackLocalStaticSample
	enabled int32

	mu      sync.Mutex
	onEnded func()
	closed  bool
}

func (t *staticTrack) Kind() string            { return t.kind }
func (t *staticTrack) Enabled() bool           { return atomic.LoadInt32(&t.enabled) == 1 }
func (t *staticTrack) Unwrap() webrtc.TrackLocal { return t.track }

func (t *staticTrack) SetEnabled(v bool) {
	if v {
		atomic.StoreInt32(&t.enabled, 1)
	} else {
		atomic.StoreInt32(&t.enabled, 0)
	}
}

func (t *staticTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// WriteSample forwards one encoded sample, dropping silently while the
// track is disabled so mute needs no renegotiation.
func (t *staticTrack) WriteSample(s media.Sample) error {
	if !t.Enabled() {
		return nil
	}
	return t.track.WriteSample(s)
}

// End simulates the capture source going away, firing the OnEnded hook
// exactly once.
func (t *staticTrack) End() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *staticTrack) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

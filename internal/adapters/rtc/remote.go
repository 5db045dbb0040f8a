package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/core"
)

// remoteStream bundles the remote tracks of one connection behind
// core.MediaStream. Tracks accumulate as pion delivers them.
type remoteStream struct {
	id string

	mu     sync.Mutex
	tracks []core.MediaTrack
}

func newRemoteStream(id string) *remoteStream {
	return &remoteStream{id: id}
}

func (s *remoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, &remoteTrack{t: t, enabled: true})
	s.mu.Unlock()
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Tracks() []core.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.MediaTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *remoteStream) Stop() error {
	for _, t := range s.Tracks() {
		_ = t.Stop()
	}
	return nil
}

// remoteTrack wraps a TrackRemote. Receiving stops when the connection
// closes; Stop here only marks the track disabled for renderers.
type remoteTrack struct {
	t *webrtc.TrackRemote

	mu      sync.Mutex
	enabled bool
}

func (t *remoteTrack) ID() string { return t.t.ID() }

func (t *remoteTrack) Kind() core.TrackKind {
	if t.t.Kind() == webrtc.RTPCodecTypeVideo {
		return core.TrackVideo
	}
	return core.TrackAudio
}

func (t *remoteTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *remoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *remoteTrack) Stop() error {
	t.SetEnabled(false)
	return nil
}

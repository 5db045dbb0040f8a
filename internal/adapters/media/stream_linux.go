//go:build linux && cgo

package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/core"
)

type localStream struct {
	id string

	mu      sync.Mutex
	tracks  []core.MediaTrack
	stopped bool
}

func wrapStream(ms mediadevices.MediaStream) *localStream {
	s := &localStream{id: uuid.NewString()}
	for _, t := range ms.GetTracks() {
		s.tracks = append(s.tracks, &localTrack{t: t, enabled: true})
	}
	return s
}

func (s *localStream) ID() string { return s.id }

func (s *localStream) Tracks() []core.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.MediaTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *localStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	tracks := s.tracks
	s.mu.Unlock()

	var first error
	for _, t := range tracks {
		if err := t.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// localTrack wraps a mediadevices capture track. SetEnabled only flags
// the track for local renderers; what the peer receives is gated at the
// RTP sender through core.MediaConnection.SetTrackEnabled. The device
// stays warm for a quick unmute.
type localTrack struct {
	t mediadevices.Track

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *localTrack) ID() string { return t.t.ID() }

func (t *localTrack) Kind() core.TrackKind {
	if t.t.Kind() == webrtc.RTPCodecTypeVideo {
		return core.TrackVideo
	}
	return core.TrackAudio
}

func (t *localTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *localTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()
	return t.t.Close()
}

// RTPTrack exposes the underlying track for peer connection attachment.
func (t *localTrack) RTPTrack() webrtc.TrackLocal { return t.t }

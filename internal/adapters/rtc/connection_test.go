package rtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/core"
)

type sampleTrack struct {
	t    *webrtc.TrackLocalStaticSample
	kind core.TrackKind
}

func (s *sampleTrack) ID() string                  { return s.t.ID() }
func (s *sampleTrack) Kind() core.TrackKind        { return s.kind }
func (s *sampleTrack) SetEnabled(bool)             {}
func (s *sampleTrack) Enabled() bool               { return true }
func (s *sampleTrack) Stop() error                 { return nil }
func (s *sampleTrack) RTPTrack() webrtc.TrackLocal { return s.t }

type sampleStream struct {
	tracks []core.MediaTrack
}

func (s *sampleStream) ID() string               { return "capture" }
func (s *sampleStream) Tracks() []core.MediaTrack { return s.tracks }
func (s *sampleStream) Stop() error              { return nil }

func newSampleVideoTrack(t *testing.T, id string) *sampleTrack {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "capture")
	if err != nil {
		t.Fatalf("video track: %v", err)
	}
	return &sampleTrack{t: track, kind: core.TrackVideo}
}

func newSampleStream(t *testing.T) *sampleStream {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "capture")
	if err != nil {
		t.Fatalf("audio track: %v", err)
	}
	return &sampleStream{tracks: []core.MediaTrack{
		&sampleTrack{t: audio, kind: core.TrackAudio},
		newSampleVideoTrack(t, "video"),
	}}
}

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	mc, err := NewFactory(nil).NewConnection(context.Background(), "sid")
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	conn := mc.(*Connection)
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.AddLocalTracks(newSampleStream(t)); err != nil {
		t.Fatalf("AddLocalTracks: %v", err)
	}
	return conn
}

func TestSetTrackEnabledDetachesSender(t *testing.T) {
	conn := newTestConnection(t)
	if conn.audio.sender.Track() == nil {
		t.Fatal("audio sender has no track after AddLocalTracks")
	}

	if err := conn.SetTrackEnabled(core.TrackAudio, false); err != nil {
		t.Fatalf("disable audio: %v", err)
	}
	if conn.audio.sender.Track() != nil {
		t.Fatal("muted audio sender still carries a track")
	}
	if conn.video.sender.Track() == nil {
		t.Fatal("muting audio detached the video sender")
	}

	if err := conn.SetTrackEnabled(core.TrackAudio, true); err != nil {
		t.Fatalf("enable audio: %v", err)
	}
	if conn.audio.sender.Track() == nil {
		t.Fatal("unmuted audio sender has no track")
	}
}

func TestReplaceVideoTrackWhileMutedDefersAttach(t *testing.T) {
	conn := newTestConnection(t)
	if err := conn.SetTrackEnabled(core.TrackVideo, false); err != nil {
		t.Fatalf("disable video: %v", err)
	}

	replacement := newSampleVideoTrack(t, "rear")
	if err := conn.ReplaceVideoTrack(replacement); err != nil {
		t.Fatalf("ReplaceVideoTrack: %v", err)
	}
	if conn.video.sender.Track() != nil {
		t.Fatal("muted video sender got a track on replace")
	}

	if err := conn.SetTrackEnabled(core.TrackVideo, true); err != nil {
		t.Fatalf("enable video: %v", err)
	}
	if got := conn.video.sender.Track(); got != replacement.t {
		t.Fatalf("sender track = %v, want the replacement", got)
	}
}

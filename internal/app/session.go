package app

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

// Session owns the concrete resources of one call: local and remote
// streams, the peer connection and the queue of remote ICE candidates
// that arrived before a remote description existed. Only the controller
// mutates a session; UI code reads state through controller accessors.
type Session struct {
	id        domain.SessionID
	peer      domain.PeerID
	direction domain.Direction
	kind      domain.MediaKind

	mu         sync.Mutex
	local      core.MediaStream
	camera     core.MediaStream // replacement capture after a facing switch
	remote     core.MediaStream
	conn       core.MediaConnection
	pending    []webrtc.ICECandidateInit
	remoteSet  bool
	audioMuted bool
	videoMuted bool
	speakerOn  bool
	facing     domain.CameraFacing
	released   bool
}

func newSession(peer domain.PeerID, direction domain.Direction, kind domain.MediaKind) *Session {
	return &Session{
		id:        domain.NewSessionID(),
		peer:      peer,
		direction: direction,
		kind:      kind,
		facing:    domain.FacingUser,
	}
}

func (s *Session) ID() domain.SessionID       { return s.id }
func (s *Session) Peer() domain.PeerID        { return s.peer }
func (s *Session) Direction() domain.Direction { return s.direction }
func (s *Session) Kind() domain.MediaKind     { return s.kind }

func (s *Session) attachLocal(stream core.MediaStream) {
	s.mu.Lock()
	s.local = stream
	s.mu.Unlock()
}

func (s *Session) attachConn(conn core.MediaConnection) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) connection() core.MediaConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// attachRemote stores the remote stream; reports whether it is the first.
func (s *Session) attachRemote(stream core.MediaStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.remote == nil
	s.remote = stream
	return first
}

// seedCandidates preloads candidates queued before the session existed
// (incoming invites queue at the controller until acceptance).
func (s *Session) seedCandidates(cands []webrtc.ICECandidateInit) {
	s.mu.Lock()
	s.pending = append(s.pending, cands...)
	s.mu.Unlock()
}

// AddRemoteCandidate applies the candidate if a remote description is
// set, otherwise queues it. Application failures are returned to the
// caller, which logs and continues; they never abort the call.
func (s *Session) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	if !s.remoteSet || s.conn == nil {
		s.pending = append(s.pending, c)
		return nil
	}
	return s.conn.AddICECandidate(c)
}

// ApplyRemoteDescription sets the remote description and drains the
// candidate queue in receipt order. A candidate that fails to apply is
// logged and skipped. The queue is empty afterwards.
func (s *Session) ApplyRemoteDescription(sd webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("%w: no connection", core.ErrSignalingApply)
	}
	if err := s.conn.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("%w: %v", core.ErrSignalingApply, err)
	}
	s.remoteSet = true
	for _, c := range s.pending {
		if err := s.conn.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("sid", string(s.id)).Msg("queued candidate rejected, skipping")
		}
	}
	s.pending = nil
	return nil
}

// PendingCandidates reports how many remote candidates are still queued.
func (s *Session) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ToggleAudio flips the audio mute flag and pauses/resumes local audio
// tracks. Returns the new muted state.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioMuted = !s.audioMuted
	s.setLocalEnabled(core.TrackAudio, !s.audioMuted)
	return s.audioMuted
}

// ToggleVideo flips the video mute flag. Returns the new muted state.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoMuted = !s.videoMuted
	s.setLocalEnabled(core.TrackVideo, !s.videoMuted)
	return s.videoMuted
}

// ToggleSpeaker flips the speaker flag. Audio routing itself belongs to
// the platform layer; the session only carries the state.
func (s *Session) ToggleSpeaker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speakerOn = !s.speakerOn
	return s.speakerOn
}

func (s *Session) AudioMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioMuted
}

func (s *Session) VideoMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoMuted
}

func (s *Session) SpeakerOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerOn
}

func (s *Session) Facing() domain.CameraFacing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

// adoptCamera installs a replacement capture stream after a successful
// facing switch: the previous video tracks are stopped and the current
// mute state is re-applied to the new one.
func (s *Session) adoptCamera(stream core.MediaStream, facing domain.CameraFacing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocalVideo()
	if old := s.camera; old != nil {
		logStop("camera stream", old.Stop)
	}
	s.camera = stream
	s.facing = facing
	for _, t := range stream.Tracks() {
		if t.Kind() == core.TrackVideo {
			t.SetEnabled(!s.videoMuted)
		}
	}
}

// setLocalEnabled flags the capture tracks for local renderers and
// pauses or resumes the outgoing sender for kind.
func (s *Session) setLocalEnabled(kind core.TrackKind, enabled bool) {
	for _, stream := range []core.MediaStream{s.local, s.camera} {
		if stream == nil {
			continue
		}
		for _, t := range stream.Tracks() {
			if t.Kind() == kind {
				t.SetEnabled(enabled)
			}
		}
	}
	if s.conn != nil {
		if err := s.conn.SetTrackEnabled(kind, enabled); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("sid", string(s.id)).Str("kind", string(kind)).Msg("pause sender")
		}
	}
}

func (s *Session) stopLocalVideo() {
	for _, stream := range []core.MediaStream{s.local, s.camera} {
		if stream == nil {
			continue
		}
		for _, t := range stream.Tracks() {
			if t.Kind() == core.TrackVideo {
				logStop("video track", t.Stop)
			}
		}
	}
}

// Release stops every track on the local and remote streams, closes the
// connection, clears the candidate queue and resets the flags. Safe to
// call multiple times.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	if s.remote != nil {
		logStop("remote stream", s.remote.Stop)
	}
	if s.camera != nil {
		logStop("camera stream", s.camera.Stop)
	}
	if s.local != nil {
		logStop("local stream", s.local.Stop)
	}
	if s.conn != nil {
		logStop("connection", s.conn.Close)
	}
	s.pending = nil
	s.audioMuted = false
	s.videoMuted = false
	s.speakerOn = false
	log.Info().Str("module", "app.session").Str("sid", string(s.id)).Str("peer", string(s.peer)).Msg("session released")
	return nil
}

func logStop(what string, stop func() error) {
	if err := stop(); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msgf("release %s", what)
	}
}

// videoTrackOf returns the first video track of stream, if any.
func videoTrackOf(stream core.MediaStream) core.MediaTrack {
	for _, t := range stream.Tracks() {
		if t.Kind() == core.TrackVideo {
			return t
		}
	}
	return nil
}

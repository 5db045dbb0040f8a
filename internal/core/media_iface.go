package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/domain"
)

// Constraints describe what a MediaDevice should capture.
type Constraints struct {
	Audio  bool
	Video  bool
	Facing domain.CameraFacing
}

// ConstraintsFor maps a call's media kind onto capture constraints.
func ConstraintsFor(kind domain.MediaKind, facing domain.CameraFacing) Constraints {
	return Constraints{Audio: true, Video: kind.WantsVideo(), Facing: facing}
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaTrack is one captured or received track.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
	// SetEnabled pauses/resumes the track without stopping the device.
	SetEnabled(bool)
	Enabled() bool
	// Stop releases the underlying device or receiver. Idempotent.
	Stop() error
}

// MediaStream is an ordered set of tracks sharing a lifetime.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	// Stop stops every track. Idempotent.
	Stop() error
}

// MediaDevice acquires local capture streams.
// Acquire blocks on device permission; honor ctx cancellation.
type MediaDevice interface {
	Acquire(ctx context.Context, c Constraints) (MediaStream, error)
}

// ConnState is the coarse connection health the controller reacts to.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// MediaConnection abstracts the peer connection for one call.
// Owned by the session that created it; Close() must be safe to repeat.
type MediaConnection interface {
	// AddLocalTracks attaches every track of stream for sending.
	AddLocalTracks(stream MediaStream) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(sd webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(c webrtc.ICECandidateInit) error
	// ReplaceVideoTrack swaps the outgoing video track in place,
	// without renegotiating the session.
	ReplaceVideoTrack(t MediaTrack) error
	// SetTrackEnabled pauses or resumes sending for one track kind.
	// A paused sender transmits nothing; the capture device stays open.
	SetTrackEnabled(kind TrackKind, enabled bool) error
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnRemoteStream sets a callback fired when remote media arrives.
	OnRemoteStream(func(MediaStream))
	// OnStateChange sets a callback for connection health transitions.
	OnStateChange(func(ConnState))
	Close() error
}

// ConnectionFactory creates peer connections; tests inject fakes here.
type ConnectionFactory interface {
	NewConnection(ctx context.Context, sid domain.SessionID) (MediaConnection, error)
}

// Package domain contains entities without logic, just meta-data.
package domain

import "github.com/google/uuid"

type (
	SessionID string
	PeerID    string
)

// NewSessionID returns a fresh identifier for a call session.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type MediaKind string

const (
	MediaVoice MediaKind = "voice"
	MediaVideo MediaKind = "video"
)

// WantsVideo reports whether a local video track should be requested.
func (k MediaKind) WantsVideo() bool { return k == MediaVideo }

// CallState is the lifecycle state of a call as seen by the controller.
// Keep values stable because they are emitted to UI clients.
type CallState string

const (
	CallIdle            CallState = "idle"
	CallOutgoingRinging CallState = "outgoing_ringing"
	CallIncomingRinging CallState = "incoming_ringing"
	CallConnecting      CallState = "connecting"
	CallActive          CallState = "active"
	CallEnded           CallState = "ended"
)

// EndReason says why a call reached CallEnded.
type EndReason string

const (
	EndHangup         EndReason = "hangup"
	EndRejected       EndReason = "rejected"
	EndConnectionLost EndReason = "connection_lost"
	EndSignalingError EndReason = "signaling_error"
)

// RejectReason is carried on the wire in call-rejected messages.
type RejectReason string

const (
	RejectUserRejected RejectReason = "user-rejected"
	RejectBusy         RejectReason = "busy"
	RejectUnreachable  RejectReason = "unreachable"
	RejectMediaFailure RejectReason = "media-failure"
)

// CameraFacing selects which capture device a video track comes from.
type CameraFacing string

const (
	FacingUser        CameraFacing = "user"
	FacingEnvironment CameraFacing = "environment"
)

// Flip returns the opposite facing mode.
func (f CameraFacing) Flip() CameraFacing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

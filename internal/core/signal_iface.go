package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/domain"
)

// SignalKind tags a signaling message. Values are the wire "type" field.
type SignalKind string

const (
	SignalInvite    SignalKind = "call-invite"
	SignalAnswer    SignalKind = "call-answer"
	SignalCandidate SignalKind = "ice-candidate"
	SignalAccepted  SignalKind = "call-accepted"
	SignalRejected  SignalKind = "call-rejected"
	SignalHangup    SignalKind = "call-hangup"
	SignalPing      SignalKind = "ping"
	SignalPong      SignalKind = "pong"
)

// Signal is one signaling message between two peers. Only the fields
// relevant to Kind are set.
type Signal struct {
	Kind      SignalKind
	From      domain.PeerID
	To        domain.PeerID
	SDP       *webrtc.SessionDescription
	Candidate *webrtc.ICECandidateInit
	MediaKind domain.MediaKind
	Reason    domain.RejectReason
}

// SignalChannel abstracts the transport carrying signaling messages.
// Owned by the adapter; the adapter must Close() it.
type SignalChannel interface {
	Send(ctx context.Context, sig Signal) error
	Close()
}

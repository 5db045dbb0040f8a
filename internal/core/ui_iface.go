package core

import "github.com/xamepage/callkit/internal/domain"

// CallStateEvent is emitted on every controller transition.
type CallStateEvent struct {
	Session domain.SessionID
	Peer    domain.PeerID
	State   domain.CallState
	// Reason is set when State is CallEnded.
	Reason domain.EndReason
}

// EventSink is the one integration point exposed to the UI layer.
// Implementations must not call back into the controller from these
// callbacks; they run on the controller's event path.
type EventSink interface {
	OnCallStateChanged(ev CallStateEvent)
	RenderLocalStream(stream MediaStream)
	RenderRemoteStream(stream MediaStream)
}

// NopSink discards all events. Useful for headless tooling and tests.
type NopSink struct{}

func (NopSink) OnCallStateChanged(CallStateEvent) {}
func (NopSink) RenderLocalStream(MediaStream)     {}
func (NopSink) RenderRemoteStream(MediaStream)    {}

package core

import "errors"

var (
	// ErrInvalidTransition means an operation was invoked in a call state
	// that does not allow it. The call itself is unaffected.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrMediaAcquisition means the platform denied or failed to open
	// capture devices. Recoverable: the controller returns to idle.
	ErrMediaAcquisition = errors.New("media acquisition failed")

	// ErrSignalingApply means a remote description was malformed or
	// rejected. This aborts the call; candidate failures do not use it.
	ErrSignalingApply = errors.New("signaling payload rejected")

	// ErrConnectionLost means the peer connection or the signaling
	// transport is gone: either the connection stayed failed or
	// disconnected past the grace window, or the channel was closed.
	ErrConnectionLost = errors.New("connection lost")
)

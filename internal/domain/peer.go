package domain

import "errors"

const (
	MaxPeerIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrPeerIDTooLong = errors.New("peer id too long")
)

// Peer is the remote party of a call as known to the signaling layer.
type Peer struct {
	ID       PeerID `json:"id"`
	Username string `json:"username"`
}

// NewPeer is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeer(id PeerID) (*Peer, error) {
	if len(id) == 0 {
		return nil, ErrPeerIDEmpty
	}
	if len(id) > MaxPeerIDLen {
		return nil, ErrPeerIDTooLong
	}
	return &Peer{ID: id, Username: "guest"}, nil
}

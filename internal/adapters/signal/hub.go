package signal

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

// Hub holds the currently connected peers. One connection per peer;
// a reconnect replaces and closes the previous one.
type Hub struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*wsConn
}

func NewHub() *Hub {
	return &Hub{peers: make(map[domain.PeerID]*wsConn)}
}

func (h *Hub) Register(peer domain.PeerID, conn *wsConn) {
	h.mu.Lock()
	old := h.peers[peer]
	h.peers[peer] = conn
	h.mu.Unlock()
	if old != nil {
		old.Close()
		log.Info().Str("module", "signal.hub").Str("peer", string(peer)).Msg("replaced stale connection")
	}
	log.Info().Str("module", "signal.hub").Str("peer", string(peer)).Msg("peer online")
}

// Unregister drops the peer only if conn is still its current
// connection, so a reconnect is not torn down by the old pump exiting.
func (h *Hub) Unregister(peer domain.PeerID, conn *wsConn) {
	h.mu.Lock()
	if h.peers[peer] == conn {
		delete(h.peers, peer)
	}
	h.mu.Unlock()
	log.Info().Str("module", "signal.hub").Str("peer", string(peer)).Msg("peer offline")
}

func (h *Hub) Get(peer domain.PeerID) (*wsConn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.peers[peer]
	return c, ok
}

// Peers lists everyone currently online.
func (h *Hub) Peers() []domain.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(h.peers))
	for p := range h.peers {
		out = append(out, p)
	}
	return out
}

package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

// WSController relays signaling frames between connected peers. The
// server never inspects SDP payloads; it only routes by the "to" field.
type WSController struct {
	hub       *Hub
	readLimit int64
}

func NewWSController(hub *Hub, readLimit int64) *WSController {
	return &WSController{hub: hub, readLimit: readLimit}
}

func (ctl *WSController) Hub() *Hub { return ctl.hub }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *WSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.PeerID(c.Query("peer"))
	if id == "" {
		id = domain.PeerID(c.GetString("client_token"))
	}
	p, err := domain.NewPeer(id)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("rejecting connection")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	peer := p.ID
	log.Info().Str("module", "signal").Str("peer", string(peer)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	ctl.hub.Register(peer, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, peer, conn)
}

func (ctl *WSController) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *WSController) readPump(ctx context.Context, cancel context.CancelFunc, peer domain.PeerID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(peer)).Msg("readPump closing")
		cancel()
		ctl.hub.Unregister(peer, c)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(peer, c, data)
		}
	}
}

func (ctl *WSController) handleFrame(peer domain.PeerID, c *wsConn, data []byte) {
	env, err := parseEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("bad frame")
		return
	}

	switch core.SignalKind(env.Type) {
	case core.SignalPing:
		ctl.sendEnvelope(c, envelope{Type: string(core.SignalPong)})
	case core.SignalInvite, core.SignalAnswer, core.SignalCandidate,
		core.SignalAccepted, core.SignalRejected, core.SignalHangup:
		ctl.relay(peer, c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

// relay forwards one frame to its target. An invite addressed to an
// offline peer is answered with a rejection so the caller's UI stops
// ringing instead of timing out.
func (ctl *WSController) relay(peer domain.PeerID, c *wsConn, env envelope) {
	env.From = string(peer)
	to := domain.PeerID(env.To)
	if to == "" {
		log.Warn().Str("module", "signal").Str("type", env.Type).Str("peer", string(peer)).Msg("frame without target")
		return
	}
	target, ok := ctl.hub.Get(to)
	if !ok {
		log.Warn().Str("module", "signal").Str("type", env.Type).Str("to", string(to)).Msg("target offline")
		if core.SignalKind(env.Type) == core.SignalInvite {
			ctl.sendEnvelope(c, envelope{
				Type:   string(core.SignalRejected),
				From:   env.To,
				To:     string(peer),
				Reason: string(domain.RejectUnreachable),
			})
		}
		return
	}

	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal relay frame")
		return
	}
	if err := target.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("to", string(to)).Msg("relay dropped")
	}
}

func (ctl *WSController) sendEnvelope(c *wsConn, env envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal envelope")
		return
	}
	_ = c.TrySend(b)
}

package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

// Channel is the client side of the relay: a core.SignalChannel over a
// websocket. Inbound signals are delivered to the handler set with
// OnSignal; a heartbeat keeps presence alive on the server.
type Channel struct {
	self   domain.PeerID
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc

	mu       sync.RWMutex
	onSignal func(core.Signal)
	closed   bool
}

// Dial connects to the relay, identifying as self. pingPeriod of zero
// disables the heartbeat.
func Dial(ctx context.Context, rawURL string, self domain.PeerID, pingPeriod time.Duration) (*Channel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("peer", string(self))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		self:   self,
		conn:   ws,
		send:   make(chan []byte, 32),
		cancel: cancel,
	}
	go ch.writePump(ctx)
	go ch.readPump(ctx)
	if pingPeriod > 0 {
		go ch.heartbeat(ctx, pingPeriod)
	}
	log.Info().Str("module", "signal.client").Str("peer", string(self)).Str("url", u.Redacted()).Msg("connected")
	return ch, nil
}

// OnSignal sets the handler for inbound signals. Set it before the
// remote side starts calling; frames without a handler are dropped.
func (ch *Channel) OnSignal(fn func(core.Signal)) {
	ch.mu.Lock()
	ch.onSignal = fn
	ch.mu.Unlock()
}

func (ch *Channel) Send(_ context.Context, sig core.Signal) error {
	if sig.From == "" {
		sig.From = ch.self
	}
	b, err := json.Marshal(encodeSignal(sig))
	if err != nil {
		return err
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if ch.closed {
		return fmt.Errorf("%w: channel closed", core.ErrConnectionLost)
	}
	select {
	case ch.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	close(ch.send)
	ch.mu.Unlock()

	ch.cancel()
	_ = ch.conn.Close()
	log.Info().Str("module", "signal.client").Str("peer", string(ch.self)).Msg("closed")
}

func (ch *Channel) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch.send:
			if !ok {
				return
			}
			if err := ch.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal.client").Msg("writePump set deadline")
				return
			}
			if err := ch.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal.client").Msg("writePump write error")
				return
			}
		}
	}
}

func (ch *Channel) readPump(ctx context.Context) {
	defer ch.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := ch.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal.client").Msg("readPump read error")
				return
			}
			ch.handleFrame(data)
		}
	}
}

func (ch *Channel) handleFrame(data []byte) {
	env, err := parseEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.client").Msg("bad frame")
		return
	}
	sig, err := decodeSignal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.client").Str("type", env.Type).Msg("undecodable signal")
		return
	}
	ch.mu.RLock()
	fn := ch.onSignal
	ch.mu.RUnlock()
	if fn == nil {
		log.Warn().Str("module", "signal.client").Str("type", env.Type).Msg("no handler, frame dropped")
		return
	}
	fn(sig)
}

func (ch *Channel) heartbeat(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := ch.Send(ctx, core.Signal{Kind: core.SignalPing}); err != nil {
				log.Warn().Err(err).Str("module", "signal.client").Msg("heartbeat send")
			}
		}
	}
}

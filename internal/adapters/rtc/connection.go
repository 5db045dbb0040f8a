package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

// LocalRTPTrack is implemented by capture tracks that can be attached to
// a PeerConnection. The media adapter's tracks satisfy it.
type LocalRTPTrack interface {
	RTPTrack() webrtc.TrackLocal
}

// EngineSetup registers codecs on the media engine before a connection
// is built. The capture adapter provides one so its encoders negotiate.
type EngineSetup func(*webrtc.MediaEngine) error

// Factory builds pion-backed media connections.
type Factory struct {
	cfg   webrtc.Configuration
	setup EngineSetup
}

type FactoryOption func(*Factory)

func WithEngineSetup(fn EngineSetup) FactoryOption {
	return func(f *Factory) { f.setup = fn }
}

func NewFactory(stunURLs []string, opts ...FactoryOption) *Factory {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	f := &Factory{cfg: webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	}}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Factory) NewConnection(_ context.Context, sid domain.SessionID) (core.MediaConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if f.setup != nil {
		if err := f.setup(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)
	return newConnection(api, f.cfg, sid)
}

// senderSlot pairs an RTPSender with the track it should carry. A gated
// slot keeps the sender detached until the kind is re-enabled.
type senderSlot struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
	gated  bool
}

// Connection adapts a pion PeerConnection to core.MediaConnection.
type Connection struct {
	pc  *webrtc.PeerConnection
	sid domain.SessionID

	mu       sync.Mutex
	onICE    func(webrtc.ICECandidateInit)
	onRemote func(core.MediaStream)
	onState  func(core.ConnState)
	remote   *remoteStream
	audio    senderSlot
	video    senderSlot
	closed   bool
}

func newConnection(api *webrtc.API, cfg webrtc.Configuration, sid domain.SessionID) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, sid: sid}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", string(sid)).Str("peer_connection_state", s.String()).Msg("peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(mapConnState(s))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("sid", string(sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		c.mu.Lock()
		first := c.remote == nil
		if first {
			c.remote = newRemoteStream(track.StreamID())
		}
		c.remote.add(track)
		stream := c.remote
		fn := c.onRemote
		c.mu.Unlock()
		if first && fn != nil {
			fn(stream)
		}
	})

	return c, nil
}

// slotFor must be called with mu held.
func (c *Connection) slotFor(kind core.TrackKind) *senderSlot {
	if kind == core.TrackVideo {
		return &c.video
	}
	return &c.audio
}

func (c *Connection) AddLocalTracks(stream core.MediaStream) error {
	for _, t := range stream.Tracks() {
		rt, ok := t.(LocalRTPTrack)
		if !ok {
			return fmt.Errorf("track %s is not attachable to a peer connection", t.ID())
		}
		track := rt.RTPTrack()
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return err
		}
		c.mu.Lock()
		slot := c.slotFor(t.Kind())
		slot.sender = sender
		slot.track = track
		c.mu.Unlock()
	}
	return nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// ReplaceVideoTrack swaps the outgoing video track on the existing
// sender. No renegotiation happens. While video is muted the sender
// stays detached; the new track takes over on re-enable.
func (c *Connection) ReplaceVideoTrack(t core.MediaTrack) error {
	rt, ok := t.(LocalRTPTrack)
	if !ok {
		return fmt.Errorf("track %s is not attachable to a peer connection", t.ID())
	}
	c.mu.Lock()
	slot := &c.video
	if slot.sender == nil {
		c.mu.Unlock()
		return fmt.Errorf("no video sender on connection %s", c.sid)
	}
	slot.track = rt.RTPTrack()
	sender, track, gated := slot.sender, slot.track, slot.gated
	c.mu.Unlock()
	if gated {
		return nil
	}
	return sender.ReplaceTrack(track)
}

// SetTrackEnabled gates what the peer receives: a disabled kind detaches
// the sender's track so nothing is encoded or transmitted for it.
func (c *Connection) SetTrackEnabled(kind core.TrackKind, enabled bool) error {
	c.mu.Lock()
	slot := c.slotFor(kind)
	if slot.sender == nil {
		c.mu.Unlock()
		return fmt.Errorf("no %s sender on connection %s", kind, c.sid)
	}
	slot.gated = !enabled
	sender := slot.sender
	var target webrtc.TrackLocal
	if enabled {
		target = slot.track
	}
	c.mu.Unlock()
	return sender.ReplaceTrack(target)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnRemoteStream(fn func(core.MediaStream)) {
	c.mu.Lock()
	c.onRemote = fn
	c.mu.Unlock()
}

func (c *Connection) OnStateChange(fn func(core.ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("sid", string(c.sid)).Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Str("sid", string(c.sid)).Msg("closed")
	return nil
}

func mapConnState(s webrtc.PeerConnectionState) core.ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnFailed
	default:
		return core.ConnClosed
	}
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

// DefaultDisconnectGrace is how long a failed or disconnected peer
// connection may stay down before the call is declared lost.
const DefaultDisconnectGrace = 2 * time.Second

// pendingInvite holds an incoming call before the user consents.
// No media is acquired and no connection exists at this point, so the
// remote offer and any early candidates park here until acceptance.
type pendingInvite struct {
	peer       domain.PeerID
	offer      webrtc.SessionDescription
	kind       domain.MediaKind
	candidates []webrtc.ICECandidateInit
}

// Controller is the single authority translating signaling events and
// user intent into call session transitions. Exactly one session may be
// active at a time; there is no call waiting.
//
// All operations are serialized on one mutex. Media acquisition is the
// only suspension point performed outside the lock; an epoch counter
// detects cancellation (hangup, teardown) during the wait so that a
// late-arriving stream is released instead of attached.
type Controller struct {
	self     domain.PeerID
	signal   core.SignalChannel
	media    core.MediaDevice
	conns    core.ConnectionFactory
	sink     core.EventSink
	registry *Registry
	grace    time.Duration

	mu         sync.Mutex
	state      domain.CallState
	sess       *Session
	invite     *pendingInvite
	busy       bool
	epoch      uint64
	graceTimer *time.Timer
	// graceGen invalidates a grace timer whose callback already fired
	// and is waiting on mu when the timer gets stopped.
	graceGen uint64
	sessRes  []string
}

type Option func(*Controller)

// WithDisconnectGrace overrides the grace window before a failed or
// disconnected connection ends the call.
func WithDisconnectGrace(d time.Duration) Option {
	return func(c *Controller) { c.grace = d }
}

func NewController(
	self domain.PeerID,
	signal core.SignalChannel,
	media core.MediaDevice,
	conns core.ConnectionFactory,
	sink core.EventSink,
	registry *Registry,
	opts ...Option,
) *Controller {
	if sink == nil {
		sink = core.NopSink{}
	}
	if registry == nil {
		registry = NewRegistry()
	}
	c := &Controller{
		self:     self,
		signal:   signal,
		media:    media,
		conns:    conns,
		sink:     sink,
		registry: registry,
		grace:    DefaultDisconnectGrace,
		state:    domain.CallIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State reports the current call state.
func (c *Controller) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveSession returns the session of the current call, if any.
func (c *Controller) ActiveSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Controller) Registry() *Registry { return c.registry }

// PlaceCall starts an outgoing call. Valid only while idle. On device
// denial the controller stays idle and nothing is leaked.
func (c *Controller) PlaceCall(ctx context.Context, peer domain.PeerID, kind domain.MediaKind) error {
	c.mu.Lock()
	if c.state != domain.CallIdle || c.busy {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: place call in state %s", core.ErrInvalidTransition, st)
	}
	c.busy = true
	ep := c.epoch
	c.mu.Unlock()

	stream, err := c.media.Acquire(ctx, core.ConstraintsFor(kind, domain.FacingUser))

	c.mu.Lock()
	c.busy = false
	if ep != c.epoch || c.state != domain.CallIdle {
		c.mu.Unlock()
		// Hung up or torn down while the permission prompt was open.
		discardStream(stream)
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}
	defer c.mu.Unlock()

	sess := newSession(peer, domain.DirectionOutgoing, kind)
	sess.attachLocal(stream)
	streamID := c.registry.TrackStream(stream)

	conn, err := c.conns.NewConnection(ctx, sess.ID())
	if err != nil {
		c.registry.Release(streamID)
		return fmt.Errorf("create peer connection: %w", err)
	}
	connID := c.registry.TrackConnection(conn)
	sess.attachConn(conn)
	c.wireConnection(sess, conn)

	if err := conn.AddLocalTracks(stream); err != nil {
		c.registry.Release(connID)
		c.registry.Release(streamID)
		return fmt.Errorf("attach local tracks: %w", err)
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		c.registry.Release(connID)
		c.registry.Release(streamID)
		return fmt.Errorf("%w: create offer: %v", core.ErrSignalingApply, err)
	}

	c.sess = sess
	c.sessRes = []string{streamID, connID}
	c.setStateLocked(domain.CallOutgoingRinging, "")

	if err := c.signal.Send(ctx, core.Signal{
		Kind:      core.SignalInvite,
		From:      c.self,
		To:        peer,
		SDP:       &offer,
		MediaKind: kind,
	}); err != nil {
		c.endLocked(domain.EndSignalingError, false)
		return fmt.Errorf("send invite: %w", err)
	}
	c.sink.RenderLocalStream(stream)
	return nil
}

// ReceiveInvite registers an incoming call. Media is deliberately not
// acquired here: no camera/mic prompt before the user consents. If a
// call is already in progress the caller gets a busy rejection.
func (c *Controller) ReceiveInvite(ctx context.Context, peer domain.PeerID, offer webrtc.SessionDescription, kind domain.MediaKind) error {
	c.mu.Lock()
	if c.state != domain.CallIdle || c.busy {
		st := c.state
		c.mu.Unlock()
		if err := c.signal.Send(ctx, core.Signal{
			Kind:   core.SignalRejected,
			From:   c.self,
			To:     peer,
			Reason: domain.RejectBusy,
		}); err != nil {
			log.Warn().Err(err).Str("module", "app.controller").Str("peer", string(peer)).Msg("send busy rejection")
		}
		return fmt.Errorf("%w: invite in state %s", core.ErrInvalidTransition, st)
	}
	defer c.mu.Unlock()

	c.invite = &pendingInvite{peer: peer, offer: offer, kind: kind}
	c.setStateLocked(domain.CallIncomingRinging, "")
	return nil
}

// AcceptInvite acquires media, builds the connection, applies the parked
// offer, drains the queued candidates and answers the caller.
func (c *Controller) AcceptInvite(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.CallIncomingRinging || c.busy || c.invite == nil {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: accept invite in state %s", core.ErrInvalidTransition, st)
	}
	inv := c.invite
	c.busy = true
	ep := c.epoch
	c.mu.Unlock()

	stream, err := c.media.Acquire(ctx, core.ConstraintsFor(inv.kind, domain.FacingUser))

	c.mu.Lock()
	c.busy = false
	if ep != c.epoch || c.state != domain.CallIncomingRinging {
		c.mu.Unlock()
		discardStream(stream)
		return nil
	}
	if err != nil {
		// Device denied: refuse instead of leaving the caller ringing.
		c.declineLocked(domain.RejectMediaFailure)
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}
	defer c.mu.Unlock()

	sess := newSession(inv.peer, domain.DirectionIncoming, inv.kind)
	sess.attachLocal(stream)
	streamID := c.registry.TrackStream(stream)

	conn, err := c.conns.NewConnection(ctx, sess.ID())
	if err != nil {
		c.registry.Release(streamID)
		c.declineLocked(domain.RejectMediaFailure)
		return fmt.Errorf("create peer connection: %w", err)
	}
	connID := c.registry.TrackConnection(conn)
	sess.attachConn(conn)
	c.wireConnection(sess, conn)

	if err := conn.AddLocalTracks(stream); err != nil {
		c.registry.Release(connID)
		c.registry.Release(streamID)
		c.declineLocked(domain.RejectMediaFailure)
		return fmt.Errorf("attach local tracks: %w", err)
	}

	c.sess = sess
	c.sessRes = []string{streamID, connID}
	c.invite = nil

	sess.seedCandidates(inv.candidates)
	if err := sess.ApplyRemoteDescription(inv.offer); err != nil {
		c.endLocked(domain.EndSignalingError, true)
		return err
	}
	answer, err := conn.CreateAnswer()
	if err != nil {
		c.endLocked(domain.EndSignalingError, true)
		return fmt.Errorf("%w: create answer: %v", core.ErrSignalingApply, err)
	}

	if err := c.signal.Send(ctx, core.Signal{Kind: core.SignalAccepted, From: c.self, To: inv.peer}); err != nil {
		log.Warn().Err(err).Str("module", "app.controller").Msg("send call-accepted")
	}
	if err := c.signal.Send(ctx, core.Signal{Kind: core.SignalAnswer, From: c.self, To: inv.peer, SDP: &answer}); err != nil {
		c.endLocked(domain.EndSignalingError, false)
		return fmt.Errorf("send answer: %w", err)
	}
	c.setStateLocked(domain.CallConnecting, "")
	c.sink.RenderLocalStream(stream)
	return nil
}

// DeclineInvite refuses a ringing incoming call. No media is ever
// acquired for a declined call.
func (c *Controller) DeclineInvite(ctx context.Context, reason domain.RejectReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.CallIncomingRinging || c.invite == nil {
		return fmt.Errorf("%w: decline invite in state %s", core.ErrInvalidTransition, c.state)
	}
	peer := c.invite.peer
	c.invite = nil
	err := c.signal.Send(ctx, core.Signal{Kind: core.SignalRejected, From: c.self, To: peer, Reason: reason})
	c.setStateLocked(domain.CallIdle, "")
	if err != nil {
		return fmt.Errorf("send rejection: %w", err)
	}
	return nil
}

// declineLocked refuses the pending invite during a failed acceptance.
func (c *Controller) declineLocked(reason domain.RejectReason) {
	if c.invite == nil {
		return
	}
	peer := c.invite.peer
	c.invite = nil
	if err := c.signal.Send(context.Background(), core.Signal{
		Kind:   core.SignalRejected,
		From:   c.self,
		To:     peer,
		Reason: reason,
	}); err != nil {
		log.Warn().Err(err).Str("module", "app.controller").Str("peer", string(peer)).Msg("send rejection")
	}
	c.setStateLocked(domain.CallIdle, "")
}

// ReceiveAnswer applies the remote answer for an outgoing call and
// drains any candidates queued while ringing.
func (c *Controller) ReceiveAnswer(answer webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if (c.state != domain.CallOutgoingRinging && c.state != domain.CallConnecting) || c.sess == nil {
		return fmt.Errorf("%w: answer in state %s", core.ErrInvalidTransition, c.state)
	}
	if err := c.sess.ApplyRemoteDescription(answer); err != nil {
		c.endLocked(domain.EndSignalingError, true)
		return err
	}
	if c.state == domain.CallOutgoingRinging {
		c.setStateLocked(domain.CallConnecting, "")
	}
	return nil
}

// ReceiveCandidate queues or applies a remote ICE candidate. Candidates
// are applied in receipt order; an individual failure is logged and the
// call continues.
func (c *Controller) ReceiveCandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case domain.CallIncomingRinging:
		c.invite.candidates = append(c.invite.candidates, cand)
		return nil
	case domain.CallOutgoingRinging, domain.CallConnecting, domain.CallActive:
		if err := c.sess.AddRemoteCandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "app.controller").Msg("candidate rejected, skipping")
		}
		return nil
	default:
		return fmt.Errorf("%w: candidate in state %s", core.ErrInvalidTransition, c.state)
	}
}

// ReceiveAccepted notes that the callee accepted; the answer that
// follows drives the state forward.
func (c *Controller) ReceiveAccepted(peer domain.PeerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.CallOutgoingRinging || c.sess == nil || c.sess.Peer() != peer {
		return fmt.Errorf("%w: accepted in state %s", core.ErrInvalidTransition, c.state)
	}
	log.Info().Str("module", "app.controller").Str("peer", string(peer)).Msg("call accepted, awaiting answer")
	return nil
}

// ReceiveRejected ends an outgoing call the remote side refused.
func (c *Controller) ReceiveRejected(reason domain.RejectReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.CallOutgoingRinging && c.state != domain.CallConnecting {
		return fmt.Errorf("%w: rejected in state %s", core.ErrInvalidTransition, c.state)
	}
	log.Info().Str("module", "app.controller").Str("reason", string(reason)).Msg("call rejected by peer")
	c.endLocked(domain.EndRejected, false)
	return nil
}

// ReceiveHangup ends the call on the remote side's request.
func (c *Controller) ReceiveHangup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil && c.invite == nil {
		return fmt.Errorf("%w: hangup while idle", core.ErrInvalidTransition)
	}
	c.invite = nil
	c.endLocked(domain.EndHangup, false)
	return nil
}

// HangUp ends the current call, refusing a ringing invite and canceling
// any in-flight media acquisition.
func (c *Controller) HangUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.CallIdle && !c.busy {
		return fmt.Errorf("%w: hang up while idle", core.ErrInvalidTransition)
	}
	c.epoch++ // a pending acquisition will see this and discard its stream
	if c.invite != nil {
		peer := c.invite.peer
		c.invite = nil
		if err := c.signal.Send(context.Background(), core.Signal{
			Kind:   core.SignalRejected,
			From:   c.self,
			To:     peer,
			Reason: domain.RejectUserRejected,
		}); err != nil {
			log.Warn().Err(err).Str("module", "app.controller").Msg("send rejection on hangup")
		}
	}
	if c.state == domain.CallIdle {
		// Only a pending PlaceCall existed; cancellation is enough.
		return nil
	}
	c.endLocked(domain.EndHangup, c.sess != nil)
	return nil
}

// ToggleAudioMute returns the new muted state.
func (c *Controller) ToggleAudioMute() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inCallLocked() {
		return false, fmt.Errorf("%w: toggle audio in state %s", core.ErrInvalidTransition, c.state)
	}
	return c.sess.ToggleAudio(), nil
}

// ToggleVideoMute returns the new muted state.
func (c *Controller) ToggleVideoMute() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inCallLocked() {
		return false, fmt.Errorf("%w: toggle video in state %s", core.ErrInvalidTransition, c.state)
	}
	return c.sess.ToggleVideo(), nil
}

// ToggleSpeaker returns the new speaker state.
func (c *Controller) ToggleSpeaker() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inCallLocked() {
		return false, fmt.Errorf("%w: toggle speaker in state %s", core.ErrInvalidTransition, c.state)
	}
	return c.sess.ToggleSpeaker(), nil
}

// SwitchCamera replaces the outgoing video track with one from the
// opposite-facing camera. A failed replacement keeps the previous
// facing; the old track is only stopped after the swap succeeded.
func (c *Controller) SwitchCamera(ctx context.Context) error {
	c.mu.Lock()
	if !c.inCallLocked() || c.busy {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: switch camera in state %s", core.ErrInvalidTransition, st)
	}
	if !c.sess.Kind().WantsVideo() {
		c.mu.Unlock()
		return fmt.Errorf("%w: voice call has no camera", core.ErrInvalidTransition)
	}
	sess := c.sess
	target := sess.Facing().Flip()
	c.busy = true
	ep := c.epoch
	c.mu.Unlock()

	stream, err := c.media.Acquire(ctx, core.Constraints{Video: true, Facing: target})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if ep != c.epoch || c.sess != sess {
		discardStream(stream)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}
	track := videoTrackOf(stream)
	if track == nil {
		discardStream(stream)
		return fmt.Errorf("%w: capture produced no video track", core.ErrMediaAcquisition)
	}
	if err := sess.connection().ReplaceVideoTrack(track); err != nil {
		discardStream(stream)
		return fmt.Errorf("replace video track: %w", err)
	}
	id := c.registry.TrackStream(stream)
	c.sessRes = append(c.sessRes, id)
	sess.adoptCamera(stream, target)
	c.sink.RenderLocalStream(stream)
	log.Info().Str("module", "app.controller").Str("facing", string(target)).Msg("camera switched")
	return nil
}

// HandleSignal dispatches one inbound signaling message. Invalid-state
// errors are logged and the message ignored, per the error contract.
func (c *Controller) HandleSignal(ctx context.Context, sig core.Signal) {
	var err error
	switch sig.Kind {
	case core.SignalInvite:
		if sig.SDP == nil {
			err = fmt.Errorf("%w: invite without sdp", core.ErrSignalingApply)
			break
		}
		err = c.ReceiveInvite(ctx, sig.From, *sig.SDP, sig.MediaKind)
	case core.SignalAnswer:
		if sig.SDP == nil {
			err = fmt.Errorf("%w: answer without sdp", core.ErrSignalingApply)
			break
		}
		err = c.ReceiveAnswer(*sig.SDP)
	case core.SignalCandidate:
		if sig.Candidate == nil {
			err = fmt.Errorf("%w: empty candidate", core.ErrSignalingApply)
			break
		}
		err = c.ReceiveCandidate(*sig.Candidate)
	case core.SignalAccepted:
		err = c.ReceiveAccepted(sig.From)
	case core.SignalRejected:
		err = c.ReceiveRejected(sig.Reason)
	case core.SignalHangup:
		err = c.ReceiveHangup()
	case core.SignalPong:
		// heartbeat; the channel tracks liveness
	default:
		log.Warn().Str("module", "app.controller").Str("type", string(sig.Kind)).Msg("unknown signal")
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.controller").Str("type", string(sig.Kind)).Str("from", string(sig.From)).Msg("signal ignored")
	}
}

// Shutdown is the page-teardown path: ends any call, then sweeps the
// registry regardless of what state the controller was in.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.epoch++
	if c.sess != nil || c.invite != nil || c.state != domain.CallIdle {
		c.invite = nil
		c.endLocked(domain.EndHangup, true)
	}
	c.mu.Unlock()
	c.registry.ReleaseAll()
}

func (c *Controller) inCallLocked() bool {
	return (c.state == domain.CallConnecting || c.state == domain.CallActive) && c.sess != nil
}

// wireConnection binds the connection callbacks to this session. Every
// callback re-checks that the session is still current; events from a
// torn-down call are dropped.
func (c *Controller) wireConnection(sess *Session, conn core.MediaConnection) {
	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.mu.Lock()
		current := c.sess == sess
		c.mu.Unlock()
		if !current {
			return
		}
		if err := c.signal.Send(context.Background(), core.Signal{
			Kind:      core.SignalCandidate,
			From:      c.self,
			To:        sess.Peer(),
			Candidate: &cand,
		}); err != nil {
			log.Warn().Err(err).Str("module", "app.controller").Msg("send candidate")
		}
	})
	conn.OnRemoteStream(func(stream core.MediaStream) {
		c.onRemoteStream(sess, stream)
	})
	conn.OnStateChange(func(cs core.ConnState) {
		c.onConnState(sess, cs)
	})
}

// onRemoteStream treats first remote media as the ACTIVE signal: ICE
// "connected" alone does not guarantee a renderable stream.
func (c *Controller) onRemoteStream(sess *Session, stream core.MediaStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		discardStream(stream)
		return
	}
	sess.attachRemote(stream)
	if c.state == domain.CallConnecting {
		c.setStateLocked(domain.CallActive, "")
	}
	c.sink.RenderRemoteStream(stream)
}

func (c *Controller) onConnState(sess *Session, cs core.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	switch cs {
	case core.ConnConnected:
		c.stopGraceLocked()
	case core.ConnDisconnected, core.ConnFailed:
		if c.graceTimer != nil {
			return
		}
		c.graceGen++
		gen := c.graceGen
		log.Warn().Str("module", "app.controller").Str("conn_state", string(cs)).Dur("grace", c.grace).Msg("connection degraded, starting grace timer")
		c.graceTimer = time.AfterFunc(c.grace, func() { c.onGraceExpired(gen) })
	case core.ConnClosed:
		if c.state == domain.CallConnecting || c.state == domain.CallActive {
			c.endLocked(domain.EndConnectionLost, false)
		}
	}
}

func (c *Controller) onGraceExpired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.graceGen {
		// The timer was stopped (recovery or teardown) after this
		// callback fired but before it took the lock.
		return
	}
	c.graceTimer = nil
	if c.sess == nil {
		return
	}
	log.Warn().Str("module", "app.controller").Msg("grace window elapsed without recovery")
	c.endLocked(domain.EndConnectionLost, true)
}

func (c *Controller) stopGraceLocked() {
	c.graceGen++
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

// endLocked releases the session, emits the terminal event and resets
// to idle. ENDED is terminal: the session reference is discarded here.
func (c *Controller) endLocked(reason domain.EndReason, notifyPeer bool) {
	c.stopGraceLocked()
	c.epoch++
	if c.sess != nil {
		if notifyPeer {
			if err := c.signal.Send(context.Background(), core.Signal{
				Kind: core.SignalHangup,
				From: c.self,
				To:   c.sess.Peer(),
			}); err != nil {
				log.Warn().Err(err).Str("module", "app.controller").Msg("send hangup")
			}
		}
		_ = c.sess.Release()
		for _, id := range c.sessRes {
			c.registry.Forget(id)
		}
	}
	c.sessRes = nil
	c.setStateLocked(domain.CallEnded, reason)
	c.sess = nil
	c.setStateLocked(domain.CallIdle, "")
}

func (c *Controller) setStateLocked(st domain.CallState, reason domain.EndReason) {
	c.state = st
	ev := core.CallStateEvent{State: st, Reason: reason}
	if c.sess != nil {
		ev.Session = c.sess.ID()
		ev.Peer = c.sess.Peer()
	} else if c.invite != nil {
		ev.Peer = c.invite.peer
	}
	log.Info().Str("module", "app.controller").Str("state", string(st)).Str("peer", string(ev.Peer)).Str("reason", string(reason)).Msg("call state")
	c.sink.OnCallStateChanged(ev)
}

func discardStream(stream core.MediaStream) {
	if stream == nil {
		return
	}
	if err := stream.Stop(); err != nil {
		log.Error().Err(err).Str("module", "app.controller").Msg("discard late stream")
	}
}

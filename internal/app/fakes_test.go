package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

type fakeSignal struct {
	mu   sync.Mutex
	sent []core.Signal
	fail bool
}

func (f *fakeSignal) Send(_ context.Context, sig core.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("channel down")
	}
	f.sent = append(f.sent, sig)
	return nil
}

func (f *fakeSignal) Close() {}

func (f *fakeSignal) signals() []core.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Signal, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSignal) kinds() []core.SignalKind {
	var out []core.SignalKind
	for _, s := range f.signals() {
		out = append(out, s.Kind)
	}
	return out
}

type fakeTrack struct {
	id   string
	kind core.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped int
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() core.TrackKind { return t.kind }

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	t.stopped++
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack

	mu      sync.Mutex
	stopped int
}

func newFakeStream(id string, c core.Constraints) *fakeStream {
	s := &fakeStream{id: id}
	if c.Audio {
		s.tracks = append(s.tracks, &fakeTrack{id: id + "-a", kind: core.TrackAudio, enabled: true})
	}
	if c.Video {
		s.tracks = append(s.tracks, &fakeTrack{id: id + "-v", kind: core.TrackVideo, enabled: true})
	}
	return s
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []core.MediaTrack {
	out := make([]core.MediaTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
	for _, t := range s.tracks {
		_ = t.Stop()
	}
	return nil
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeStream) track(kind core.TrackKind) *fakeTrack {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

type fakeMedia struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	gate    chan struct{} // when set, Acquire blocks until the gate closes
	streams []*fakeStream
	last    core.Constraints
}

func (f *fakeMedia) Acquire(_ context.Context, c core.Constraints) (core.MediaStream, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.last = c
	gate := f.gate
	fail := f.fail
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("permission denied")
	}
	s := newFakeStream(fmt.Sprintf("cap-%d", n), c)
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeMedia) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeMedia) lastConstraints() core.Constraints {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeMedia) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

type fakeConn struct {
	mu         sync.Mutex
	added      []webrtc.ICECandidateInit
	rejectCand string // AddICECandidate fails for this candidate string
	remote     *webrtc.SessionDescription
	remoteErr  error
	replaced   []core.MediaTrack
	replaceErr error
	tracksFrom []string
	addErr     error
	gates      []string
	gateErr    error
	closed     int

	onICE    func(webrtc.ICECandidateInit)
	onRemote func(core.MediaStream)
	onState  func(core.ConnState)
}

func (c *fakeConn) AddLocalTracks(stream core.MediaStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addErr != nil {
		return c.addErr
	}
	c.tracksFrom = append(c.tracksFrom, stream.ID())
	return nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (c *fakeConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.remote = &sd
	return nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejectCand != "" && cand.Candidate == c.rejectCand {
		return errors.New("candidate rejected")
	}
	c.added = append(c.added, cand)
	return nil
}

func (c *fakeConn) ReplaceVideoTrack(t core.MediaTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaceErr != nil {
		return c.replaceErr
	}
	c.replaced = append(c.replaced, t)
	return nil
}

func (c *fakeConn) SetTrackEnabled(kind core.TrackKind, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gateErr != nil {
		return c.gateErr
	}
	c.gates = append(c.gates, fmt.Sprintf("%s=%t", kind, enabled))
	return nil
}

func (c *fakeConn) gateCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.gates))
	copy(out, c.gates)
	return out
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnRemoteStream(fn func(core.MediaStream)) {
	c.mu.Lock()
	c.onRemote = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnStateChange(fn func(core.ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) applied() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, cand := range c.added {
		out = append(out, cand.Candidate)
	}
	return out
}

func (c *fakeConn) replacedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replaced)
}

func (c *fakeConn) remoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *fakeConn) fireICE(cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

func (c *fakeConn) fireRemote(stream core.MediaStream) {
	c.mu.Lock()
	fn := c.onRemote
	c.mu.Unlock()
	if fn != nil {
		fn(stream)
	}
}

func (c *fakeConn) fireState(cs core.ConnState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(cs)
	}
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	// connRemoteErr seeds every created connection; SetRemoteDescription
	// fails with it.
	connRemoteErr error
}

func (f *fakeFactory) NewConnection(_ context.Context, _ domain.SessionID) (core.MediaConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{remoteErr: f.connRemoteErr}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

type fakeSink struct {
	mu      sync.Mutex
	events  []core.CallStateEvent
	locals  []core.MediaStream
	remotes []core.MediaStream
}

func (f *fakeSink) OnCallStateChanged(ev core.CallStateEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeSink) RenderLocalStream(s core.MediaStream) {
	f.mu.Lock()
	f.locals = append(f.locals, s)
	f.mu.Unlock()
}

func (f *fakeSink) RenderRemoteStream(s core.MediaStream) {
	f.mu.Lock()
	f.remotes = append(f.remotes, s)
	f.mu.Unlock()
}

func (f *fakeSink) states() []domain.CallState {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CallState
	for _, ev := range f.events {
		out = append(out, ev.State)
	}
	return out
}

func (f *fakeSink) endReason() domain.EndReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].State == domain.CallEnded {
			return f.events[i].Reason
		}
	}
	return ""
}

func (f *fakeSink) localCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.locals)
}

func (f *fakeSink) remoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remotes)
}

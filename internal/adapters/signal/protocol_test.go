package signal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

func TestSignalRoundTrip(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	cases := []struct {
		name string
		sig  core.Signal
	}{
		{
			name: "invite",
			sig: core.Signal{
				Kind:      core.SignalInvite,
				From:      "alice",
				To:        "bob",
				SDP:       &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"},
				MediaKind: domain.MediaVideo,
			},
		},
		{
			name: "candidate",
			sig: core.Signal{
				Kind: core.SignalCandidate,
				From: "alice",
				To:   "bob",
				Candidate: &webrtc.ICECandidateInit{
					Candidate:     "candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host",
					SDPMid:        &mid,
					SDPMLineIndex: &idx,
				},
			},
		},
		{
			name: "rejected",
			sig: core.Signal{
				Kind:   core.SignalRejected,
				From:   "bob",
				To:     "alice",
				Reason: domain.RejectBusy,
			},
		},
		{
			name: "hangup",
			sig:  core.Signal{Kind: core.SignalHangup, From: "alice", To: "bob"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeSignal(encodeSignal(tc.sig))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(tc.sig, got, cmpopts.IgnoreUnexported(webrtc.SessionDescription{})); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeSignalRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		env  envelope
	}{
		{name: "invite without sdp", env: envelope{Type: "call-invite", From: "a", To: "b"}},
		{name: "answer without sdp", env: envelope{Type: "call-answer", From: "a", To: "b"}},
		{name: "empty candidate", env: envelope{Type: "ice-candidate", From: "a", To: "b"}},
		{name: "unknown type", env: envelope{Type: "call-teleport", From: "a", To: "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeSignal(tc.env); err == nil {
				t.Fatal("decode accepted malformed envelope")
			}
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"type":"ping","from":"alice"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Type != "ping" || env.From != "alice" {
		t.Fatalf("env = %+v", env)
	}

	if _, err := parseEnvelope([]byte(`{"from":"alice"}`)); err == nil {
		t.Fatal("accepted envelope without type")
	}
	if _, err := parseEnvelope([]byte(`not json`)); err == nil {
		t.Fatal("accepted invalid json")
	}
}

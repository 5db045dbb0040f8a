package signal

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

// envelope is the JSON wire form shared by the relay server and the
// client channel. Only the fields relevant to Type are set.
type envelope struct {
	Type          string  `json:"type"`
	From          string  `json:"from,omitempty"`
	To            string  `json:"to,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	SDPType       string  `json:"sdpType,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Media         string  `json:"media,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("bad signal payload: %w", err)
	}
	if env.Type == "" {
		return envelope{}, fmt.Errorf("signal without type")
	}
	return env, nil
}

func encodeSignal(sig core.Signal) envelope {
	env := envelope{
		Type:   string(sig.Kind),
		From:   string(sig.From),
		To:     string(sig.To),
		Media:  string(sig.MediaKind),
		Reason: string(sig.Reason),
	}
	if sig.SDP != nil {
		env.SDP = sig.SDP.SDP
		env.SDPType = sig.SDP.Type.String()
	}
	if sig.Candidate != nil {
		env.Candidate = sig.Candidate.Candidate
		env.SDPMid = sig.Candidate.SDPMid
		env.SDPMLineIndex = sig.Candidate.SDPMLineIndex
	}
	return env
}

func decodeSignal(env envelope) (core.Signal, error) {
	sig := core.Signal{
		Kind:      core.SignalKind(env.Type),
		From:      domain.PeerID(env.From),
		To:        domain.PeerID(env.To),
		MediaKind: domain.MediaKind(env.Media),
		Reason:    domain.RejectReason(env.Reason),
	}
	switch sig.Kind {
	case core.SignalInvite, core.SignalAnswer:
		if env.SDP == "" {
			return core.Signal{}, fmt.Errorf("%s without sdp", env.Type)
		}
		sig.SDP = &webrtc.SessionDescription{
			Type: webrtc.NewSDPType(env.SDPType),
			SDP:  env.SDP,
		}
	case core.SignalCandidate:
		if env.Candidate == "" {
			return core.Signal{}, fmt.Errorf("empty candidate")
		}
		sig.Candidate = &webrtc.ICECandidateInit{
			Candidate:     env.Candidate,
			SDPMid:        env.SDPMid,
			SDPMLineIndex: env.SDPMLineIndex,
		}
	case core.SignalAccepted, core.SignalRejected, core.SignalHangup, core.SignalPing, core.SignalPong:
	default:
		return core.Signal{}, fmt.Errorf("unknown signal type %q", env.Type)
	}
	return sig, nil
}

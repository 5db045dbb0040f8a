//go:build linux && cgo

// Package media captures local audio/video via pion/mediadevices
// (V4L2 + malgo on Linux) behind the core.MediaDevice interface.
package media

import (
	"context"
	"errors"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

type Devices struct {
	codecs *mediadevices.CodecSelector
}

func NewDevices() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Devices{codecs: mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)}, nil
}

// RegisterCodecs populates a media engine with the capture encoders so
// the peer connection negotiates what the devices actually produce.
func (d *Devices) RegisterCodecs(me *webrtc.MediaEngine) error {
	d.codecs.Populate(me)
	return nil
}

func (d *Devices) Acquire(ctx context.Context, c core.Constraints) (core.MediaStream, error) {
	if !c.Audio && !c.Video {
		return nil, errors.New("nothing to capture")
	}
	constraints := mediadevices.MediaStreamConstraints{Codec: d.codecs}
	if c.Video {
		deviceID := videoDeviceFor(c.Facing)
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG: some cameras expose an MJPEG node producing
			// malformed frames that poison the VP8 encoder. Raw formats only.
			mt.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mt.Width = prop.IntRanged{Max: 640}
			mt.Height = prop.IntRanged{Max: 480}
			if deviceID != "" {
				mt.DeviceID = prop.String(deviceID)
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("GetUserMedia failed")
		return nil, err
	}
	stream := wrapStream(ms)
	log.Info().Str("module", "media").Str("stream_id", stream.ID()).Int("tracks", len(stream.Tracks())).Msg("local media captured")
	return stream, nil
}

// videoDeviceFor maps facing onto enumerated cameras: the user-facing
// camera is the first video input, the environment camera the second.
func videoDeviceFor(f domain.CameraFacing) string {
	var cams []string
	for _, dev := range mediadevices.EnumerateDevices() {
		if dev.Kind == mediadevices.VideoInput {
			cams = append(cams, dev.DeviceID)
		}
	}
	if len(cams) == 0 {
		return ""
	}
	if f == domain.FacingEnvironment && len(cams) > 1 {
		return cams[1]
	}
	return cams[0]
}

//go:build !(linux && cgo)

// Package media captures local audio/video. Camera/mic capture via
// pion/mediadevices needs platform drivers (V4L2/malgo on Linux); other
// platforms get a stub that refuses to acquire.
package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/xamepage/callkit/internal/core"
)

var errUnsupported = errors.New("media capture is not supported on this platform")

type Devices struct{}

func NewDevices() (*Devices, error) {
	return nil, errUnsupported
}

func (d *Devices) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (d *Devices) Acquire(context.Context, core.Constraints) (core.MediaStream, error) {
	return nil, errUnsupported
}

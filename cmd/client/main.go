package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xamepage/callkit/internal/adapters/media"
	"github.com/xamepage/callkit/internal/adapters/rtc"
	wssignal "github.com/xamepage/callkit/internal/adapters/signal"
	"github.com/xamepage/callkit/internal/app"
	"github.com/xamepage/callkit/internal/config"
	"github.com/xamepage/callkit/internal/core"
	"github.com/xamepage/callkit/internal/domain"
)

// consoleSink prints call progress; a UI embedding the controller would
// render the streams instead.
type consoleSink struct{}

func (consoleSink) OnCallStateChanged(ev core.CallStateEvent) {
	log.Info().Str("state", string(ev.State)).Str("peer", string(ev.Peer)).Str("reason", string(ev.Reason)).Msg("call")
}

func (consoleSink) RenderLocalStream(s core.MediaStream) {
	log.Info().Str("stream", s.ID()).Int("tracks", len(s.Tracks())).Msg("local media")
}

func (consoleSink) RenderRemoteStream(s core.MediaStream) {
	log.Info().Str("stream", s.ID()).Int("tracks", len(s.Tracks())).Msg("remote media")
}

func main() {
	var (
		serverURL = flag.String("server", "ws://localhost:8080/api/ws/signal", "relay signaling endpoint")
		selfID    = flag.String("as", "", "peer id to identify as (default: random)")
		callee    = flag.String("call", "", "peer to call; empty waits and auto-accepts the first incoming call")
		video     = flag.Bool("video", false, "place a video call instead of voice")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	self := domain.PeerID(*selfID)
	if self == "" {
		self = domain.PeerID(uuid.NewString())
	}

	devices, err := media.NewDevices()
	if err != nil {
		log.Fatal().Err(err).Msg("media capture unavailable")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ch, err := wssignal.Dial(ctx, *serverURL, self, cfg.PingPeriod)
	if err != nil {
		log.Fatal().Err(err).Str("url", *serverURL).Msg("relay unreachable")
	}

	factory := rtc.NewFactory(cfg.STUNServers, rtc.WithEngineSetup(devices.RegisterCodecs))
	ctl := app.NewController(self, ch, devices, factory, consoleSink{}, app.NewRegistry(),
		app.WithDisconnectGrace(cfg.DisconnectGrace))

	ch.OnSignal(func(sig core.Signal) {
		ctl.HandleSignal(ctx, sig)
		if sig.Kind == core.SignalInvite && ctl.State() == domain.CallIncomingRinging {
			log.Info().Str("peer", string(sig.From)).Msg("auto-accepting incoming call")
			if err := ctl.AcceptInvite(ctx); err != nil {
				log.Error().Err(err).Msg("accept failed")
			}
		}
	})

	log.Info().Str("peer", string(self)).Msg("client online")
	if *callee != "" {
		kind := domain.MediaVoice
		if *video {
			kind = domain.MediaVideo
		}
		if err := ctl.PlaceCall(ctx, domain.PeerID(*callee), kind); err != nil {
			log.Fatal().Err(err).Str("peer", *callee).Msg("place call")
		}
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	ctl.Shutdown()
	ch.Close()
	log.Info().Msg("Client exited gracefully")
}

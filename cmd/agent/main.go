package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/adapters/rtc"
	"github.com/openmentor/livesession/internal/client"
	"github.com/openmentor/livesession/internal/config"
	"github.com/openmentor/livesession/internal/domain"
)

// agent is a headless participant: it joins a room, negotiates links
// with everyone present, and prints chat and peer activity. Useful for
// load checks and for keeping a room warm during demos.
func main() {
	room := flag.String("room", "", "room id to join")
	signalURL := flag.String("signal", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
	apiURL := flag.String("api", "http://localhost:8080/api", "REST base url")
	token := flag.String("token", "", "bearer token")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *room == "" {
		log.Fatal().Msg("-room is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rtcCfg := rtc.DefaultWebRTCConfig(cfg.StunServers)
	transports := func(remote domain.UserID) (client.PeerTransport, error) {
		t, err := rtc.NewWebRTCTransport(rtcCfg, remote)
		if err != nil {
			return nil, err
		}
		t.OnRemoteTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.Info().Str("module", "agent").Str("peer", string(remote)).
				Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
		})
		return t, nil
	}

	sess := client.NewSession(client.SessionConfig{
		SignalingURL:     *signalURL,
		APIBaseURL:       *apiURL,
		Token:            *token,
		DevKey:           cfg.DevKey,
		Constraints:      client.Constraints{Audio: true, Video: true},
		Device:           rtc.StaticDevice{},
		Transports:       transports,
		OfferTimeout:     cfg.OfferTimeout,
		ChatPollInterval: cfg.ChatPollInterval,
		OnPeerEvent: func(ev client.PeerEvent) {
			log.Info().Str("module", "agent").Str("peer", string(ev.User)).Str("state", ev.State.String()).Msg("peer")
		},
		OnChatUpdate: func(msgs []domain.ChatMessage) {
			if len(msgs) > 0 {
				last := msgs[len(msgs)-1]
				log.Info().Str("module", "agent").Str("from", last.SenderName).Str("content", last.Content).Msg("chat")
			}
		},
	})

	if err := sess.Join(ctx, domain.RoomID(*room)); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}
	log.Info().Str("module", "agent").Str("room", *room).Str("self", string(sess.Self())).Msg("in room")

	<-ctx.Done()
	sess.Leave()
}

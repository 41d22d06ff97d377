package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/openmentor/livesession/internal/adapters/http"
	"github.com/openmentor/livesession/internal/chat"
	"github.com/openmentor/livesession/internal/config"
	"github.com/openmentor/livesession/internal/core"
	"github.com/openmentor/livesession/internal/relay"
	"github.com/openmentor/livesession/internal/restclient"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	auth := relay.ChainAuthenticator{}
	if cfg.DevKey != "" {
		auth = append(auth, relay.DevKeyAuthenticator{Key: cfg.DevKey, User: "dev"})
	}
	if cfg.AuthURL != "" {
		auth = append(auth, relay.TokenAuthenticator{Client: restclient.New(cfg.AuthURL)})
	}

	reg := core.NewRegistry()
	relaySrv := relay.NewServer(reg, auth)

	store := chat.NewMemoryStore()
	limiter := chat.NewSenderRateLimiter(cfg.ChatRateLimit, cfg.ChatRateInterval)
	chatCtl := chat.NewController(store, auth, limiter)

	r := router.SetupRouter(ctx, cfg, relaySrv, chatCtl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("live session server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

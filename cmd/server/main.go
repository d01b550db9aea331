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

	"github.com/dkeye/videoroom/internal/adapters/backend"
	router "github.com/dkeye/videoroom/internal/adapters/http"
	"github.com/dkeye/videoroom/internal/adapters/livekit"
	"github.com/dkeye/videoroom/internal/adapters/p2p"
	"github.com/dkeye/videoroom/internal/app"
	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	providerName := app.ResolveProviderName(cfg.Video.Provider)
	providers := app.ProviderConfig{
		WebRTC: p2p.Config{
			ICEServers:  cfg.WebRTC.ICEServers,
			PingPeriod:  cfg.PingPeriod,
			DisplayName: cfg.Video.DisplayName,
		},
		LiveKit: livekit.Config{
			AutoSubscribe:  cfg.LiveKit.AutoSubscribe,
			AdaptiveStream: cfg.LiveKit.AdaptiveStream,
			Dynacast:       cfg.LiveKit.Dynacast,
		},
	}
	ctrlOpts := app.ControllerOptions{
		JoinTimeout: cfg.Video.JoinTimeout,
		DisplayName: cfg.Video.DisplayName,
	}

	tokens, err := tokenSource(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("token source")
	}

	limiter := app.NewConnectRateLimiter(cfg.RateLimit.ConnectLimit, cfg.RateLimit.ConnectInterval)
	reg := app.NewRegistry(func(id app.ClientID) *app.SessionController {
		p, err := app.NewProvider(providerName, providers)
		if err != nil {
			// providerName is already resolved, so this only fires on a programming error.
			log.Error().Err(err).Str("client", string(id)).Msg("provider init")
			return app.NewSessionController(nil, ctrlOpts)
		}
		return app.NewSessionController(p, ctrlOpts)
	}, app.WithOnRemove(limiter.Forget))

	go reg.Run(ctx, cfg.Session.IdleTTL, cfg.Session.ReapInterval)

	deps := router.Deps{
		Registry:        reg,
		Tokens:          tokens,
		Limiter:         limiter,
		Providers:       providers,
		Policy:          app.SimplePolicy{MaxDropped: 64},
		DefaultProvider: providerName,
	}

	r := router.SetupRouter(ctx, cfg, deps)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("provider", string(providerName)).Msg("Video server started")
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
	reg.CloseAll(shutdownCtx)
	log.Info().Msg("Server exited gracefully")
}

// tokenSource prefers the application backend; API keys are a local-development fallback.
func tokenSource(cfg *config.Config) (core.TokenSource, error) {
	switch {
	case cfg.Backend.BaseURL != "":
		return backend.NewTokenClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	case cfg.LiveKit.APIKey != "" && cfg.LiveKit.APISecret != "":
		log.Warn().Msg("minting room tokens locally from livekit api keys")
		return livekit.NewTokenMinter(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.Identity), nil
	default:
		log.Warn().Msg("no token source configured, connect requests will be rejected")
		return nil, nil
	}
}

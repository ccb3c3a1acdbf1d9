package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/busboard/internal/adapters/http"
	wssignal "github.com/dkeye/busboard/internal/adapters/signal"
	"github.com/dkeye/busboard/internal/app"
	"github.com/dkeye/busboard/internal/auth"
	"github.com/dkeye/busboard/internal/config"
	"github.com/dkeye/busboard/internal/core"
	"github.com/dkeye/busboard/internal/storage"
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
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	users, err := operatorAccounts(cfg.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("auth users")
	}
	provider, err := auth.NewProvider(users,
		auth.WithMaxAttempts(cfg.Auth.MaxAttempts),
		auth.WithLockoutWindow(cfg.Auth.LockoutWindow),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("auth provider")
	}

	seed, err := loadSeed(cfg.SeedPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SeedPath).Msg("seed state")
	}

	media, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("media storage")
	}
	if err := seedAudio(ctx, media, cfg.Audio); err != nil {
		log.Warn().Err(err).Str("module", "storage").Msg("audio cues not seeded")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(reg)

	gate := app.NewGate(provider, metrics, app.WithMaxAge(cfg.SessionMaxAge))
	hub := app.NewHub(core.NewStateStore(seed), gate, app.NewRegistry(), app.SimplePolicy{}, metrics)

	ctl := wssignal.NewSignalWSController(hub,
		wssignal.NewPatchLimiter(cfg.RateLimit.PatchesPerSecond, cfg.RateLimit.Burst),
		wssignal.Options{
			ReadLimit:   cfg.ReadLimit,
			PingPeriod:  cfg.PingPeriod,
			PongWait:    cfg.PongWait,
			WriteWait:   cfg.WriteWait,
			SendBuffer:  cfg.SendBuffer,
			CheckOrigin: originChecker(cfg.CORS.AllowedOrigins),
		})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Hub:      hub,
		Auth:     provider,
		Media:    media,
		Signal:   ctl,
		Gatherer: reg,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("busboard server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
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

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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/MicRoom/internal/adapters/http"
	wsignal "github.com/dkeye/MicRoom/internal/adapters/signal"
	"github.com/dkeye/MicRoom/internal/app"
	"github.com/dkeye/MicRoom/internal/app/mic"
	"github.com/dkeye/MicRoom/internal/app/orch"
	"github.com/dkeye/MicRoom/internal/app/projection"
	"github.com/dkeye/MicRoom/internal/config"
	"github.com/dkeye/MicRoom/internal/idgen"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer b.Close()

	opts := []mic.Option{mic.WithRequestIDs(idgen.NewRequestID)}
	if b.expiry != nil {
		opts = append(opts, mic.WithExpiry(b.expiry))
	}
	registry := mic.NewRegistry(b.store, b.feed, opts...)
	if b.startWorker != nil {
		if err := b.startWorker(registry); err != nil {
			log.Fatal().Err(err).Msg("failed to start expiry worker")
		}
	}

	o := orch.New(ctx, orch.Deps{
		Registry:  app.NewRegistry(),
		Rooms:     app.NewRoomManager(),
		Policy:    app.NewStrikePolicy(3),
		Mic:       mic.NewGateway(registry, b.roles),
		Feed:      b.feed,
		Projector: projection.NewProjector(b.profiles),
		Resync:    cfg.Sync.ResyncInterval,
		Fanout:    cfg.Sync.Fanout,
	})
	defer o.Close()

	limiter := wsignal.NewRoomRateLimiter(cfg.RateLimit.MicRequests, cfg.RateLimit.Interval)
	ws := wsignal.NewSignalWSController(o, limiter, cfg.ReadLimit, cfg.PingPeriod)

	r := router.SetupRouter(ctx, cfg, o, ws)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("driver", cfg.Store.Driver).Msg("MicRoom server started")
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

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

	router "github.com/rtchub/rtchub/internal/adapters/http"
	signalws "github.com/rtchub/rtchub/internal/adapters/signal"
	"github.com/rtchub/rtchub/internal/config"
	"github.com/rtchub/rtchub/internal/participant"
	"github.com/rtchub/rtchub/internal/reaper"
	"github.com/rtchub/rtchub/internal/registry"
	"github.com/rtchub/rtchub/internal/relay"
	"github.com/rtchub/rtchub/internal/relay/pionrelay"
	"github.com/rtchub/rtchub/internal/room"
	"github.com/rtchub/rtchub/internal/signaling"
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

	reg, err := buildRegistry(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect room registry")
	}

	rooms := room.NewService(reg, cfg.Room.MaxCapacity)
	sessions := participant.NewRegistry[*signaling.PeerSession]()
	mediaRelay := pionrelay.New(pionrelay.DefaultConfig())
	pipelines := relay.NewPipelineRegistry(mediaRelay)
	engine := signaling.NewEngine(rooms, sessions, mediaRelay, pipelines)

	reap := reaper.New(reg, engine, cfg.Reaper.Interval)
	go reap.Run(ctx)

	ctrl := signalws.NewSignalWSController(engine, rooms, cfg.PingPeriod)
	r := router.SetupRouter(ctx, cfg, rooms, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("rtchub server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Rooms survive redeploys; only occupancy counters and this
	// instance's media resources are reset.
	reap.Shutdown(shutdownCtx)
	// Catch pipelines whose registry record a concurrent hard delete
	// already removed.
	pipelines.ReleaseAll()
	log.Info().Msg("Server exited gracefully")
}

// buildRegistry picks the persisted backend: redis when an address is
// configured, otherwise the in-process store for single-node runs.
func buildRegistry(ctx context.Context, cfg *config.Config) (registry.Registry, error) {
	if cfg.Redis.Addr == "" {
		log.Info().Str("module", "main").Msg("no redis configured, using in-memory room registry")
		return registry.NewMemory(), nil
	}
	client, err := registry.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "main").Str("addr", cfg.Redis.Addr).Msg("redis room registry connected")
	return registry.NewRedis(client, cfg.Room.KeyPrefix, cfg.Reaper.ScanCount), nil
}

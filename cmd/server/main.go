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

	"github.com/ThunderSpear21/NeonTetris/internal/adapters"
	"github.com/ThunderSpear21/NeonTetris/internal/app"
	"github.com/ThunderSpear21/NeonTetris/internal/bus"
	"github.com/ThunderSpear21/NeonTetris/internal/config"
	"github.com/ThunderSpear21/NeonTetris/internal/store"
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
		log.Fatal().Err(err).Msg("failed to load config")
	}

	rdb, err := store.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// Service objects are constructed once here and passed by reference;
	// none of the registries live in package-level state.
	eventBus := bus.New(rdb)
	registry := app.NewRegistry()
	scheduler := app.NewScheduler(eventBus)
	users := store.NewUsers(rdb)

	game := &app.Game{
		Rooms:    store.NewRooms(rdb),
		Stats:    store.NewStats(rdb),
		Users:    users,
		Bus:      eventBus,
		Loops:    scheduler,
		QueueLen: cfg.PieceQueueLen,
	}
	matchmaker := &app.Matchmaker{
		Queues: store.NewQueues(rdb),
		Rooms:  game,
		Bus:    eventBus,
	}

	dispatcher := &app.Dispatcher{Registry: registry}
	dispatcher.Run(ctx, eventBus)

	r := adapters.SetupRouter(ctx, cfg, &adapters.Deps{
		Game:       game,
		Matchmaker: matchmaker,
		Registry:   registry,
		Users:      users,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("NeonTetris server started")
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
	scheduler.StopAll()
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("redis close error")
	}
	log.Info().Msg("Server exited gracefully")
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scythe504/horde-backend/internal/config"
	"github.com/scythe504/horde-backend/internal/database"
	"github.com/scythe504/horde-backend/internal/events"
	"github.com/scythe504/horde-backend/internal/game"
	"github.com/scythe504/horde-backend/internal/maps"
	"github.com/scythe504/horde-backend/internal/server"
	"github.com/scythe504/horde-backend/internal/sim"
	"github.com/scythe504/horde-backend/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func openRepository(ctx context.Context, cfg config.Config) (database.Repository, error) {
	if cfg.DatabaseURL == "" {
		log.Println("[main] DATABASE_URL not set, sessions are kept in memory")
		return database.NewMemoryRepository(), nil
	}
	return database.NewPostgresRepository(ctx, cfg.DatabaseURL)
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := maps.LoadDir(cfg.MapsDir)
	if err != nil {
		log.Fatalf("[main] load maps: %v", err)
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("[main] open repository: %v", err)
	}
	defer repo.Close()

	if n, err := repo.MarkStaleSessions(ctx, time.Now()); err != nil {
		log.Printf("[main] could not close stale sessions: %v", err)
	} else if n > 0 {
		log.Printf("[main] closed %d stale sessions from a previous run", n)
	}

	bus := events.NewBus()
	lobby := game.NewLobby(game.Options{
		Catalog: catalog,
		Bus:     bus,
		Sim: sim.Config{
			TickRate:        cfg.TickRate,
			BroadcastEvery:  cfg.BroadcastEvery,
			MaxCatchUpSteps: cfg.MaxCatchUpSteps,
		},
	})
	hub := websocket.NewHub(lobby, websocket.Config{
		GracePeriod:   cfg.GracePeriod,
		AllowedOrigin: cfg.AllowedOrigin,
	})
	recorder := database.NewRecorder(repo, nil)
	httpServer := server.New(cfg.Port, cfg.AllowedOrigin, lobby, hub).HTTPServer()

	hubSub := bus.Subscribe(events.DefaultBuffer)
	recorderSub := bus.Subscribe(cfg.RecorderBuffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx, hubSub) })
	// The recorder outlives the signal and stops once the bus closes, so the
	// room:finished events from lobby.Shutdown are still written.
	g.Go(func() error { return recorder.Run(context.WithoutCancel(gctx), recorderSub) })
	g.Go(func() error {
		log.Printf("[main] listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[main] shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		hub.Close()
		lobby.Shutdown()
		bus.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("[main] server error: %v", err)
	}
	log.Println("[main] graceful shutdown complete")
}

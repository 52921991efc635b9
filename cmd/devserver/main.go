package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vote-app-client/internal/config"
	"vote-app-client/internal/devserver"
	"vote-app-client/internal/domain/room"
	"vote-app-client/internal/logger"
	"vote-app-client/internal/metrics"
	jwtpkg "vote-app-client/internal/platform/jwt"
	"vote-app-client/internal/worker"
)

// Command devserver runs the in-memory VoteApp contract server for local
// development. One-time codes and password reset tokens are printed to the
// log instead of being delivered.
func main() {
	cfg := config.LoadServer()

	log := logger.New(cfg.LogLevel, os.Stderr)
	devserver.SetLogger(log)
	worker.SetLogger(log)
	metrics.Register()

	store := devserver.NewStore(devserver.Options{})
	jwtMgr := jwtpkg.NewManager(cfg.JWTSecret, cfg.JWTIssuer)
	hub := devserver.NewHub()

	voteCh := make(chan room.VoteUpdateEvent, 100)
	broadcaster := worker.NewBroadcastWorker(voteCh, hub)

	router := devserver.NewRouter(store, jwtMgr, hub, voteCh)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go broadcaster.Run(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	cancel()
	hub.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/pos-ingest/internal/api"
	"github.com/dvloznov/pos-ingest/internal/api/handlers"
	"github.com/dvloznov/pos-ingest/internal/api/middleware"
	"github.com/dvloznov/pos-ingest/internal/app"
	"github.com/dvloznov/pos-ingest/internal/config"
	"github.com/dvloznov/pos-ingest/internal/jobs"
	"github.com/dvloznov/pos-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/window"
)

func main() {
	var (
		port    = flag.String("port", envOr("PORT", "8080"), "HTTP server port (or set PORT env)")
		envFile = flag.String("env", ".env", "Path to an optional .env file")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.Open(ctx, cfg, app.Needs{Store: true, Warehouse: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}
	defer a.Close()

	// Runs are queued and executed one at a time by an in-process worker.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, jobs.NewRunHandler(a.Executor)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	mux := api.NewRouter(
		handlers.NewRunsHandler(jobQueue, a.Recorder, cfg.StagingDir),
		handlers.NewJobsHandler(jobStore),
		handlers.NewOpsHandler(window.Default(), cfg.StagingDir),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      middleware.Chain(mux, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let an in-flight run finish before the worker context goes away.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

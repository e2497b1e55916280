package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/pos-ingest/internal/app"
	"github.com/dvloznov/pos-ingest/internal/config"
	"github.com/dvloznov/pos-ingest/internal/jobs"
	"github.com/dvloznov/pos-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/window"
)

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	delay := flag.Duration("delay", 5*time.Minute, "How long after each window hour to start its run")
	allowStale := flag.Bool("allow-stale", false, "Proceed even if staging holds files from earlier runs")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.Open(ctx, cfg, app.Needs{Store: true, Warehouse: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}
	defer a.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(4, jobStore)

	if err := jobQueue.Start(ctx, jobs.NewRunHandler(a.Executor)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	go schedule(ctx, log, window.Default(), jobQueue, *delay, *allowStale)

	log.Info().Dur("delay", *delay).Ints("hours", window.Default().Hours()).Msg("Worker started, waiting for window hours")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer shutdownCancel()

	// Wait for an in-flight run so its load either commits or rolls back cleanly.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker exited")
}

// schedule publishes a run job delay after every window hour until ctx ends.
// Jobs carry their fire time, which resolves to mark while delay is shorter than
// the gap between marks.
func schedule(ctx context.Context, log zerolog.Logger, resolver *window.Resolver, publisher jobs.Publisher, delay time.Duration, allowStale bool) {
	for {
		mark := resolver.Next(time.Now().Add(-delay))
		fireAt := mark.Add(delay)

		log.Debug().Time("window", mark).Time("fire_at", fireAt).Msg("Next scheduled run")

		timer := time.NewTimer(time.Until(fireAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		job := &jobs.RunJob{Type: jobs.JobTypeRun, At: fireAt, AllowStale: allowStale}
		if err := publisher.PublishRun(ctx, job); err != nil {
			log.Error().Err(err).Time("window", mark).Msg("Failed to enqueue scheduled run")
			continue
		}
		log.Info().Str("job_id", job.JobID).Time("window", mark).Msg("Scheduled run enqueued")
	}
}

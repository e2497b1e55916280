package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/pos-ingest/internal/app"
	"github.com/dvloznov/pos-ingest/internal/config"
	"github.com/dvloznov/pos-ingest/internal/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	allowStale := flag.Bool("allow-stale", false, "Proceed even if staging holds files from earlier runs")
	timeout := flag.Duration("timeout", 0, "Overall run timeout (0 = none)")
	at := flag.String("now", "", "Run as if the current time were this RFC3339 instant")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	now := time.Now()
	if *at != "" {
		now, err = time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -now")
		}
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	ctx = logger.WithContext(ctx, log)

	a, err := app.Open(ctx, cfg, app.Needs{Store: true, Warehouse: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}

	state, err := a.Runner(*allowStale).Run(ctx, now)
	closeErr := a.Close()
	if err != nil {
		log.Fatal().Err(err).Str("run_id", state.RunID).Msg("Run failed")
	}
	if closeErr != nil {
		log.Warn().Err(closeErr).Msg("Failed to close connections")
	}

	fmt.Printf("Run %s loaded %d rows from %s.\n", state.RunID, state.Stats.RowsLoaded, state.Window.Prefix)
}

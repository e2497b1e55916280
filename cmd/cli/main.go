package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/pos-ingest/internal/app"
	"github.com/dvloznov/pos-ingest/internal/config"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/objectstore"
	"github.com/dvloznov/pos-ingest/internal/pipeline"
	"github.com/dvloznov/pos-ingest/internal/staging"
	"github.com/dvloznov/pos-ingest/internal/transform"
	"github.com/dvloznov/pos-ingest/internal/window"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	envFile := os.Getenv("POS_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	switch os.Args[1] {
	case "run":
		runRun(log, cfg)
	case "window":
		runWindow(log)
	case "extract":
		runExtract(log, cfg)
	case "inspect":
		runInspect(log, cfg)
	case "retry":
		runRetry(log, cfg)
	case "runs":
		runRuns(log, cfg)
	case "staging":
		runStaging(log, cfg)
	case "upload":
		runUpload(log, cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("POS ingest CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run       Run the full pipeline for the current window")
	fmt.Println("  window    Show the extraction window for a time")
	fmt.Println("  extract   Stage the current window's files without loading")
	fmt.Println("  inspect   Clean a staged run and print its report without loading")
	fmt.Println("  retry     Reload a failed run from its staging directory")
	fmt.Println("  runs      List recent runs from the run ledger")
	fmt.Println("  staging   List or discard leftover staging directories")
	fmt.Println("  upload    Upload local export files into a window's storage folder")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nConfiguration is read from the environment and .env (or $POS_ENV_FILE).")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

func parseNow(log zerolog.Logger, s string) time.Time {
	if s == "" {
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -now, want RFC3339")
	}
	return t
}

func openApp(ctx context.Context, log zerolog.Logger, cfg *config.Config, needs app.Needs) *app.App {
	a, err := app.Open(ctx, cfg, needs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}
	return a
}

func runRun(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	allowStale := fs.Bool("allow-stale", false, "Proceed even if staging holds files from earlier runs")
	at := fs.String("now", "", "Run as if the current time were this RFC3339 instant")
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)
	a := openApp(ctx, log, cfg, app.Needs{Store: true, Warehouse: true})
	defer a.Close()

	state, err := a.Runner(*allowStale).Run(ctx, parseNow(log, *at))
	if err != nil {
		log.Fatal().Err(err).Str("run_id", state.RunID).Msg("Run failed")
	}

	fmt.Printf("Run %s loaded %d rows from %s.\n", state.RunID, state.Stats.RowsLoaded, state.Window.Prefix)
}

func runWindow(log zerolog.Logger) {
	fs := flag.NewFlagSet("window", flag.ExitOnError)
	at := fs.String("now", "", "RFC3339 instant (default: now)")
	fs.Parse(os.Args[2:])

	now := parseNow(log, *at)
	w, err := window.Default().Resolve(now)
	if errors.Is(err, window.ErrNoValidWindow) {
		fmt.Printf("No extraction window at %s (valid hours: %v UTC).\n", now.UTC().Format(time.RFC3339), window.Default().Hours())
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve window")
	}

	fmt.Printf("Date:   %s\n", w.Date)
	fmt.Printf("Hour:   %d\n", w.Hour)
	fmt.Printf("Prefix: %s\n", w.Prefix)
}

func runExtract(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	allowStale := fs.Bool("allow-stale", false, "Proceed even if staging holds files from earlier runs")
	at := fs.String("now", "", "Run as if the current time were this RFC3339 instant")
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)
	a := openApp(ctx, log, cfg, app.Needs{Store: true})
	defer a.Close()

	state := &pipeline.RunState{RunID: uuid.NewString(), Now: parseNow(log, *at)}
	if err := pipeline.NewExtractPipeline(a.Deps(*allowStale)).Execute(ctx, state); err != nil {
		log.Fatal().Err(err).Msg("Extract failed")
	}

	fmt.Printf("Staged %d files for %s into %s\n", len(state.Files), state.Window.Prefix, state.Area.Dir())
	for _, f := range state.Files {
		fmt.Printf("  %s\n", f.Name)
	}
	fmt.Printf("Load them with: cli retry -run %s\n", state.RunID)
}

func runInspect(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	runID := fs.String("run", "", "Staged run ID to inspect")
	fs.Parse(os.Args[2:])

	if *runID == "" {
		log.Fatal().Msg("Error: -run is required")
	}

	area, err := staging.Open(cfg.StagingDir, *runID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open staging")
	}
	files, err := area.Files(staging.Rule{Prefix: cfg.FilePrefix, Suffix: cfg.FileSuffix})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list staged files")
	}
	if len(files) == 0 {
		log.Fatal().Str("dir", area.Dir()).Msg("No staged files")
	}

	ds, err := transform.Clean(files)
	if err != nil {
		log.Fatal().Err(err).Msg("Cleaning failed")
	}

	r := ds.Report
	fmt.Println("\n=== Staged Run ===")
	fmt.Printf("Run:          %s\n", *runID)
	fmt.Printf("Files:        %d\n", len(files))
	fmt.Printf("Rows read:    %d\n", r.Read)
	fmt.Printf("Coerced null: %d\n", r.CoercedNull)
	fmt.Printf("Rejected:     %d\n", r.Rejected)
	fmt.Printf("Duplicates:   %d\n", r.Duplicates)
	fmt.Printf("Would load:   %d\n", r.Kept)

	if err := transform.WriteCSV(os.Stdout, ds.Records); err != nil {
		log.Fatal().Err(err).Msg("Failed to print records")
	}
}

func runRetry(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("retry", flag.ExitOnError)
	runID := fs.String("run", "", "Run ID whose staging directory should be reloaded")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: cli retry -run <run-id>")
		fmt.Fprintln(fs.Output(), "\nReloads a failed run's staged files. Runs the ledger shows as loaded are refused.")
		fmt.Fprintln(fs.Output(), "Without a ledger (BQ_PROJECT unset) that check is skipped: only retry runs whose")
		fmt.Fprintln(fs.Output(), "load failed, not runs that committed and then failed to purge. Use")
		fmt.Fprintln(fs.Output(), "'cli staging -discard <run-id>' for those.")
		fmt.Fprintln(fs.Output())
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if *runID == "" {
		log.Fatal().Msg("Error: -run is required")
	}

	ctx := logger.WithContext(context.Background(), log)
	a := openApp(ctx, log, cfg, app.Needs{Warehouse: true})
	defer a.Close()

	if !cfg.Ledger.Enabled() {
		log.Warn().Str("run", *runID).Msg("No run ledger configured, cannot check whether this run was already loaded")
	}

	state, err := a.Runner(false).Retry(ctx, *runID)
	if err != nil {
		log.Fatal().Err(err).Msg("Retry failed")
	}

	fmt.Printf("Retry %s of %s loaded %d rows.\n", state.RunID, *runID, state.Stats.RowsLoaded)
}

func runRuns(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	fs.Parse(os.Args[2:])

	if !cfg.Ledger.Enabled() {
		log.Fatal().Msg("Run ledger not configured (set BQ_PROJECT)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := openApp(ctx, log, cfg, app.Needs{})
	defer a.Close()

	runs, err := a.Recorder.ListRecentRuns(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	fmt.Printf("%-36s  %-8s  %-20s  %-22s  %6s  %6s  %6s\n", "RUN", "STATUS", "STARTED", "PREFIX", "READ", "REJECT", "LOADED")
	for _, r := range runs {
		fmt.Printf("%-36s  %-8s  %-20s  %-22s  %6d  %6d  %6d\n",
			r.RunID, r.Status, r.StartedTS.UTC().Format(time.RFC3339), r.WindowPrefix,
			r.RowsRead, r.RowsRejected, r.RowsLoaded)
		if r.ErrorMessage != "" {
			fmt.Printf("  error: %s\n", r.ErrorMessage)
		}
	}
}

func runStaging(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("staging", flag.ExitOnError)
	discard := fs.String("discard", "", "Run ID whose staging directory should be deleted")
	fs.Parse(os.Args[2:])

	if *discard != "" {
		if err := staging.Discard(cfg.StagingDir, *discard); err != nil {
			log.Fatal().Err(err).Msg("Failed to discard staging")
		}
		fmt.Printf("Discarded %s\n", *discard)
		return
	}

	runs, err := staging.Leftovers(cfg.StagingDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read staging")
	}
	if len(runs) == 0 {
		fmt.Println("Staging is clean.")
		return
	}
	fmt.Printf("Leftover runs in %s:\n", cfg.StagingDir)
	for _, id := range runs {
		fmt.Printf("  %s  (cli retry -run %s | cli staging -discard %s)\n", id, id, id)
	}
}

func runUpload(log zerolog.Logger, cfg *config.Config) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	at := fs.String("now", "", "Upload into the window for this RFC3339 instant (default: now)")
	prefix := fs.String("prefix", "", "Explicit storage folder, overrides -now")
	fs.Parse(os.Args[2:])

	files := fs.Args()
	if len(files) == 0 {
		log.Fatal().Msg("Error: at least one file is required")
	}

	folder := *prefix
	if folder == "" {
		w, err := window.Default().Resolve(parseNow(log, *at))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve window")
		}
		folder = w.Prefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a := openApp(ctx, log, cfg, app.Needs{Store: true})
	defer a.Close()

	up, ok := a.Store.(objectstore.Uploader)
	if !ok {
		log.Fatal().Str("provider", cfg.Store.Provider).Msg("Store backend does not support uploads")
	}

	for _, f := range files {
		key := path.Join(folder, filepath.Base(f))
		if err := up.Upload(ctx, key, f); err != nil {
			log.Fatal().Err(err).Str("file", f).Msg("Upload failed")
		}
		fmt.Printf("Uploaded %s to %s\n", f, key)
	}
}

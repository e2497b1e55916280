package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	bq "github.com/dvloznov/pos-ingest/internal/bigquery"
	"github.com/dvloznov/pos-ingest/internal/domain"
	"github.com/dvloznov/pos-ingest/internal/extract"
	"github.com/dvloznov/pos-ingest/internal/load"
	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/objectstore"
	"github.com/dvloznov/pos-ingest/internal/staging"
	"github.com/dvloznov/pos-ingest/internal/transform"
	"github.com/dvloznov/pos-ingest/internal/window"
)

// ErrNothingStaged is returned when recent objects exist but none could be staged.
var ErrNothingStaged = errors.New("no files staged")

// ErrAlreadyLoaded is returned by Retry when the ledger shows the run's staged
// files were already committed, so reloading them would insert duplicates.
var ErrAlreadyLoaded = errors.New("staged files already loaded")

// Step is a single stage of a run.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *RunState) error
}

// RunState is shared by all steps of one run. Each step reads what earlier
// steps produced and fills in its own fields.
type RunState struct {
	RunID   string
	RetryOf string
	Now     time.Time

	Window   window.ExtractionWindow
	Area     *staging.Area
	Recent   []objectstore.RemoteObject
	Download *extract.DownloadReport
	Files    []staging.StagedFile
	Dataset  *transform.Dataset
	Merged   string
	Result   load.Result
	Stats    bq.RunStats
	Warnings []string
}

// ResolveWindowStep picks the extraction window for state.Now.
type ResolveWindowStep struct {
	Resolver *window.Resolver
}

func (s *ResolveWindowStep) Name() string { return "resolve_window" }

func (s *ResolveWindowStep) Execute(ctx context.Context, state *RunState) error {
	w, err := s.Resolver.Resolve(state.Now)
	if err != nil {
		return err
	}
	state.Window = w
	log := logger.FromContext(ctx)
	log.Info().Str("prefix", w.Prefix).Int("hour", w.Hour).Msg("Resolved extraction window")
	return nil
}

// CheckStagingStep refuses to start over files left behind by earlier runs,
// then creates this run's staging directory.
type CheckStagingStep struct {
	Root       string
	AllowStale bool
}

func (s *CheckStagingStep) Name() string { return "check_staging" }

func (s *CheckStagingStep) Execute(ctx context.Context, state *RunState) error {
	log := logger.FromContext(ctx)

	if err := staging.CheckClean(s.Root, state.RunID); err != nil {
		if !errors.Is(err, staging.ErrStaleStaging) || !s.AllowStale {
			return err
		}
		log.Warn().Err(err).Msg("Proceeding with leftover staging directories")
		state.Warnings = append(state.Warnings, err.Error())
	}

	area, err := staging.New(s.Root, state.RunID)
	if err != nil {
		return err
	}
	state.Area = area
	return nil
}

// DiscoverRecentStep fails the run unless something under the window prefix
// was modified recently.
type DiscoverRecentStep struct {
	Store objectstore.Store
}

func (s *DiscoverRecentStep) Name() string { return "discover_recent" }

func (s *DiscoverRecentStep) Execute(ctx context.Context, state *RunState) error {
	recent, err := extract.ListRecent(ctx, s.Store, state.Window.Prefix, state.Now)
	if err != nil {
		return err
	}
	state.Recent = recent
	return nil
}

// DownloadStep stages every drop file under the window prefix.
type DownloadStep struct {
	Store objectstore.Store
	Rule  staging.Rule
}

func (s *DownloadStep) Name() string { return "download" }

func (s *DownloadStep) Execute(ctx context.Context, state *RunState) error {
	report, err := extract.DownloadMatching(ctx, s.Store, state.Window.Prefix, s.Rule, state.Area)
	if err != nil {
		return err
	}
	state.Download = report
	state.Files = report.Files
	state.Stats.FilesListed = report.Listed
	state.Stats.FilesStaged = len(report.Files)
	state.Stats.FilesFailed = len(report.Failed)

	if len(report.Failed) > 0 {
		state.Warnings = append(state.Warnings, fmt.Sprintf("%d downloads failed", len(report.Failed)))
	}
	if len(report.Files) == 0 {
		return fmt.Errorf("%w under %s (%d listed, %d failed)", ErrNothingStaged, state.Window.Prefix, report.Listed, len(report.Failed))
	}
	return nil
}

// CleanStep merges the staged files and cleans them.
type CleanStep struct{}

func (s *CleanStep) Name() string { return "clean" }

func (s *CleanStep) Execute(ctx context.Context, state *RunState) error {
	log := logger.FromContext(ctx)

	if len(state.Files) == 0 {
		return ErrNothingStaged
	}

	ds, err := transform.Clean(state.Files)
	if err != nil {
		return err
	}
	state.Dataset = ds

	r := ds.Report
	state.Stats.RowsRead = r.Read
	state.Stats.RowsCoercedNull = r.CoercedNull
	state.Stats.RowsRejected = r.Rejected
	state.Stats.RowsDuplicate = r.Duplicates

	if r.CoercedNull > 0 {
		log.Warn().Int("rows", r.CoercedNull).Msg("Totals could not be parsed and were treated as missing")
		state.Warnings = append(state.Warnings, fmt.Sprintf("%d totals coerced to null", r.CoercedNull))
	}
	log.Info().
		Int("read", r.Read).
		Int("rejected", r.Rejected).
		Int("duplicates", r.Duplicates).
		Int("kept", r.Kept).
		Msg("Cleaned staged files")
	return nil
}

// PersistMergedStep writes the cleaned dataset next to the staged files.
type PersistMergedStep struct{}

func (s *PersistMergedStep) Name() string { return "persist_merged" }

func (s *PersistMergedStep) Execute(ctx context.Context, state *RunState) error {
	path := state.Area.PathFor(staging.MergedArtifact)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("PersistMerged: %w", err)
	}
	if err := transform.WriteCSV(f, state.Dataset.Records); err != nil {
		f.Close()
		return fmt.Errorf("PersistMerged: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("PersistMerged: %w", err)
	}
	state.Merged = path
	log := logger.FromContext(ctx)
	log.Info().Str("path", path).Int("rows", len(state.Dataset.Records)).Msg("Wrote merged file")
	return nil
}

// Loader commits records and clears their staging on success.
type Loader interface {
	LoadAndPurge(ctx context.Context, records []domain.TransactionRecord, area *staging.Area, files []staging.StagedFile, artifacts ...string) (load.Result, error)
}

// LoadStep loads the cleaned dataset and, after commit, purges the staged
// files and the merged artifact.
type LoadStep struct {
	Loader Loader
}

func (s *LoadStep) Name() string { return "load" }

func (s *LoadStep) Execute(ctx context.Context, state *RunState) error {
	res, err := s.Loader.LoadAndPurge(ctx, state.Dataset.Records, state.Area, state.Files, staging.MergedArtifact)
	if err != nil {
		return err
	}
	state.Result = res
	state.Stats.RowsLoaded = res.Inserted
	return nil
}

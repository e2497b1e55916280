// Package extract discovers the current window's drop files and retrieves them
// into a run's staging area.
//
// Retrieval is tolerant: a failed download is logged and skipped, and the batch
// carries on. Everything else (listing failures, an empty window) stops the run.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/pos-ingest/internal/logger"
	"github.com/dvloznov/pos-ingest/internal/objectstore"
	"github.com/dvloznov/pos-ingest/internal/staging"
)

// RecencyWindow is how far back an object's modification time may be for it to
// belong to the current batch.
const RecencyWindow = 3 * time.Hour

// ErrNoRecentData stops a run whose prefix holds nothing modified recently, so an
// earlier (possibly already loaded) drop is never reprocessed.
var ErrNoRecentData = errors.New("no recent data uploaded in the last three hours")

// DownloadReport summarises one retrieval pass.
type DownloadReport struct {
	Files   []staging.StagedFile
	Failed  []string // keys whose download failed
	Skipped int      // keys not matching the naming rule
	Listed  int
}

// FilterRecent keeps objects modified at or after now-RecencyWindow, compared in UTC.
func FilterRecent(objects []objectstore.RemoteObject, now time.Time) []objectstore.RemoteObject {
	cutoff := now.UTC().Add(-RecencyWindow)

	var recent []objectstore.RemoteObject
	for _, obj := range objects {
		if !obj.LastModified.UTC().Before(cutoff) {
			recent = append(recent, obj)
		}
	}
	return recent
}

// ListRecent lists prefix and returns the recently modified objects. An empty
// result is ErrNoRecentData.
func ListRecent(ctx context.Context, store objectstore.Store, prefix string, now time.Time) ([]objectstore.RemoteObject, error) {
	log := logger.FromContext(ctx)

	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("ListRecent: %w", err)
	}

	recent := FilterRecent(objects, now)
	if len(recent) == 0 {
		log.Warn().Str("prefix", prefix).Int("listed", len(objects)).Msg("No recent files found in the last three hours")
		return nil, fmt.Errorf("ListRecent: %s: %w", prefix, ErrNoRecentData)
	}

	log.Info().Str("prefix", prefix).Int("recent", len(recent)).Int("listed", len(objects)).Msg("Found recent files")
	return recent, nil
}

// DownloadMatching re-lists the whole prefix and downloads every key matching rule
// into area, named after the key's last path segment. Existing files are
// overwritten. Per-object failures are logged and recorded in the report.
func DownloadMatching(ctx context.Context, store objectstore.Store, prefix string, rule staging.Rule, area *staging.Area) (*DownloadReport, error) {
	log := logger.FromContext(ctx)

	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("DownloadMatching: %w", err)
	}

	report := &DownloadReport{Listed: len(objects)}
	for _, obj := range objects {
		if !rule.MatchesKey(obj.Key) {
			log.Debug().Str("key", obj.Key).Msg("File does not match naming rule")
			report.Skipped++
			continue
		}

		name := objectstore.BaseName(obj.Key)
		local := area.PathFor(name)
		if err := store.Download(ctx, obj.Key, local); err != nil {
			log.Error().Err(err).Str("key", obj.Key).Msg("Failed to download file")
			report.Failed = append(report.Failed, obj.Key)
			continue
		}

		log.Info().Str("key", obj.Key).Str("path", local).Msg("Downloaded file")
		report.Files = append(report.Files, staging.StagedFile{Key: obj.Key, Path: local, Name: name})
	}

	log.Info().
		Int("downloaded", len(report.Files)).
		Int("failed", len(report.Failed)).
		Int("skipped", report.Skipped).
		Msg("Download complete")

	return report, nil
}

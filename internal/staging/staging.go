// Package staging manages the local, run-scoped directories that hold drop files
// between retrieval and load.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MergedArtifact is the filename of the persisted cleaned dataset inside a run dir.
const MergedArtifact = "merged.csv"

// ErrStaleStaging is returned when earlier runs left staged files behind.
var ErrStaleStaging = errors.New("staging directory holds files from previous runs")

// ErrInvalidRunID is returned for run ids that are not a single directory name
// under the staging root.
var ErrInvalidRunID = errors.New("invalid run id")

// ValidateRunID reports whether runID names exactly one directory inside root.
func ValidateRunID(runID string) error {
	if runID == "" || runID == "." || runID == ".." ||
		strings.ContainsAny(runID, `/\`) || filepath.Base(runID) != runID || filepath.IsAbs(runID) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return nil
}

// StagedFile is a drop file materialised locally.
type StagedFile struct {
	Key  string // remote object key; empty when discovered from disk
	Path string
	Name string
}

// Area is one run's staging directory.
type Area struct {
	root  string
	runID string
	dir   string
}

// New creates the directory for runID under root.
func New(root, runID string) (*Area, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, fmt.Errorf("staging.New: %w", err)
	}
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging.New: create %s: %w", dir, err)
	}
	return &Area{root: root, runID: runID, dir: dir}, nil
}

// Open reopens an existing run directory, e.g. to retry a failed load.
func Open(root, runID string) (*Area, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, fmt.Errorf("staging.Open: %w", err)
	}
	dir := filepath.Join(root, runID)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("staging.Open: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("staging.Open: %s is not a directory", dir)
	}
	return &Area{root: root, runID: runID, dir: dir}, nil
}

// RunID returns the run this area belongs to.
func (a *Area) RunID() string { return a.runID }

// Dir returns the run directory.
func (a *Area) Dir() string { return a.dir }

// PathFor returns where a file with the given name is staged.
func (a *Area) PathFor(name string) string {
	return filepath.Join(a.dir, name)
}

// Files lists staged drop files matching rule, sorted by name.
func (a *Area) Files(rule Rule) ([]StagedFile, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("Area.Files: reading %s: %w", a.dir, err)
	}

	var files []StagedFile
	for _, e := range entries {
		if e.IsDir() || !rule.MatchesFile(e.Name()) {
			continue
		}
		files = append(files, StagedFile{Path: a.PathFor(e.Name()), Name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Purge deletes the given staged files and artifacts (by name inside the run dir),
// then removes the run dir if nothing else is left in it. Missing files are skipped.
func (a *Area) Purge(files []StagedFile, artifacts ...string) ([]string, error) {
	var removed []string
	var errs []error

	paths := make([]string, 0, len(files)+len(artifacts))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	for _, name := range artifacts {
		paths = append(paths, a.PathFor(name))
	}

	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}

	if entries, err := os.ReadDir(a.dir); err == nil && len(entries) == 0 {
		if err := os.Remove(a.dir); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return removed, fmt.Errorf("Area.Purge: %w", err)
	}
	return removed, nil
}

// Leftovers returns the run ids of non-empty run directories under root,
// excluding the ids in skip. A missing root has no leftovers.
func Leftovers(root string, skip ...string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("staging.Leftovers: reading %s: %w", root, err)
	}

	skipSet := make(map[string]bool, len(skip))
	for _, id := range skip {
		skipSet[id] = true
	}

	var runs []string
	for _, e := range entries {
		if !e.IsDir() || skipSet[e.Name()] {
			continue
		}
		inner, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("staging.Leftovers: %w", err)
		}
		if len(inner) > 0 {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// CheckClean fails with ErrStaleStaging when root holds files from earlier runs.
func CheckClean(root string, skip ...string) error {
	runs, err := Leftovers(root, skip...)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		return fmt.Errorf("%w: %s", ErrStaleStaging, strings.Join(runs, ", "))
	}
	return nil
}

// Discard removes a run directory and everything in it.
func Discard(root, runID string) error {
	if err := ValidateRunID(runID); err != nil {
		return fmt.Errorf("staging.Discard: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(root, runID)); err != nil {
		return fmt.Errorf("staging.Discard: %w", err)
	}
	return nil
}

package home

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultDirName is the default name for the docket home directory.
	DefaultDirName = ".docket"

	// ResultsDirName holds timestamped per-run artifacts.
	ResultsDirName = "results"

	// FullDataDirName holds the stable per-record output of streaming runs.
	FullDataDirName = "full-data"

	// RecordsDirName is the per-record subdirectory inside a streaming job dir.
	RecordsDirName = "jsons"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// RunsIndexFileName is the SQLite run index.
	RunsIndexFileName = "runs.db"

	// CallLogFileName is the SQLite LLM call log.
	CallLogFileName = "calls.db"

	// RunTimestampFormat names run directories. It sorts lexicographically
	// in chronological order.
	RunTimestampFormat = "2006-01-02T15-04-05.000Z"
)

// Dir represents the docket home directory structure.
type Dir struct {
	path        string
	resultsDir  string
	fullDataDir string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.docket).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{
		path:        path,
		resultsDir:  filepath.Join(path, ResultsDirName),
		fullDataDir: filepath.Join(path, FullDataDirName),
	}, nil
}

// WithOutputDirs overrides the results and full-data roots. Empty values keep
// the defaults under the home directory.
func (d *Dir) WithOutputDirs(resultsDir, fullDataDir string) *Dir {
	cp := *d
	if resultsDir != "" {
		cp.resultsDir = resultsDir
	}
	if fullDataDir != "" {
		cp.fullDataDir = fullDataDir
	}
	return &cp
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// RunsIndexPath returns the path to the SQLite run index.
func (d *Dir) RunsIndexPath() string {
	return filepath.Join(d.path, RunsIndexFileName)
}

// CallLogPath returns the path to the SQLite LLM call log.
func (d *Dir) CallLogPath() string {
	return filepath.Join(d.path, CallLogFileName)
}

// ResultsPath returns the root of timestamped run directories.
func (d *Dir) ResultsPath() string {
	return d.resultsDir
}

// FullDataPath returns the root of streaming output.
func (d *Dir) FullDataPath() string {
	return d.fullDataDir
}

// JobResultsDir returns the directory holding every run of a job.
func (d *Dir) JobResultsDir(jobID string) string {
	return filepath.Join(d.resultsDir, jobID)
}

// RunDir returns the directory for one run of a job.
func (d *Dir) RunDir(jobID, timestamp string) string {
	return filepath.Join(d.JobResultsDir(jobID), timestamp)
}

// StreamDir returns the stable streaming directory for a job.
func (d *Dir) StreamDir(jobID string) string {
	return filepath.Join(d.fullDataDir, jobID)
}

// RecordsDir returns the per-record output directory of a streaming job.
func (d *Dir) RecordsDir(jobID string) string {
	return filepath.Join(d.StreamDir(jobID), RecordsDirName)
}

// EnsureExists creates the home directory and output roots if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, p := range []string{d.path, d.resultsDir, d.fullDataDir} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// Timestamp formats t as a run directory name.
func Timestamp(t time.Time) string {
	return t.UTC().Format(RunTimestampFormat)
}

package runs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackzampolin/docket/internal/home"
)

// DirLocator finds runs by scanning the output directories. Run directories
// are named by timestamp, so the lexicographically greatest is the newest.
type DirLocator struct {
	Home *home.Dir
}

// NewDirLocator creates a locator over the given home layout.
func NewDirLocator(h *home.Dir) *DirLocator {
	return &DirLocator{Home: h}
}

// Latest returns the newest run of jobID. If the newest run directory was
// written by a streaming run (no successful-results.json) and the job has a
// records directory, the records directory wins. Otherwise the newest
// aggregate run is used.
func (l *DirLocator) Latest(ctx context.Context, jobID string) (Handle, error) {
	runDirs, err := l.runDirs(jobID)
	if err != nil {
		return Handle{}, err
	}
	recordsDir := l.Home.RecordsDir(jobID)
	hasRecords := isDir(recordsDir)

	for i, name := range runDirs {
		if err := ctx.Err(); err != nil {
			return Handle{}, err
		}
		dir := l.Home.RunDir(jobID, name)
		aggregate := filepath.Join(dir, SuccessfulResultsFile)
		if isFile(aggregate) {
			return Handle{JobID: jobID, Mode: ModeAggregate, Path: aggregate, RunID: name, Timestamp: parseStamp(name)}, nil
		}
		if i == 0 && hasRecords {
			return Handle{JobID: jobID, Mode: ModeStreaming, Path: recordsDir, RunID: name, Timestamp: parseStamp(name)}, nil
		}
	}

	if hasRecords {
		return Handle{JobID: jobID, Mode: ModeStreaming, Path: recordsDir}, nil
	}
	return Handle{}, fmt.Errorf("%w for job %s", ErrNoRun, jobID)
}

// runDirs lists run directory names, newest first.
func (l *DirLocator) runDirs(jobID string) ([]string, error) {
	entries, err := os.ReadDir(l.Home.JobResultsDir(jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs of %s: %w", jobID, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func parseStamp(name string) time.Time {
	t, err := time.Parse(home.RunTimestampFormat, name)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

var _ Locator = (*DirLocator)(nil)

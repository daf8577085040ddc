package cleanup

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobPruner forgets finished jobs last updated before cutoff.
type JobPruner interface {
	Prune(cutoff time.Time) int
}

// Scheduler removes leftovers of interrupted runs from the temp directory
// and expires finished jobs from the in-memory job table.
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	jobs     JobPruner
	logger   *zap.SugaredLogger
	clock    func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewScheduler creates a new cleanup scheduler. jobs may be nil.
func NewScheduler(tempDir string, interval, maxAge time.Duration, jobs JobPruner, logger *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		tempDir:  tempDir,
		interval: interval,
		maxAge:   maxAge,
		jobs:     jobs,
		logger:   logger,
		clock:    time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval.
func (s *Scheduler) Start() {
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	s.logger.Infow("cleanup scheduler started", "interval", s.interval.String(), "max_age", s.maxAge.String())
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.logger.Infow("cleanup scheduler stopped")
	})
}

// Sweep deletes temp files older than maxAge and prunes old jobs. It
// returns the number of files removed.
func (s *Scheduler) Sweep() int {
	now := s.clock()
	var deletedCount int
	var deletedSize int64

	err := filepath.WalkDir(s.tempDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.maxAge {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warnw("failed to delete old temp file", "path", path, "error", err)
			return nil
		}
		deletedCount++
		deletedSize += info.Size()
		s.logger.Debugw("deleted old temp file", "file", filepath.Base(path), "age", age.Round(time.Minute).String())
		return nil
	})
	if err != nil {
		s.logger.Warnw("error during cleanup", "error", err)
	}

	if deletedCount > 0 {
		s.logger.Infow("cleanup complete", "files", deletedCount, "freed_mb", float64(deletedSize)/(1024*1024))
	}

	if s.jobs != nil {
		if n := s.jobs.Prune(now.Add(-s.maxAge)); n > 0 {
			s.logger.Infow("expired finished jobs", "count", n)
		}
	}
	return deletedCount
}

// EnsureDirs creates every directory in dirs.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

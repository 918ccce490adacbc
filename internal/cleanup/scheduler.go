package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"archived/internal/catalog"
)

// entry is one local path awaiting deferred deletion.
type entry struct {
	path       string
	artifactID uint
	eligibleAt time.Time
}

// Scheduler deletes local artifact files once their retention window has
// passed and every storage upload succeeded. Entries that fail to delete
// stay registered and are retried on the next scan.
type Scheduler struct {
	store     catalog.Store
	dataDir   string
	retention time.Duration
	interval  time.Duration

	mu      sync.Mutex
	entries map[uint]entry
}

func NewScheduler(store catalog.Store, dataDir string, retention time.Duration) *Scheduler {
	return &Scheduler{
		store:     store,
		dataDir:   dataDir,
		retention: retention,
		interval:  time.Minute,
		entries:   make(map[uint]entry),
	}
}

// Register queues a local path for deletion after the retention window.
func (s *Scheduler) Register(path string, artifactID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[artifactID] = entry{
		path:       path,
		artifactID: artifactID,
		eligibleAt: time.Now().Add(s.retention),
	}
}

// Pending reports the number of registered entries.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run scans periodically until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep processes every entry whose retention window has passed.
func (s *Scheduler) Sweep(now time.Time) {
	s.mu.Lock()
	due := make([]entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !now.Before(e.eligibleAt) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if s.process(e) {
			s.mu.Lock()
			delete(s.entries, e.artifactID)
			s.mu.Unlock()
		}
	}
}

// process deletes one entry's file. Returns true when the entry is done
// (deleted, already gone, or no longer eligible) and false to retry.
func (s *Scheduler) process(e entry) bool {
	artifact, err := s.store.GetArtifactByRow(e.artifactID)
	if err != nil {
		// Row deleted out from under us: nothing left to track.
		slog.Warn("Cleanup entry has no artifact row", "rowid", e.artifactID, "error", err)
		return true
	}
	if !artifact.AllUploadsSucceeded {
		// Uploads were re-run and failed since registration; keep the
		// local copy, it is the only one. The entry stays registered: a
		// requeue may complete the uploads before the next scan.
		return false
	}

	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Cleanup delete failed, will retry", "path", e.path, "error", err)
		return false
	}
	PruneEmptyParents(e.path, s.dataDir)

	if err := s.store.MarkLocalDeleted(e.artifactID, time.Now().UTC()); err != nil {
		slog.Warn("Failed to record local deletion", "rowid", e.artifactID, "error", err)
	}
	slog.Info("Cleaned up local artifact", "rowid", e.artifactID, "path", e.path)
	return true
}

// PruneEmptyParents removes now-empty directories between path and root,
// exclusive of root itself.
func PruneEmptyParents(path, root string) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	dir := filepath.Dir(path)
	for {
		dirAbs, err := filepath.Abs(dir)
		if err != nil || dirAbs == rootAbs || !within(dirAbs, rootAbs) {
			return
		}
		if err := os.Remove(dirAbs); err != nil {
			return // not empty, or gone already
		}
		dir = filepath.Dir(dir)
	}
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && rel != "." && !startsWithDotDot(rel)
}

func startsWithDotDot(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"archived/internal/archivers"
	"archived/internal/catalog"
	"archived/internal/config"
	"archived/internal/models"
	"archived/internal/storage"
	"archived/internal/utils"
)

// stubArchiver writes a canned artifact without any subprocess.
type stubArchiver struct {
	name     string
	ext      string
	dataDir  string
	fail     bool
	panics   bool
	metadata *models.UrlMetadata

	mu    sync.Mutex
	calls int
}

func (s *stubArchiver) Name() string      { return s.name }
func (s *stubArchiver) OutputExt() string { return s.ext }

func (s *stubArchiver) Archive(ctx context.Context, req archivers.Request) (*models.ArchiveResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.panics {
		panic("stub exploded")
	}
	if s.fail {
		return &models.ArchiveResult{Success: false, ExitCode: models.IntPtr(2)}, nil
	}

	dir := filepath.Join(s.dataDir, utils.SanitizeID(req.ItemID), s.name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "output."+s.ext)
	if err := os.WriteFile(path, []byte("<html>ok</html>"), 0644); err != nil {
		return nil, err
	}
	return &models.ArchiveResult{
		Success:   true,
		ExitCode:  models.IntPtr(0),
		SavedPath: path,
		Metadata:  s.metadata,
	}, nil
}

func (s *stubArchiver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingNotifier remembers every scheduled notification.
type recordingNotifier struct {
	mu        sync.Mutex
	schedules []uint
}

func (n *recordingNotifier) Schedule(rowID, archivedUrlID uint, reason string) {
	n.mu.Lock()
	n.schedules = append(n.schedules, rowID)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.schedules)
}

type fixture struct {
	store     catalog.Store
	cfg       config.Config
	notifier  *recordingNotifier
	processor *Processor
	queue     *Queue
	orch      *Orchestrator
}

func newFixture(t *testing.T, stubs ...archivers.Archiver) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := catalog.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	store := catalog.NewGormStore(db)

	cfg := config.Config{
		DataDir:           t.TempDir(),
		SkipExistingSaves: true,
		StorageProviders:  []string{"local"},
	}
	providers := []storage.Provider{storage.NewLocalProvider(t.TempDir())}
	notifier := &recordingNotifier{}
	registry := archivers.NewRegistry(stubs...)
	processor := NewProcessor(store, registry, providers, notifier, nil, cfg)
	queue := NewQueue(16, 1, processor.ProcessTask)
	t.Cleanup(queue.Shutdown)
	orch := NewOrchestrator(store, registry, queue, processor, cfg)

	return &fixture{store: store, cfg: cfg, notifier: notifier, processor: processor, queue: queue, orch: orch}
}

// pendingItem inserts an article plus pending row and returns the batch item.
func pendingItem(t *testing.T, store catalog.Store, itemID, url, archiver string) models.BatchItem {
	t.Helper()
	article, err := store.CreateArticle(catalog.ArticleInput{ItemID: itemID, Url: url})
	if err != nil {
		t.Fatal(err)
	}
	artifact, err := store.EnsurePending(article.ID, archiver, "task-test")
	if err != nil {
		t.Fatal(err)
	}
	return models.BatchItem{ItemID: itemID, Url: url, RowID: artifact.ID, ArchiverName: archiver}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestArchiveSyncSingle(t *testing.T) {
	stub := &stubArchiver{name: "monolith", ext: "html"}
	f := newFixture(t, stub)
	stub.dataDir = f.cfg.DataDir

	res, err := f.orch.ArchiveSync(context.Background(), "monolith", utils.ArchiveRequest{
		ID: "a", URL: "https://example.org/x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if filepath.Base(filepath.Dir(res.SavedPath)) != "monolith" {
		t.Errorf("saved path %q not under the archiver directory", res.SavedPath)
	}
	if _, err := os.Stat(res.SavedPath); err != nil {
		t.Error("artifact file missing")
	}

	artifact, err := f.store.GetArtifact("a", "monolith")
	if err != nil {
		t.Fatal(err)
	}
	if artifact.Status != models.StatusSuccess || !artifact.Success {
		t.Errorf("artifact not promoted: %+v", artifact)
	}
	if !artifact.UploadedToStorage || !artifact.AllUploadsSucceeded {
		t.Errorf("uploads not recorded: %+v", artifact)
	}
	if len(artifact.StorageUploads) != 1 || artifact.StorageUploads[0].ProviderName != "local" {
		t.Errorf("storage_uploads wrong: %+v", artifact.StorageUploads)
	}
}

func TestArchiveSyncDedupSkip(t *testing.T) {
	stub := &stubArchiver{name: "monolith", ext: "html"}
	f := newFixture(t, stub)
	stub.dataDir = f.cfg.DataDir
	req := utils.ArchiveRequest{ID: "a", URL: "https://example.org/x"}

	first, err := f.orch.ArchiveSync(context.Background(), "monolith", req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.ArchiveSync(context.Background(), "monolith", req)
	if err != nil {
		t.Fatal(err)
	}

	if !second.Reused {
		t.Error("second submission should be reused")
	}
	if second.SavedPath != first.SavedPath {
		t.Errorf("reused saved path mismatch: %q != %q", second.SavedPath, first.SavedPath)
	}
	if stub.callCount() != 1 {
		t.Errorf("archiver invoked %d times, want 1", stub.callCount())
	}
}

func TestArchiveSyncAllReturnsLastResult(t *testing.T) {
	mono := &stubArchiver{name: "monolith", ext: "html"}
	read := &stubArchiver{name: "readability", ext: "html"}
	f := newFixture(t, mono, read)
	mono.dataDir = f.cfg.DataDir
	read.dataDir = f.cfg.DataDir

	res, err := f.orch.ArchiveSync(context.Background(), "all", utils.ArchiveRequest{
		ID: "a", URL: "https://example.org/x",
	})
	if err != nil {
		t.Fatal(err)
	}
	if mono.callCount() != 1 || read.callCount() != 1 {
		t.Errorf("calls: monolith=%d readability=%d", mono.callCount(), read.callCount())
	}

	// The returned result is the last archiver's in registration order.
	last, err := f.store.GetArtifact("a", "readability")
	if err != nil {
		t.Fatal(err)
	}
	if res.RowID != last.ID {
		t.Errorf("returned row %d, want readability row %d", res.RowID, last.ID)
	}
}

func TestProcessItemUnknownArchiver(t *testing.T) {
	f := newFixture(t)
	item := pendingItem(t, f.store, "a", "https://example.org/x", "nope")

	res := f.processor.ProcessItem(context.Background(), item)
	if res == nil || res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ExitCode == nil || *res.ExitCode != 127 {
		t.Errorf("exit code = %v, want 127", res.ExitCode)
	}

	artifact, _ := f.store.GetArtifactByRow(item.RowID)
	if artifact.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", artifact.Status)
	}
}

func TestProcessItemPreflight404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	stub := &stubArchiver{name: "monolith", ext: "html"}
	f := newFixture(t, stub)
	stub.dataDir = f.cfg.DataDir
	item := pendingItem(t, f.store, "gone", srv.URL+"/missing", "monolith")

	res := f.processor.ProcessItem(context.Background(), item)
	if res.Success {
		t.Fatal("404 URL should not archive")
	}
	if res.ExitCode == nil || *res.ExitCode != 404 {
		t.Errorf("exit code = %v, want 404", res.ExitCode)
	}
	if stub.callCount() != 0 {
		t.Error("archiver must not run after a failed pre-flight")
	}
}

func TestProcessItemRetryUnreachableLeavesRowPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	stub := &stubArchiver{name: "monolith", ext: "html"}
	f := newFixture(t, stub)
	f.processor.cfg.RetryUnreachable = true
	item := pendingItem(t, f.store, "gone", srv.URL+"/missing", "monolith")

	res := f.processor.ProcessItem(context.Background(), item)
	if res.Success {
		t.Fatal("404 URL should not archive")
	}
	if res.ExitCode == nil || *res.ExitCode != 404 {
		t.Errorf("exit code = %v, want 404", res.ExitCode)
	}
	if stub.callCount() != 0 {
		t.Error("archiver must not run after a failed pre-flight")
	}

	// The row is not finalized: a later requeue re-runs the pre-flight.
	artifact, err := f.store.GetArtifactByRow(item.RowID)
	if err != nil {
		t.Fatal(err)
	}
	if artifact.Status != models.StatusPending {
		t.Errorf("status = %q, want pending", artifact.Status)
	}
	if artifact.ExitCode != nil {
		t.Errorf("exit code persisted as %d, want none", *artifact.ExitCode)
	}
}

func TestProcessItemPanicFinalizesExit1(t *testing.T) {
	stub := &stubArchiver{name: "monolith", ext: "html", panics: true}
	f := newFixture(t, stub)
	item := pendingItem(t, f.store, "a", "https://example.org/x", "monolith")

	res := f.processor.ProcessItem(context.Background(), item)
	if res == nil || res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ExitCode == nil || *res.ExitCode != 1 {
		t.Errorf("exit code = %v, want 1", res.ExitCode)
	}
	artifact, _ := f.store.GetArtifactByRow(item.RowID)
	if artifact.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", artifact.Status)
	}
}

func TestProcessItemPromotesExistingArtifact(t *testing.T) {
	stub := &stubArchiver{name: "monolith", ext: "html"}
	f := newFixture(t, stub)
	stub.dataDir = f.cfg.DataDir

	// First item succeeds normally.
	first := pendingItem(t, f.store, "orig", "https://news.site/article", "monolith")
	if res := f.processor.ProcessItem(context.Background(), first); !res.Success {
		t.Fatalf("seed archive failed: %+v", res)
	}

	// Second item submits the wrapped form of the same URL.
	second := pendingItem(t, f.store, "copy", "https://bypass.example/https://news.site/article", "monolith")
	res := f.processor.ProcessItem(context.Background(), second)
	if !res.Success {
		t.Fatalf("promotion failed: %+v", res)
	}
	if stub.callCount() != 1 {
		t.Errorf("archiver ran %d times, want 1 (promotion must not re-archive)", stub.callCount())
	}

	promoted, _ := f.store.GetArtifactByRow(second.RowID)
	original, _ := f.store.GetArtifactByRow(first.RowID)
	if promoted.SavedPath != original.SavedPath {
		t.Errorf("saved_path not copied: %q != %q", promoted.SavedPath, original.SavedPath)
	}
	if promoted.Status != models.StatusSuccess {
		t.Errorf("status = %q", promoted.Status)
	}
}

func TestReadabilityNotifiesSummarizerAndSavesMetadata(t *testing.T) {
	stub := &stubArchiver{
		name: "readability", ext: "html",
		metadata: &models.UrlMetadata{Title: "A Title", WordCount: 400, ReadingTimeMinutes: 2},
	}
	f := newFixture(t, stub)
	stub.dataDir = f.cfg.DataDir
	item := pendingItem(t, f.store, "a", "https://example.org/x", "readability")

	res := f.processor.ProcessItem(context.Background(), item)
	if !res.Success {
		t.Fatalf("archive failed: %+v", res)
	}
	if f.notifier.count() != 1 {
		t.Errorf("summarizer notified %d times, want 1", f.notifier.count())
	}

	article, _ := f.store.GetArticle("a")
	md, err := f.store.GetMetadata(article.ID)
	if err != nil {
		t.Fatal(err)
	}
	if md.Title != "A Title" || md.WordCount != 400 {
		t.Errorf("metadata not persisted: %+v", md)
	}
	// Empty article names are backfilled from the extracted title.
	if article.Name != "A Title" {
		t.Errorf("article name = %q, want backfilled title", article.Name)
	}
}

func TestMonolithSuccessDoesNotNotifySummarizer(t *testing.T) {
	stub := &stubArchiver{name: "monolith", ext: "html"}
	f := newFixture(t, stub)
	stub.dataDir = f.cfg.DataDir
	item := pendingItem(t, f.store, "a", "https://example.org/x", "monolith")

	f.processor.ProcessItem(context.Background(), item)
	if f.notifier.count() != 0 {
		t.Error("only readability successes notify the summarizer")
	}
}

package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"archived/internal/catalog"
	"archived/internal/models"
)

func setup(t *testing.T) (*catalog.GormStore, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := catalog.AutoMigrate(db); err != nil {
		t.Fatal(err)
	}
	return catalog.NewGormStore(db), t.TempDir()
}

func seedArtifact(t *testing.T, store *catalog.GormStore, dataDir string, allUploadsOK bool) (*models.ArchiveArtifact, string) {
	t.Helper()
	article, err := store.CreateArticle(catalog.ArticleInput{ItemID: "a", Url: "https://example.org/x"})
	if err != nil {
		t.Fatal(err)
	}
	artifact, err := store.EnsurePending(article.ID, "monolith", "t")
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(dataDir, "a", "monolith")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "output.html")
	if err := os.WriteFile(path, []byte("<html>ok</html>"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := store.FinalizeArtifact(artifact.ID, models.ArchiveResult{Success: true, ExitCode: models.IntPtr(0), SavedPath: path}); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	uploads := models.StorageUploadList{{ProviderName: "local", Success: allUploadsOK, UploadedAt: &now}}
	if !allUploadsOK {
		uploads[0].UploadedAt = nil
		uploads[0].Error = "simulated"
	}
	if err := store.RecordUploads(artifact.ID, uploads); err != nil {
		t.Fatal(err)
	}
	return artifact, path
}

func TestSweepDeletesEligibleFiles(t *testing.T) {
	store, dataDir := setup(t)
	artifact, path := seedArtifact(t, store, dataDir, true)

	s := NewScheduler(store, dataDir, 0)
	s.Register(path, artifact.ID)
	s.Sweep(time.Now().Add(time.Second))

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be deleted after the retention window")
	}
	// Empty parents pruned up to data_dir, which itself survives.
	if _, err := os.Stat(filepath.Join(dataDir, "a")); !os.IsNotExist(err) {
		t.Error("empty parent directories should be pruned")
	}
	if _, err := os.Stat(dataDir); err != nil {
		t.Error("data_dir itself must never be removed")
	}

	got, err := store.GetArtifactByRow(artifact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LocalFileDeleted || got.LocalFileDeletedAt == nil {
		t.Error("deletion not recorded in the catalog")
	}
	if s.Pending() != 0 {
		t.Errorf("entry should be dropped after success, %d pending", s.Pending())
	}
}

func TestSweepRespectsRetentionWindow(t *testing.T) {
	store, dataDir := setup(t)
	artifact, path := seedArtifact(t, store, dataDir, true)

	s := NewScheduler(store, dataDir, time.Hour)
	s.Register(path, artifact.ID)
	s.Sweep(time.Now())

	if _, err := os.Stat(path); err != nil {
		t.Error("file inside the retention window must not be deleted")
	}
	if s.Pending() != 1 {
		t.Errorf("entry should stay registered, %d pending", s.Pending())
	}
}

func TestSweepRequiresAllUploadsSucceeded(t *testing.T) {
	store, dataDir := setup(t)
	artifact, path := seedArtifact(t, store, dataDir, false)

	s := NewScheduler(store, dataDir, 0)
	s.Register(path, artifact.ID)
	s.Sweep(time.Now().Add(time.Second))

	if _, err := os.Stat(path); err != nil {
		t.Error("file must be kept when any upload failed; it is the only copy")
	}
	got, _ := store.GetArtifactByRow(artifact.ID)
	if got.LocalFileDeleted {
		t.Error("local_file_deleted must imply all_uploads_succeeded")
	}
	if s.Pending() != 1 {
		t.Errorf("entry must stay registered until deletion succeeds, %d pending", s.Pending())
	}

	// A requeue that completes the uploads makes the entry eligible again.
	now := time.Now()
	if err := store.RecordUploads(artifact.ID, models.StorageUploadList{
		{ProviderName: "local", Success: true, UploadedAt: &now},
	}); err != nil {
		t.Fatal(err)
	}
	s.Sweep(time.Now().Add(time.Second))
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be deleted once every upload succeeded")
	}
	if s.Pending() != 0 {
		t.Errorf("entry should be dropped after deletion, %d pending", s.Pending())
	}
}

func TestPruneEmptyParentsStopsAtRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "x", "y", "z")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(nested, "f.txt")
	os.WriteFile(file, []byte("x"), 0644)
	os.Remove(file)

	PruneEmptyParents(file, root)

	if _, err := os.Stat(filepath.Join(root, "x")); !os.IsNotExist(err) {
		t.Error("empty chain should be pruned")
	}
	if _, err := os.Stat(root); err != nil {
		t.Error("root must survive")
	}
}

func TestPruneEmptyParentsKeepsNonEmptyDirs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	os.MkdirAll(dir, 0755)
	keep := filepath.Join(dir, "keep.txt")
	os.WriteFile(keep, []byte("x"), 0644)
	gone := filepath.Join(dir, "gone.txt")

	PruneEmptyParents(gone, root)

	if _, err := os.Stat(keep); err != nil {
		t.Error("non-empty directory must not be pruned")
	}
}

package catalog

import (
	"errors"
	"testing"

	"archived/internal/models"
)

// flakyReplica fails every write when broken is set.
type flakyReplica struct {
	broken   bool
	articles int
	puts     int
	deletes  int
}

func (r *flakyReplica) PutArticle(article *models.ArchivedUrl) error {
	if r.broken {
		return errors.New("replica down")
	}
	r.articles++
	return nil
}

func (r *flakyReplica) PutArtifact(itemID string, artifact *models.ArchiveArtifact) error {
	if r.broken {
		return errors.New("replica down")
	}
	r.puts++
	return nil
}

func (r *flakyReplica) DeleteArtifact(itemID, archiver string) error {
	if r.broken {
		return errors.New("replica down")
	}
	r.deletes++
	return nil
}

func (r *flakyReplica) Close() error { return nil }

func TestDualStoreMirrorsWrites(t *testing.T) {
	primary := testStore(t)
	replica := &flakyReplica{}
	dual := NewDualStore(primary, replica, FailureModeStrict)

	article, err := dual.CreateArticle(ArticleInput{ItemID: "a", Url: "https://example.org/x"})
	if err != nil {
		t.Fatal(err)
	}
	if replica.articles == 0 {
		t.Error("article write not mirrored")
	}

	artifact, err := dual.EnsurePending(article.ID, "monolith", "t")
	if err != nil {
		t.Fatal(err)
	}
	if replica.puts == 0 {
		t.Error("artifact write not mirrored")
	}

	if err := dual.FinalizeArtifact(artifact.ID, models.ArchiveResult{Success: false, ExitCode: models.IntPtr(1)}); err != nil {
		t.Fatal(err)
	}

	if _, err := dual.DeleteArtifact(artifact.ID); err != nil {
		t.Fatal(err)
	}
	if replica.deletes != 1 {
		t.Errorf("delete not mirrored: %d", replica.deletes)
	}
}

func TestDualStoreStrictPropagatesReplicaFailure(t *testing.T) {
	primary := testStore(t)
	replica := &flakyReplica{broken: true}
	dual := NewDualStore(primary, replica, FailureModeStrict)

	_, err := dual.CreateArticle(ArticleInput{ItemID: "a", Url: "https://example.org/x"})
	if err == nil {
		t.Fatal("strict mode should propagate replica failure")
	}
	if models.KindOf(err) != models.DbReplicaFail {
		t.Errorf("error kind = %v, want DbReplicaFail", models.KindOf(err))
	}

	// The primary write already happened: the catalog stays authoritative.
	if _, perr := primary.GetArticle("a"); perr != nil {
		t.Errorf("primary write should have survived: %v", perr)
	}
}

func TestDualStoreBestEffortSwallowsReplicaFailure(t *testing.T) {
	primary := testStore(t)
	replica := &flakyReplica{broken: true}
	dual := NewDualStore(primary, replica, FailureModeBestEffort)

	article, err := dual.CreateArticle(ArticleInput{ItemID: "a", Url: "https://example.org/x"})
	if err != nil {
		t.Fatalf("best_effort should swallow replica failure, got %v", err)
	}
	if _, err := dual.EnsurePending(article.ID, "monolith", "t"); err != nil {
		t.Fatalf("best_effort artifact write failed: %v", err)
	}
}

func TestDualStoreReadsComeFromPrimary(t *testing.T) {
	primary := testStore(t)
	replica := &flakyReplica{broken: true}
	dual := NewDualStore(primary, replica, FailureModeBestEffort)

	dual.CreateArticle(ArticleInput{ItemID: "a", Url: "https://example.org/x"})
	got, err := dual.GetArticle("a")
	if err != nil || got.ItemID != "a" {
		t.Fatalf("read through dual store failed: %v %v", got, err)
	}
}

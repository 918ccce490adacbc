package catalog

import (
	"errors"
	"time"

	"archived/internal/models"
)

// ErrNotFound is returned for missing articles and artifacts regardless of
// the backing store.
var ErrNotFound = errors.New("catalog: not found")

// ArticleInput is the submission-time article payload. CreateArticle is
// idempotent on ItemID.
type ArticleInput struct {
	ItemID string
	Url    string
	Name   string
}

// TaskRow pairs an artifact with the submission context needed by the
// task-status endpoint.
type TaskRow struct {
	Artifact models.ArchiveArtifact
	ItemID   string
	Url      string
}

// Store is the database storage provider contract the kernel depends on.
// A terminal artifact status is never replaced by pending except through
// Requeue or EnsurePending (an explicit resubmission).
type Store interface {
	CreateArticle(input ArticleInput) (*models.ArchivedUrl, error)
	GetArticle(itemID string) (*models.ArchivedUrl, error)
	GetArticleByID(id uint) (*models.ArchivedUrl, error)
	GetArticleByUrl(url string) (*models.ArchivedUrl, error)
	ListArticles(limit, offset int) ([]models.ArchivedUrl, int64, error)
	UpdateArticleName(itemID, name string) error

	GetArtifact(itemID, archiver string) (*models.ArchiveArtifact, error)
	GetArtifactByRow(rowID uint) (*models.ArchiveArtifact, error)
	ListArtifacts(itemID string) ([]models.ArchiveArtifact, error)

	// EnsurePending inserts the pending row for (article, archiver), or
	// resets the existing row to pending. Retries update, never duplicate.
	EnsurePending(articleID uint, archiver, taskID string) (*models.ArchiveArtifact, error)

	// FinalizeArtifact records the archiver outcome and recomputes the
	// article's total size from its successful artifacts.
	FinalizeArtifact(rowID uint, result models.ArchiveResult) error

	// RecordUploads attaches the storage fan-out outcome to the artifact.
	RecordUploads(rowID uint, uploads models.StorageUploadList) error

	// MarkLocalDeleted flags the artifact's local file as cleaned up.
	MarkLocalDeleted(rowID uint, at time.Time) error

	// FindSuccessful answers the dedup question: has any of the candidate
	// URLs (or the item itself) already produced a successful artifact for
	// this archiver? Returns ErrNotFound when none has.
	FindSuccessful(itemID string, urls []string, archiver string) (*models.ArchiveArtifact, error)

	SaveMetadata(articleID uint, md *models.UrlMetadata) error
	GetMetadata(articleID uint) (*models.UrlMetadata, error)

	TaskRows(taskID string) ([]TaskRow, error)

	// ListSaves pages over artifacts newest-first for the admin surface.
	ListSaves(limit, offset int) ([]TaskRow, int64, error)

	// Requeue resets a terminal artifact to pending under a new task id.
	// This is the only sanctioned terminal→pending transition besides
	// resubmission.
	Requeue(rowID uint, taskID string) (*models.ArchiveArtifact, error)

	DeleteArtifact(rowID uint) (*models.ArchiveArtifact, error)
	DeleteArtifactsByItem(itemID string) ([]models.ArchiveArtifact, error)
	DeleteArtifactsByUrl(url string) ([]models.ArchiveArtifact, error)
}

// Replica receives denormalized mirrors of catalog writes in dual
// persistence mode. Implementations log-and-swallow nothing themselves;
// the dual store decides what a replica failure means.
type Replica interface {
	PutArticle(article *models.ArchivedUrl) error
	PutArtifact(itemID string, artifact *models.ArchiveArtifact) error
	DeleteArtifact(itemID, archiver string) error
	Close() error
}

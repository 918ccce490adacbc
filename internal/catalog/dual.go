package catalog

import (
	"fmt"
	"log/slog"
	"time"

	"archived/internal/models"
)

// Failure modes for replica writes in dual persistence.
const (
	FailureModeStrict     = "strict"
	FailureModeBestEffort = "best_effort"
)

// DualStore writes through a relational primary and mirrors every
// mutation into a document replica. Reads always come from the primary.
// In best_effort mode a replica failure is logged and swallowed; in
// strict mode it fails the operation (the primary write has already
// happened and is not rolled back — the replica catches up on the next
// write to the same key).
type DualStore struct {
	primary     Store
	replica     Replica
	failureMode string
}

func NewDualStore(primary Store, replica Replica, failureMode string) *DualStore {
	return &DualStore{primary: primary, replica: replica, failureMode: failureMode}
}

func (d *DualStore) replicaErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if d.failureMode == FailureModeStrict {
		return models.Errorf(models.DbReplicaFail, "replica %s failed: %w", op, err)
	}
	slog.Warn("Replica write failed", "op", op, "error", err)
	return nil
}

func (d *DualStore) mirrorArticle(articleID uint) error {
	article, err := d.primary.GetArticleByID(articleID)
	if err != nil {
		return fmt.Errorf("failed to load article for mirror: %w", err)
	}
	return d.replica.PutArticle(article)
}

func (d *DualStore) mirrorArtifact(rowID uint) error {
	artifact, err := d.primary.GetArtifactByRow(rowID)
	if err != nil {
		return fmt.Errorf("failed to load artifact for mirror: %w", err)
	}
	article, err := d.primary.GetArticleByID(artifact.ArchivedUrlID)
	if err != nil {
		return fmt.Errorf("failed to load article for mirror: %w", err)
	}
	if err := d.replica.PutArtifact(article.ItemID, artifact); err != nil {
		return err
	}
	return d.replica.PutArticle(article)
}

func (d *DualStore) CreateArticle(input ArticleInput) (*models.ArchivedUrl, error) {
	article, err := d.primary.CreateArticle(input)
	if err != nil {
		return nil, err
	}
	if err := d.replicaErr("put article", d.replica.PutArticle(article)); err != nil {
		return nil, err
	}
	return article, nil
}

func (d *DualStore) GetArticle(itemID string) (*models.ArchivedUrl, error) {
	return d.primary.GetArticle(itemID)
}

func (d *DualStore) GetArticleByID(id uint) (*models.ArchivedUrl, error) {
	return d.primary.GetArticleByID(id)
}

func (d *DualStore) GetArticleByUrl(url string) (*models.ArchivedUrl, error) {
	return d.primary.GetArticleByUrl(url)
}

func (d *DualStore) ListArticles(limit, offset int) ([]models.ArchivedUrl, int64, error) {
	return d.primary.ListArticles(limit, offset)
}

func (d *DualStore) UpdateArticleName(itemID, name string) error {
	if err := d.primary.UpdateArticleName(itemID, name); err != nil {
		return err
	}
	article, err := d.primary.GetArticle(itemID)
	if err != nil {
		return err
	}
	return d.replicaErr("put article", d.replica.PutArticle(article))
}

func (d *DualStore) GetArtifact(itemID, archiver string) (*models.ArchiveArtifact, error) {
	return d.primary.GetArtifact(itemID, archiver)
}

func (d *DualStore) GetArtifactByRow(rowID uint) (*models.ArchiveArtifact, error) {
	return d.primary.GetArtifactByRow(rowID)
}

func (d *DualStore) ListArtifacts(itemID string) ([]models.ArchiveArtifact, error) {
	return d.primary.ListArtifacts(itemID)
}

func (d *DualStore) EnsurePending(articleID uint, archiver, taskID string) (*models.ArchiveArtifact, error) {
	artifact, err := d.primary.EnsurePending(articleID, archiver, taskID)
	if err != nil {
		return nil, err
	}
	if err := d.replicaErr("put artifact", d.mirrorArtifact(artifact.ID)); err != nil {
		return nil, err
	}
	return artifact, nil
}

func (d *DualStore) FinalizeArtifact(rowID uint, result models.ArchiveResult) error {
	if err := d.primary.FinalizeArtifact(rowID, result); err != nil {
		return err
	}
	return d.replicaErr("put artifact", d.mirrorArtifact(rowID))
}

func (d *DualStore) RecordUploads(rowID uint, uploads models.StorageUploadList) error {
	if err := d.primary.RecordUploads(rowID, uploads); err != nil {
		return err
	}
	return d.replicaErr("put artifact", d.mirrorArtifact(rowID))
}

func (d *DualStore) MarkLocalDeleted(rowID uint, at time.Time) error {
	if err := d.primary.MarkLocalDeleted(rowID, at); err != nil {
		return err
	}
	return d.replicaErr("put artifact", d.mirrorArtifact(rowID))
}

func (d *DualStore) FindSuccessful(itemID string, urls []string, archiver string) (*models.ArchiveArtifact, error) {
	return d.primary.FindSuccessful(itemID, urls, archiver)
}

func (d *DualStore) SaveMetadata(articleID uint, md *models.UrlMetadata) error {
	return d.primary.SaveMetadata(articleID, md)
}

func (d *DualStore) GetMetadata(articleID uint) (*models.UrlMetadata, error) {
	return d.primary.GetMetadata(articleID)
}

func (d *DualStore) TaskRows(taskID string) ([]TaskRow, error) {
	return d.primary.TaskRows(taskID)
}

func (d *DualStore) ListSaves(limit, offset int) ([]TaskRow, int64, error) {
	return d.primary.ListSaves(limit, offset)
}

func (d *DualStore) Requeue(rowID uint, taskID string) (*models.ArchiveArtifact, error) {
	artifact, err := d.primary.Requeue(rowID, taskID)
	if err != nil {
		return nil, err
	}
	if err := d.replicaErr("put artifact", d.mirrorArtifact(artifact.ID)); err != nil {
		return nil, err
	}
	return artifact, nil
}

func (d *DualStore) DeleteArtifact(rowID uint) (*models.ArchiveArtifact, error) {
	artifact, err := d.primary.DeleteArtifact(rowID)
	if err != nil {
		return nil, err
	}
	article, err := d.primary.GetArticleByID(artifact.ArchivedUrlID)
	if err == nil {
		if err := d.replicaErr("delete artifact", d.replica.DeleteArtifact(article.ItemID, artifact.Archiver)); err != nil {
			return nil, err
		}
		if err := d.replicaErr("put article", d.replica.PutArticle(article)); err != nil {
			return nil, err
		}
	}
	return artifact, nil
}

func (d *DualStore) DeleteArtifactsByItem(itemID string) ([]models.ArchiveArtifact, error) {
	artifacts, err := d.primary.DeleteArtifactsByItem(itemID)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		if err := d.replicaErr("delete artifact", d.replica.DeleteArtifact(itemID, a.Archiver)); err != nil {
			return nil, err
		}
	}
	if err := d.replicaErr("put article", d.mirrorArticleByItem(itemID)); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (d *DualStore) DeleteArtifactsByUrl(url string) ([]models.ArchiveArtifact, error) {
	artifacts, err := d.primary.DeleteArtifactsByUrl(url)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		article, aerr := d.primary.GetArticleByID(a.ArchivedUrlID)
		if aerr != nil {
			continue
		}
		if err := d.replicaErr("delete artifact", d.replica.DeleteArtifact(article.ItemID, a.Archiver)); err != nil {
			return nil, err
		}
	}
	return artifacts, nil
}

func (d *DualStore) mirrorArticleByItem(itemID string) error {
	article, err := d.primary.GetArticle(itemID)
	if err != nil {
		return err
	}
	return d.replica.PutArticle(article)
}

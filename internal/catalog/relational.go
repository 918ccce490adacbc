package catalog

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"archived/internal/models"
)

// GormStore is the relational catalog over Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the catalog schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ArchivedUrl{},
		&models.ArchiveArtifact{},
		&models.UrlMetadata{},
		&models.CommandExecution{},
		&models.CommandOutputLine{},
		&models.ApiKey{},
	)
}

func (s *GormStore) CreateArticle(input ArticleInput) (*models.ArchivedUrl, error) {
	var article models.ArchivedUrl
	err := s.db.Where("item_id = ?", input.ItemID).First(&article).Error
	if err == nil {
		// Idempotent on item_id: refresh mutable fields only.
		updates := map[string]interface{}{"url": input.Url}
		if input.Name != "" {
			updates["name"] = input.Name
		}
		if err := s.db.Model(&article).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update article: %w", err)
		}
		return &article, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	article = models.ArchivedUrl{ItemID: input.ItemID, Url: input.Url, Name: input.Name}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"item_id", "name"}),
	}).Create(&article).Error; err != nil {
		return nil, fmt.Errorf("failed to create article: %w", err)
	}
	if article.ID == 0 {
		// Conflict path on SQLite does not backfill the ID.
		if err := s.db.Where("url = ?", input.Url).First(&article).Error; err != nil {
			return nil, err
		}
	}
	return &article, nil
}

func (s *GormStore) GetArticle(itemID string) (*models.ArchivedUrl, error) {
	var article models.ArchivedUrl
	err := s.db.Where("item_id = ?", itemID).First(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &article, nil
}

func (s *GormStore) GetArticleByID(id uint) (*models.ArchivedUrl, error) {
	var article models.ArchivedUrl
	err := s.db.First(&article, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &article, nil
}

func (s *GormStore) GetArticleByUrl(url string) (*models.ArchivedUrl, error) {
	var article models.ArchivedUrl
	err := s.db.Where("url = ?", url).First(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &article, nil
}

func (s *GormStore) ListArticles(limit, offset int) ([]models.ArchivedUrl, int64, error) {
	var total int64
	if err := s.db.Model(&models.ArchivedUrl{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var articles []models.ArchivedUrl
	err := s.db.Preload("Artifacts").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&articles).Error
	if err != nil {
		return nil, 0, err
	}
	return articles, total, nil
}

func (s *GormStore) UpdateArticleName(itemID, name string) error {
	res := s.db.Model(&models.ArchivedUrl{}).Where("item_id = ?", itemID).Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetArtifact(itemID, archiver string) (*models.ArchiveArtifact, error) {
	var artifact models.ArchiveArtifact
	err := s.db.Joins("JOIN archived_urls ON archived_urls.id = archive_artifacts.archived_url_id").
		Where("archived_urls.item_id = ? AND archive_artifacts.archiver = ?", itemID, archiver).
		First(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *GormStore) GetArtifactByRow(rowID uint) (*models.ArchiveArtifact, error) {
	var artifact models.ArchiveArtifact
	err := s.db.First(&artifact, rowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *GormStore) ListArtifacts(itemID string) ([]models.ArchiveArtifact, error) {
	article, err := s.GetArticle(itemID)
	if err != nil {
		return nil, err
	}
	var artifacts []models.ArchiveArtifact
	if err := s.db.Where("archived_url_id = ?", article.ID).Order("archiver").Find(&artifacts).Error; err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (s *GormStore) EnsurePending(articleID uint, archiver, taskID string) (*models.ArchiveArtifact, error) {
	var artifact models.ArchiveArtifact
	err := s.db.Where("archived_url_id = ? AND archiver = ?", articleID, archiver).First(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		artifact = models.ArchiveArtifact{
			ArchivedUrlID: articleID,
			Archiver:      archiver,
			Status:        models.StatusPending,
			TaskID:        taskID,
		}
		if err := s.db.Create(&artifact).Error; err != nil {
			return nil, fmt.Errorf("failed to create artifact: %w", err)
		}
		return &artifact, nil
	}
	if err != nil {
		return nil, err
	}

	// Resubmission: the existing row is reset wholesale, not duplicated.
	updates := map[string]interface{}{
		"status":                models.StatusPending,
		"task_id":               taskID,
		"success":               false,
		"exit_code":             nil,
		"uploaded_to_storage":   false,
		"storage_uploads":       models.StorageUploadList(nil),
		"all_uploads_succeeded": false,
		"local_file_deleted":    false,
		"local_file_deleted_at": nil,
	}
	if err := s.db.Model(&artifact).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.GetArtifactByRow(artifact.ID)
}

func (s *GormStore) FinalizeArtifact(rowID uint, result models.ArchiveResult) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var artifact models.ArchiveArtifact
		if err := tx.First(&artifact, rowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		status := models.StatusFailed
		if result.Success {
			status = models.StatusSuccess
		}
		updates := map[string]interface{}{
			"status":     status,
			"success":    result.Success,
			"exit_code":  result.ExitCode,
			"saved_path": result.SavedPath,
		}
		var size *int64
		if result.Success && result.SavedPath != "" {
			if n, err := fileSize(result.SavedPath); err == nil {
				size = &n
			}
		}
		updates["size_bytes"] = size
		if err := tx.Model(&artifact).Updates(updates).Error; err != nil {
			return err
		}
		return recomputeTotalSize(tx, artifact.ArchivedUrlID)
	})
}

func (s *GormStore) RecordUploads(rowID uint, uploads models.StorageUploadList) error {
	res := s.db.Model(&models.ArchiveArtifact{}).Where("id = ?", rowID).Updates(map[string]interface{}{
		"uploaded_to_storage":   uploads.AllSucceeded(),
		"storage_uploads":       uploads,
		"all_uploads_succeeded": uploads.AllSucceeded(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) MarkLocalDeleted(rowID uint, at time.Time) error {
	res := s.db.Model(&models.ArchiveArtifact{}).Where("id = ?", rowID).Updates(map[string]interface{}{
		"local_file_deleted":    true,
		"local_file_deleted_at": at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) FindSuccessful(itemID string, urls []string, archiver string) (*models.ArchiveArtifact, error) {
	q := s.db.Joins("JOIN archived_urls ON archived_urls.id = archive_artifacts.archived_url_id").
		Where("archive_artifacts.archiver = ? AND archive_artifacts.success = ?", archiver, true)
	if len(urls) > 0 {
		q = q.Where("archived_urls.item_id = ? OR archived_urls.url IN ?", itemID, urls)
	} else {
		q = q.Where("archived_urls.item_id = ?", itemID)
	}

	var artifact models.ArchiveArtifact
	err := q.Order("archive_artifacts.updated_at DESC").First(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (s *GormStore) SaveMetadata(articleID uint, md *models.UrlMetadata) error {
	md.ArchivedUrlID = articleID
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "archived_url_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "byline", "excerpt", "text_content",
			"word_count", "reading_time_minutes", "language", "site_name",
		}),
	}).Create(md).Error
}

func (s *GormStore) GetMetadata(articleID uint) (*models.UrlMetadata, error) {
	var md models.UrlMetadata
	err := s.db.Where("archived_url_id = ?", articleID).First(&md).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &md, nil
}

func (s *GormStore) TaskRows(taskID string) ([]TaskRow, error) {
	var artifacts []models.ArchiveArtifact
	if err := s.db.Where("task_id = ?", taskID).Order("id").Find(&artifacts).Error; err != nil {
		return nil, err
	}
	rows := make([]TaskRow, 0, len(artifacts))
	for _, a := range artifacts {
		row := TaskRow{Artifact: a}
		var article models.ArchivedUrl
		if err := s.db.First(&article, a.ArchivedUrlID).Error; err == nil {
			row.ItemID = article.ItemID
			row.Url = article.Url
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *GormStore) ListSaves(limit, offset int) ([]TaskRow, int64, error) {
	var total int64
	if err := s.db.Model(&models.ArchiveArtifact{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var artifacts []models.ArchiveArtifact
	err := s.db.Order("id DESC").Limit(limit).Offset(offset).Find(&artifacts).Error
	if err != nil {
		return nil, 0, err
	}
	rows := make([]TaskRow, 0, len(artifacts))
	for _, a := range artifacts {
		row := TaskRow{Artifact: a}
		var article models.ArchivedUrl
		if err := s.db.First(&article, a.ArchivedUrlID).Error; err == nil {
			row.ItemID = article.ItemID
			row.Url = article.Url
		}
		rows = append(rows, row)
	}
	return rows, total, nil
}

func (s *GormStore) Requeue(rowID uint, taskID string) (*models.ArchiveArtifact, error) {
	artifact, err := s.GetArtifactByRow(rowID)
	if err != nil {
		return nil, err
	}
	return s.EnsurePending(artifact.ArchivedUrlID, artifact.Archiver, taskID)
}

func (s *GormStore) DeleteArtifact(rowID uint) (*models.ArchiveArtifact, error) {
	artifact, err := s.GetArtifactByRow(rowID)
	if err != nil {
		return nil, err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(&models.ArchiveArtifact{}, rowID).Error; err != nil {
			return err
		}
		return recomputeTotalSize(tx, artifact.ArchivedUrlID)
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (s *GormStore) DeleteArtifactsByItem(itemID string) ([]models.ArchiveArtifact, error) {
	article, err := s.GetArticle(itemID)
	if err != nil {
		return nil, err
	}
	return s.deleteArtifactsFor(article.ID)
}

func (s *GormStore) DeleteArtifactsByUrl(url string) ([]models.ArchiveArtifact, error) {
	var article models.ArchivedUrl
	err := s.db.Where("url = ?", url).First(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.deleteArtifactsFor(article.ID)
}

func (s *GormStore) deleteArtifactsFor(articleID uint) ([]models.ArchiveArtifact, error) {
	var artifacts []models.ArchiveArtifact
	if err := s.db.Where("archived_url_id = ?", articleID).Find(&artifacts).Error; err != nil {
		return nil, err
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("archived_url_id = ?", articleID).Delete(&models.ArchiveArtifact{}).Error; err != nil {
			return err
		}
		return recomputeTotalSize(tx, articleID)
	})
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// recomputeTotalSize keeps the article's cached size in sync with its
// successful artifacts.
func recomputeTotalSize(tx *gorm.DB, articleID uint) error {
	var total int64
	err := tx.Model(&models.ArchiveArtifact{}).
		Where("archived_url_id = ? AND success = ? AND size_bytes IS NOT NULL", articleID, true).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	if err != nil {
		return err
	}
	return tx.Model(&models.ArchivedUrl{}).Where("id = ?", articleID).
		Update("total_size_bytes", total).Error
}

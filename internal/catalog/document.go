package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"archived/internal/models"
)

const (
	articleKeyPrefix  = "article/"
	artifactKeyPrefix = "artifact/"
)

// ArticleDoc is the denormalized article record the document store keeps
// for read-heavy consumers.
type ArticleDoc struct {
	ItemID         string    `json:"item_id"`
	Url            string    `json:"url"`
	Name           string    `json:"name"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ArtifactDoc mirrors one archiver outcome for an item.
type ArtifactDoc struct {
	ItemID              string                   `json:"item_id"`
	Archiver            string                   `json:"archiver"`
	Status              string                   `json:"status"`
	Success             bool                     `json:"success"`
	ExitCode            *int                     `json:"exit_code,omitempty"`
	SavedPath           string                   `json:"saved_path,omitempty"`
	SizeBytes           *int64                   `json:"size_bytes,omitempty"`
	TaskID              string                   `json:"task_id,omitempty"`
	StorageUploads      models.StorageUploadList `json:"storage_uploads,omitempty"`
	AllUploadsSucceeded bool                     `json:"all_uploads_succeeded"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// DocumentStore is a Badger-backed document catalog. It serves as the
// replica side of dual persistence and offers direct reads for the
// denormalized view.
type DocumentStore struct {
	db *badger.DB
}

func OpenDocumentStore(path string) (*DocumentStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	return &DocumentStore{db: db}, nil
}

func (d *DocumentStore) Close() error {
	return d.db.Close()
}

func articleKey(itemID string) []byte {
	return []byte(articleKeyPrefix + itemID)
}

func artifactKey(itemID, archiver string) []byte {
	return []byte(artifactKeyPrefix + itemID + "/" + archiver)
}

func (d *DocumentStore) put(key []byte, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (d *DocumentStore) get(key []byte, doc interface{}) error {
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// PutArticle mirrors an article write.
func (d *DocumentStore) PutArticle(article *models.ArchivedUrl) error {
	return d.put(articleKey(article.ItemID), ArticleDoc{
		ItemID:         article.ItemID,
		Url:            article.Url,
		Name:           article.Name,
		TotalSizeBytes: article.TotalSizeBytes,
		UpdatedAt:      time.Now().UTC(),
	})
}

// PutArtifact mirrors an artifact write.
func (d *DocumentStore) PutArtifact(itemID string, artifact *models.ArchiveArtifact) error {
	return d.put(artifactKey(itemID, artifact.Archiver), ArtifactDoc{
		ItemID:              itemID,
		Archiver:            artifact.Archiver,
		Status:              artifact.Status,
		Success:             artifact.Success,
		ExitCode:            artifact.ExitCode,
		SavedPath:           artifact.SavedPath,
		SizeBytes:           artifact.SizeBytes,
		TaskID:              artifact.TaskID,
		StorageUploads:      artifact.StorageUploads,
		AllUploadsSucceeded: artifact.AllUploadsSucceeded,
		UpdatedAt:           time.Now().UTC(),
	})
}

// DeleteArtifact removes a mirrored artifact. Missing keys are not an
// error: the replica may legitimately trail the primary.
func (d *DocumentStore) DeleteArtifact(itemID, archiver string) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(artifactKey(itemID, archiver))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// GetArticle reads the denormalized article record.
func (d *DocumentStore) GetArticle(itemID string) (*ArticleDoc, error) {
	var doc ArticleDoc
	if err := d.get(articleKey(itemID), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetArtifact reads one mirrored archiver outcome.
func (d *DocumentStore) GetArtifact(itemID, archiver string) (*ArtifactDoc, error) {
	var doc ArtifactDoc
	if err := d.get(artifactKey(itemID, archiver), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListArtifacts scans the mirrored outcomes for an item.
func (d *DocumentStore) ListArtifacts(itemID string) ([]ArtifactDoc, error) {
	prefix := []byte(artifactKeyPrefix + itemID + "/")
	var docs []ArtifactDoc
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var doc ArtifactDoc
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

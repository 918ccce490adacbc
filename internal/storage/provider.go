package storage

import (
	"context"
	"fmt"
	"time"

	"archived/internal/models"
)

// GzipSuffix marks server-side compressed objects in storage paths.
const GzipSuffix = ".gz"

// UploadResult is the outcome of one provider upload attempt.
type UploadResult struct {
	ProviderName     string
	Success          bool
	URI              string
	OriginalSize     int64
	StoredSize       int64
	CompressionRatio float64
	Err              error
}

// Metadata describes a stored object.
type Metadata struct {
	Size       int64
	Compressed bool
	ModTime    time.Time
}

// Provider is a file storage backend. Implementations are individually
// thread-safe; they hold no mutable state beyond their client handles.
type Provider interface {
	Name() string

	// Upload stores the local file at destPath, optionally gzip-compressing
	// it. Compressed objects get a GzipSuffix appended to the storage path.
	// Failures are reported in the result, never panicked or short-circuited.
	Upload(ctx context.Context, localPath, destPath string, compress bool) UploadResult

	// Download fetches storagePath into localPath, gunzipping when decompress
	// is set and the object carries the gzip suffix.
	Download(ctx context.Context, storagePath, localPath string, decompress bool) error

	Delete(ctx context.Context, storagePath string) error
	Exists(ctx context.Context, storagePath string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Metadata(ctx context.Context, storagePath string) (Metadata, error)
}

// URLSigner is implemented by providers that can mint expiring access URLs.
type URLSigner interface {
	AccessURL(ctx context.Context, storagePath string, ttl time.Duration) (string, error)
}

// DestinationPath is the provider-agnostic object path convention.
func DestinationPath(itemID, archiver, ext string) string {
	return fmt.Sprintf("archives/%s/%s/output.%s", itemID, archiver, ext)
}

// Fanout uploads the artifact to every provider independently. One provider's
// failure never cancels the others; the returned records always have one
// entry per configured provider, in order.
func Fanout(ctx context.Context, providers []Provider, localPath, destPath string, compress bool) []models.StorageUploadRecord {
	records := make([]models.StorageUploadRecord, 0, len(providers))
	for _, p := range providers {
		res := p.Upload(ctx, localPath, destPath, compress)
		rec := models.StorageUploadRecord{
			ProviderName:     p.Name(),
			Success:          res.Success,
			StorageURI:       res.URI,
			OriginalSize:     res.OriginalSize,
			StoredSize:       res.StoredSize,
			CompressionRatio: res.CompressionRatio,
		}
		if res.Success {
			now := time.Now()
			rec.UploadedAt = &now
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		records = append(records, rec)
	}
	return records
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSConfig holds configuration for the Google Cloud Storage provider.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSProvider implements Provider against a GCS bucket. Credentials come
// from the ambient application-default chain.
type GCSProvider struct {
	client *gcs.Client
	bucket string
	prefix string
}

func NewGCSProvider(ctx context.Context, cfg GCSConfig) (*GCSProvider, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSProvider{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (p *GCSProvider) Name() string { return "gcs" }

func (p *GCSProvider) buildKey(storagePath string) string {
	if p.prefix == "" {
		return storagePath
	}
	prefix := p.prefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + storagePath
}

func (p *GCSProvider) object(storagePath string) *gcs.ObjectHandle {
	return p.client.Bucket(p.bucket).Object(p.buildKey(storagePath))
}

func (p *GCSProvider) Upload(ctx context.Context, localPath, destPath string, compress bool) UploadResult {
	result := UploadResult{ProviderName: p.Name()}

	src := localPath
	storagePath := destPath
	var originalSize, storedSize int64

	if compress {
		tmp, orig, stored, err := compressToTemp(localPath)
		if err != nil {
			result.Err = err
			return result
		}
		defer os.Remove(tmp)
		src = tmp
		storagePath = destPath + GzipSuffix
		originalSize, storedSize = orig, stored
	} else {
		info, err := os.Stat(localPath)
		if err != nil {
			result.Err = err
			return result
		}
		originalSize, storedSize = info.Size(), info.Size()
	}

	file, err := os.Open(src)
	if err != nil {
		result.Err = err
		return result
	}
	defer file.Close()

	key := p.buildKey(storagePath)
	w := p.object(storagePath).NewWriter(ctx)
	w.Metadata = map[string]string{"compressed": fmt.Sprintf("%t", compress)}
	if err := copyToWriter(w, file); err != nil {
		result.Err = fmt.Errorf("failed to upload to GCS: %w", err)
		return result
	}

	result.Success = true
	result.URI = fmt.Sprintf("gs://%s/%s", p.bucket, key)
	result.OriginalSize = originalSize
	result.StoredSize = storedSize
	result.CompressionRatio = ratio(originalSize, storedSize)
	return result
}

func (p *GCSProvider) Download(ctx context.Context, storagePath, localPath string, decompress bool) error {
	r, err := p.object(storagePath).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to read GCS object: %w", err)
	}
	defer r.Close()

	if decompress && isCompressedPath(storagePath) {
		return decompressStream(r, localPath)
	}
	return copyStream(r, localPath)
}

func (p *GCSProvider) Delete(ctx context.Context, storagePath string) error {
	return p.object(storagePath).Delete(ctx)
}

func (p *GCSProvider) Exists(ctx context.Context, storagePath string) (bool, error) {
	_, err := p.object(storagePath).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check GCS object: %w", err)
	}
	return true, nil
}

func (p *GCSProvider) List(ctx context.Context, prefix string) ([]string, error) {
	it := p.client.Bucket(p.bucket).Objects(ctx, &gcs.Query{Prefix: p.buildKey(prefix)})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		key := attrs.Name
		if p.prefix != "" {
			key = strings.TrimPrefix(key, strings.TrimSuffix(p.prefix, "/")+"/")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *GCSProvider) Metadata(ctx context.Context, storagePath string) (Metadata, error) {
	attrs, err := p.object(storagePath).Attrs(ctx)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to get GCS object attrs: %w", err)
	}
	md := Metadata{
		Size:       attrs.Size,
		Compressed: isCompressedPath(storagePath),
		ModTime:    attrs.Updated,
	}
	if v, ok := attrs.Metadata["compressed"]; ok {
		md.Compressed = v == "true"
	}
	return md, nil
}

// AccessURL returns a V4 signed GET URL for the object.
func (p *GCSProvider) AccessURL(ctx context.Context, storagePath string, ttl time.Duration) (string, error) {
	url, err := p.client.Bucket(p.bucket).SignedURL(p.buildKey(storagePath), &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign GCS URL: %w", err)
	}
	return url, nil
}

package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalProvider stores objects in a directory tree rooted at baseDir.
type LocalProvider struct {
	baseDir string
}

func NewLocalProvider(baseDir string) *LocalProvider {
	return &LocalProvider{baseDir: baseDir}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) fullPath(storagePath string) string {
	return filepath.Join(p.baseDir, storagePath)
}

func (p *LocalProvider) Upload(ctx context.Context, localPath, destPath string, compress bool) UploadResult {
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

	target := p.fullPath(storagePath)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		result.Err = err
		return result
	}

	in, err := os.Open(src)
	if err != nil {
		result.Err = err
		return result
	}
	defer in.Close()
	if err := copyStream(in, target); err != nil {
		result.Err = fmt.Errorf("failed to write %s: %w", target, err)
		return result
	}

	result.Success = true
	result.URI = "file://" + target
	result.OriginalSize = originalSize
	result.StoredSize = storedSize
	result.CompressionRatio = ratio(originalSize, storedSize)
	return result
}

func (p *LocalProvider) Download(ctx context.Context, storagePath, localPath string, decompress bool) error {
	in, err := os.Open(p.fullPath(storagePath))
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	if decompress && isCompressedPath(storagePath) {
		return decompressStream(in, localPath)
	}
	return copyStream(in, localPath)
}

func (p *LocalProvider) Delete(ctx context.Context, storagePath string) error {
	return os.Remove(p.fullPath(storagePath))
}

func (p *LocalProvider) Exists(ctx context.Context, storagePath string) (bool, error) {
	_, err := os.Stat(p.fullPath(storagePath))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (p *LocalProvider) List(ctx context.Context, prefix string) ([]string, error) {
	root := p.fullPath(prefix)
	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return keys, err
}

func (p *LocalProvider) Metadata(ctx context.Context, storagePath string) (Metadata, error) {
	info, err := os.Stat(p.fullPath(storagePath))
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Size:       info.Size(),
		Compressed: isCompressedPath(storagePath),
		ModTime:    info.ModTime(),
	}, nil
}

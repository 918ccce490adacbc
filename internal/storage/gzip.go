package storage

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// compressToTemp gzips src into a temporary file and returns its path plus
// the original and compressed sizes. The caller removes the temp file.
func compressToTemp(src string) (tmpPath string, originalSize, storedSize int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", 0, 0, err
	}
	originalSize = info.Size()

	tmp, err := os.CreateTemp("", "archived-gz-*")
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	zw := gzip.NewWriter(tmp)
	if _, err = io.Copy(zw, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, 0, fmt.Errorf("failed to compress: %w", err)
	}
	if err = zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, 0, err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, 0, err
	}

	out, err := os.Stat(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, 0, err
	}
	return tmp.Name(), originalSize, out.Size(), nil
}

// decompressStream gunzips r into the local file at dst.
func decompressStream(r io.Reader, dst string) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, zr); err != nil {
		out.Close()
		return fmt.Errorf("failed to decompress: %w", err)
	}
	return out.Close()
}

// copyStream writes r into the local file at dst as-is.
func copyStream(r io.Reader, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyToWriter streams r into a remote writer and closes it, surfacing
// whichever error came first.
func copyToWriter(w io.WriteCloser, r io.Reader) error {
	_, copyErr := io.Copy(w, r)
	if closeErr := w.Close(); copyErr == nil {
		copyErr = closeErr
	}
	return copyErr
}

// isCompressedPath reports whether a storage path follows the gzip
// suffix convention.
func isCompressedPath(storagePath string) bool {
	return strings.HasSuffix(storagePath, GzipSuffix)
}

func ratio(original, stored int64) float64 {
	if original <= 0 {
		return 0
	}
	return float64(stored) / float64(original)
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.html")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalProviderRoundtrip(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(t.TempDir())
	src := writeTemp(t, "<html>hello</html>")

	res := p.Upload(ctx, src, "archives/a/monolith/output.html", false)
	if !res.Success {
		t.Fatalf("upload failed: %v", res.Err)
	}
	if res.OriginalSize != res.StoredSize {
		t.Errorf("uncompressed upload should preserve size: %d != %d", res.OriginalSize, res.StoredSize)
	}

	exists, err := p.Exists(ctx, "archives/a/monolith/output.html")
	if err != nil || !exists {
		t.Fatalf("uploaded object should exist, got %v %v", exists, err)
	}

	dst := filepath.Join(t.TempDir(), "restored.html")
	if err := p.Download(ctx, "archives/a/monolith/output.html", dst, false); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<html>hello</html>" {
		t.Errorf("roundtrip mismatch: %q", data)
	}
}

func TestLocalProviderCompressedRoundtrip(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(t.TempDir())
	src := writeTemp(t, "compress me please, compress me please, compress me please")

	res := p.Upload(ctx, src, "archives/a/pdf/output.pdf", true)
	if !res.Success {
		t.Fatalf("upload failed: %v", res.Err)
	}

	// Compression adds the .gz suffix to the storage path.
	storedPath := "archives/a/pdf/output.pdf" + GzipSuffix
	exists, err := p.Exists(ctx, storedPath)
	if err != nil || !exists {
		t.Fatalf("compressed object %q should exist", storedPath)
	}
	exists, _ = p.Exists(ctx, "archives/a/pdf/output.pdf")
	if exists {
		t.Error("uncompressed path should not exist for a compressed upload")
	}

	md, err := p.Metadata(ctx, storedPath)
	if err != nil {
		t.Fatal(err)
	}
	if !md.Compressed {
		t.Error("metadata should report compressed")
	}

	dst := filepath.Join(t.TempDir(), "restored.pdf")
	if err := p.Download(ctx, storedPath, dst, true); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "compress me please, compress me please, compress me please" {
		t.Errorf("decompressed roundtrip mismatch: %q", data)
	}
}

func TestLocalProviderListAndDelete(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(t.TempDir())
	src := writeTemp(t, "x")

	p.Upload(ctx, src, "archives/a/monolith/output.html", false)
	p.Upload(ctx, src, "archives/a/pdf/output.pdf", false)
	p.Upload(ctx, src, "archives/b/pdf/output.pdf", false)

	keys, err := p.List(ctx, "archives/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under archives/a, got %v", keys)
	}

	if err := p.Delete(ctx, "archives/a/pdf/output.pdf"); err != nil {
		t.Fatal(err)
	}
	exists, _ := p.Exists(ctx, "archives/a/pdf/output.pdf")
	if exists {
		t.Error("deleted object still exists")
	}

	// Listing a missing prefix is empty, not an error.
	keys, err = p.List(ctx, "archives/nothing")
	if err != nil || len(keys) != 0 {
		t.Errorf("missing prefix list = %v, %v", keys, err)
	}
}

func TestDestinationPath(t *testing.T) {
	got := DestinationPath("item-1", "screenshot", "png")
	want := "archives/item-1/screenshot/output.png"
	if got != want {
		t.Errorf("DestinationPath = %q, want %q", got, want)
	}
}

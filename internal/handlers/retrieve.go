package handlers

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"archived/internal/models"
	"archived/internal/storage"
	"archived/internal/utils"
)

type retrieveRequest struct {
	ID       string `json:"id"`
	Url      string `json:"url"`
	Archiver string `json:"archiver"`
}

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".png":  "image/png",
	".pdf":  "application/pdf",
	".json": "application/json",
}

// retrieve streams one artifact file, or a gzip tarball of every
// successful artifact grouped by archiver when archiver is "all".
func (s *Server) retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" && req.Url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id or url is required"})
		return
	}
	if req.Archiver == "" {
		req.Archiver = "all"
	}

	article, err := s.resolveArticle(req)
	if err != nil {
		writeKernelError(c, err)
		return
	}
	artifacts, err := s.store.ListArtifacts(article.ItemID)
	if err != nil {
		writeKernelError(c, err)
		return
	}

	if req.Archiver != "all" {
		s.streamSingle(c, article.ItemID, artifacts, req.Archiver)
		return
	}
	s.streamBundle(c, article.ItemID, artifacts)
}

// restoreFromStorage re-downloads an artifact whose local copy was cleaned
// up, back into its original saved path.
func (s *Server) restoreFromStorage(ctx context.Context, itemID string, a models.ArchiveArtifact) error {
	// A partially failed fan-out still leaves usable copies; go by the
	// per-record successes, not the all-or-nothing flag.
	if a.SavedPath == "" {
		return fmt.Errorf("artifact %d has no stored copy", a.ID)
	}
	byName := make(map[string]storage.Provider, len(s.providers))
	for _, p := range s.providers {
		byName[p.Name()] = p
	}

	ext := strings.TrimPrefix(filepath.Ext(a.SavedPath), ".")
	dest := storage.DestinationPath(utils.SanitizeID(itemID), a.Archiver, ext)
	for _, rec := range a.StorageUploads {
		p := byName[rec.ProviderName]
		if p == nil || !rec.Success {
			continue
		}
		for _, storagePath := range []string{dest + storage.GzipSuffix, dest} {
			ok, err := p.Exists(ctx, storagePath)
			if err != nil || !ok {
				continue
			}
			if err := p.Download(ctx, storagePath, a.SavedPath, true); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no provider could restore artifact %d", a.ID)
}

func (s *Server) resolveArticle(req retrieveRequest) (*models.ArchivedUrl, error) {
	if req.ID != "" {
		return s.store.GetArticle(req.ID)
	}
	article, err := s.store.GetArticleByUrl(req.Url)
	if err == nil {
		return article, nil
	}
	// The submitted URL may be a paywall wrapper around the stored one.
	for _, candidate := range utils.CandidateURLs(req.Url) {
		if article, cerr := s.store.GetArticleByUrl(candidate); cerr == nil {
			return article, nil
		}
	}
	return nil, err
}

func (s *Server) streamSingle(c *gin.Context, itemID string, artifacts []models.ArchiveArtifact, archiver string) {
	for _, a := range artifacts {
		if a.Archiver != archiver || !a.Success || a.SavedPath == "" {
			continue
		}
		if _, err := os.Stat(a.SavedPath); err != nil {
			if rerr := s.restoreFromStorage(c.Request.Context(), itemID, a); rerr != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "artifact file is no longer available"})
				return
			}
		}
		ext := filepath.Ext(a.SavedPath)
		contentType := contentTypes[ext]
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Content-Type", contentType)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(a.SavedPath)))
		c.File(a.SavedPath)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no successful artifact for archiver " + archiver})
}

func (s *Server) streamBundle(c *gin.Context, itemID string, artifacts []models.ArchiveArtifact) {
	var included []models.ArchiveArtifact
	for _, a := range artifacts {
		if !a.Success || a.SavedPath == "" {
			continue
		}
		if _, err := os.Stat(a.SavedPath); err != nil {
			if rerr := s.restoreFromStorage(c.Request.Context(), itemID, a); rerr != nil {
				continue
			}
		}
		included = append(included, a)
	}
	if len(included) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no successful artifacts"})
		return
	}

	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", utils.SanitizeID(itemID)+".tar.gz"))
	c.Status(http.StatusOK)

	zw := gzip.NewWriter(c.Writer)
	tw := tar.NewWriter(zw)
	for _, a := range included {
		if err := addTarEntry(tw, a); err != nil {
			// Headers are already out; all we can do is stop the stream.
			break
		}
	}
	tw.Close()
	zw.Close()
}

func addTarEntry(tw *tar.Writer, a models.ArchiveArtifact) error {
	f, err := os.Open(a.SavedPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Name:    a.Archiver + "/" + filepath.Base(a.SavedPath),
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

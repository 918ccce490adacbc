package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"archived/internal/cleanup"
	"archived/internal/models"
)

// adminSave is one row of the paginated artifact listing.
type adminSave struct {
	RowID      uint   `json:"db_rowid"`
	ItemID     string `json:"item_id"`
	Url        string `json:"url"`
	Archiver   string `json:"archiver"`
	Status     string `json:"status"`
	Success    bool   `json:"success"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	SavedPath  string `json:"saved_path,omitempty"`
	SizeBytes  *int64 `json:"size_bytes,omitempty"`
	FileExists bool   `json:"file_exists"`
	Uploaded   bool   `json:"uploaded_to_storage"`
	AllUploads bool   `json:"all_uploads_succeeded"`
}

func (s *Server) adminSaves(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, total, err := s.store.ListSaves(limit, offset)
	if err != nil {
		writeKernelError(c, err)
		return
	}

	saves := make([]adminSave, 0, len(rows))
	for _, row := range rows {
		a := row.Artifact
		save := adminSave{
			RowID:      a.ID,
			ItemID:     row.ItemID,
			Url:        row.Url,
			Archiver:   a.Archiver,
			Status:     a.Status,
			Success:    a.Success,
			ExitCode:   a.ExitCode,
			SavedPath:  a.SavedPath,
			SizeBytes:  a.SizeBytes,
			Uploaded:   a.UploadedToStorage,
			AllUploads: a.AllUploadsSucceeded,
		}
		if a.SavedPath != "" {
			_, err := os.Stat(a.SavedPath)
			save.FileExists = err == nil
		}
		saves = append(saves, save)
	}
	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"saves":  saves,
	})
}

func (s *Server) adminArticles(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	articles, total, err := s.store.ListArticles(limit, offset)
	if err != nil {
		writeKernelError(c, err)
		return
	}
	type article struct {
		ID             uint   `json:"archived_url_id"`
		ItemID         string `json:"item_id"`
		Url            string `json:"url"`
		Name           string `json:"name,omitempty"`
		TotalSizeBytes int64  `json:"total_size_bytes"`
	}
	out := make([]article, 0, len(articles))
	for _, a := range articles {
		out = append(out, article{
			ID:             a.ID,
			ItemID:         a.ItemID,
			Url:            a.Url,
			Name:           a.Name,
			TotalSizeBytes: a.TotalSizeBytes,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"articles": out,
	})
}

// adminDelete dispatches on the wildcard selector:
//
//	DELETE /admin/saves/{rowid}
//	DELETE /admin/saves/by-item/{id}
//	DELETE /admin/saves/by-url?url=...
//
// With ?remove_files=true the local artifact files are deleted too and
// empty parent directories pruned. Object store copies are kept.
func (s *Server) adminDelete(c *gin.Context) {
	selector := strings.Trim(c.Param("selector"), "/")
	removeFiles := c.Query("remove_files") == "true"

	var deleted []models.ArchiveArtifact
	var err error
	switch {
	case selector == "by-url":
		url := c.Query("url")
		if url == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
			return
		}
		deleted, err = s.store.DeleteArtifactsByUrl(url)
	case strings.HasPrefix(selector, "by-item/"):
		deleted, err = s.store.DeleteArtifactsByItem(strings.TrimPrefix(selector, "by-item/"))
	default:
		rowID, perr := strconv.ParseUint(selector, 10, 32)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rowid"})
			return
		}
		var one *models.ArchiveArtifact
		one, err = s.store.DeleteArtifact(uint(rowID))
		if one != nil {
			deleted = []models.ArchiveArtifact{*one}
		}
	}
	if err != nil {
		writeKernelError(c, err)
		return
	}

	removed := 0
	if removeFiles {
		for _, a := range deleted {
			if a.SavedPath == "" {
				continue
			}
			if err := os.Remove(a.SavedPath); err != nil && !os.IsNotExist(err) {
				slog.Warn("Failed to remove artifact file", "path", a.SavedPath, "error", err)
				continue
			}
			cleanup.PruneEmptyParents(a.SavedPath, s.cfg.DataDir)
			removed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": len(deleted), "files_removed": removed})
}

func (s *Server) adminSummarize(c *gin.Context) {
	var req struct {
		RowID uint `json:"rowid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	artifact, err := s.store.GetArtifactByRow(req.RowID)
	if err != nil {
		writeKernelError(c, err)
		return
	}
	if !artifact.Success {
		c.JSON(http.StatusConflict, gin.H{"error": "artifact is not successful"})
		return
	}
	s.notifier.Schedule(artifact.ID, artifact.ArchivedUrlID, "admin_resummarize")
	c.JSON(http.StatusAccepted, gin.H{"scheduled": true})
}

func (s *Server) adminRequeue(c *gin.Context) {
	rowID, err := strconv.ParseUint(c.Param("rowid"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rowid"})
		return
	}
	out, err := s.orch.Requeue(uint(rowID))
	if err != nil {
		writeKernelError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

// adminExecution replays a recorded command execution from its persisted
// output lines.
func (s *Server) adminExecution(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}
	result, err := s.run.Replay(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id":    result.ExecutionID,
		"exit_code":       result.ExitCode,
		"timed_out":       result.TimedOut,
		"stdout_lines":    result.StdoutLines,
		"stderr_lines":    result.StderrLines,
		"combined_output": result.CombinedOutput,
	})
}

func (s *Server) adminCreateKey(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := GenerateAPIKey(s.db, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// The plaintext is returned exactly once.
	c.JSON(http.StatusCreated, gin.H{"name": req.Name, "api_key": key})
}

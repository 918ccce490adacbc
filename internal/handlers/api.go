package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"archived/internal/catalog"
	"archived/internal/config"
	"archived/internal/models"
	"archived/internal/runner"
	"archived/internal/storage"
	"archived/internal/summarize"
	"archived/internal/utils"
	"archived/internal/workers"
)

// Server is the thin HTTP adapter over the kernel operations.
type Server struct {
	db        *gorm.DB
	store     catalog.Store
	orch      *workers.Orchestrator
	run       *runner.Runner
	notifier  summarize.Notifier
	providers []storage.Provider
	cfg       config.Config
}

func NewServer(db *gorm.DB, store catalog.Store, orch *workers.Orchestrator, run *runner.Runner, notifier summarize.Notifier, providers []storage.Provider, cfg config.Config) *Server {
	return &Server{db: db, store: store, orch: orch, run: run, notifier: notifier, providers: providers, cfg: cfg}
}

// Register wires every route onto the engine.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/healthz", s.health)
	r.GET("/health", s.health)

	// "retrieve" shares the :archiver position and is dispatched by value.
	r.POST("/archive/:archiver", s.archiveDispatch)
	r.POST("/archive/:archiver/batch", s.archiveBatch)
	r.POST("/save", s.save)
	r.POST("/save/batch", s.saveBatch)
	r.GET("/tasks/:task_id", s.taskStatus)
	r.GET("/archive/:archived_url_id/size", s.articleSize)

	admin := r.Group("/admin", RequireAPIKey(s.db))
	{
		admin.GET("/saves", s.adminSaves)
		admin.GET("/articles", s.adminArticles)
		admin.DELETE("/saves/*selector", s.adminDelete)
		admin.POST("/summarize", s.adminSummarize)
		admin.POST("/requeue/:rowid", s.adminRequeue)
		admin.GET("/executions/:id", s.adminExecution)
		admin.POST("/keys", s.adminCreateKey)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeKernelError maps the error taxonomy onto HTTP statuses.
func writeKernelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, workers.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task queue is full"})
	default:
		switch models.KindOf(err) {
		case models.ValidationFail:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case models.UnknownArchiver:
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

func (s *Server) archiveDispatch(c *gin.Context) {
	if c.Param("archiver") == "retrieve" {
		s.retrieve(c)
		return
	}
	s.archiveSync(c)
}

func (s *Server) archiveSync(c *gin.Context) {
	var req utils.ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.orch.ArchiveSync(c.Request.Context(), c.Param("archiver"), req)
	if err != nil {
		writeKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) archiveBatch(c *gin.Context) {
	s.enqueueBatch(c, c.Param("archiver"))
}

func (s *Server) save(c *gin.Context) {
	var req utils.ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.orch.SubmitBatch("all", []utils.ArchiveRequest{req})
	if err != nil {
		writeKernelError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

func (s *Server) saveBatch(c *gin.Context) {
	s.enqueueBatch(c, "all")
}

func (s *Server) enqueueBatch(c *gin.Context, archiver string) {
	var req utils.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.orch.SubmitBatch(archiver, req.Items)
	if err != nil {
		writeKernelError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

func (s *Server) taskStatus(c *gin.Context) {
	status, err := s.orch.TaskStatusFor(c.Param("task_id"))
	if err != nil {
		writeKernelError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) articleSize(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("archived_url_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid archived_url_id"})
		return
	}
	article, err := s.store.GetArticleByID(uint(id))
	if err != nil {
		writeKernelError(c, err)
		return
	}
	artifacts, err := s.store.ListArtifacts(article.ItemID)
	if err != nil {
		writeKernelError(c, err)
		return
	}

	type artifactSize struct {
		Archiver  string `json:"archiver"`
		SizeBytes *int64 `json:"size_bytes"`
		SavedPath string `json:"saved_path,omitempty"`
	}
	sizes := make([]artifactSize, 0, len(artifacts))
	for _, a := range artifacts {
		if !a.Success {
			continue
		}
		sizes = append(sizes, artifactSize{Archiver: a.Archiver, SizeBytes: a.SizeBytes, SavedPath: a.SavedPath})
	}
	c.JSON(http.StatusOK, gin.H{
		"total_size_bytes": article.TotalSizeBytes,
		"artifacts":        sizes,
	})
}

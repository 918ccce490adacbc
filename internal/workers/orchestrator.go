package workers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"archived/internal/archivers"
	"archived/internal/catalog"
	"archived/internal/config"
	"archived/internal/models"
	"archived/internal/utils"
)

// SubmitOutcome describes what happened to one (item, archiver) pair at
// submission time.
type SubmitOutcome struct {
	ItemID   string `json:"item_id"`
	Url      string `json:"url"`
	Archiver string `json:"archiver"`
	RowID    uint   `json:"db_rowid,omitempty"`
	Reused   bool   `json:"reused"`
}

// BatchOutcome is the result of an asynchronous batch submission.
type BatchOutcome struct {
	TaskID   string          `json:"task_id"`
	Count    int             `json:"count"`
	Reused   int             `json:"reused"`
	Outcomes []SubmitOutcome `json:"items,omitempty"`
}

// SyncResult is the synchronous single-archiver response shape.
type SyncResult struct {
	OK        bool   `json:"ok"`
	ExitCode  *int   `json:"exit_code"`
	SavedPath string `json:"saved_path,omitempty"`
	ItemID    string `json:"id"`
	RowID     uint   `json:"db_rowid"`
	Reused    bool   `json:"reused,omitempty"`
}

// TaskItemStatus is one row of a task-status report.
type TaskItemStatus struct {
	ItemID    string `json:"id"`
	Url       string `json:"url"`
	Archiver  string `json:"archiver"`
	Status    string `json:"status"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	SavedPath string `json:"saved_path,omitempty"`
	RowID     uint   `json:"db_rowid"`
}

// TaskStatus aggregates a task's items; Status is the worst status across
// them (failed > pending > success).
type TaskStatus struct {
	TaskID string           `json:"task_id"`
	Status string           `json:"status"`
	Items  []TaskItemStatus `json:"items"`
}

// Orchestrator owns submission: it inserts pending rows, applies
// submission-time dedup, lays out per-item pipelines for "all", and
// enqueues tasks.
type Orchestrator struct {
	store     catalog.Store
	registry  *archivers.Registry
	queue     *Queue
	processor *Processor
	cfg       config.Config
}

func NewOrchestrator(store catalog.Store, registry *archivers.Registry, queue *Queue, processor *Processor, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		store:     store,
		registry:  registry,
		queue:     queue,
		processor: processor,
		cfg:       cfg,
	}
}

// resolveNames expands "all" into every registered archiver in
// registration order.
func (o *Orchestrator) resolveNames(archiverName string) ([]string, error) {
	if archiverName == "all" {
		return o.registry.Names(), nil
	}
	if _, ok := o.registry.Get(archiverName); !ok {
		return nil, models.Errorf(models.UnknownArchiver, "unknown archiver %q", archiverName)
	}
	return []string{archiverName}, nil
}

// prepareItem creates the article and pending row, or reports a reused
// artifact when submission-time dedup hits.
func (o *Orchestrator) prepareItem(req utils.ArchiveRequest, archiverName, taskID string) (SubmitOutcome, *models.BatchItem, error) {
	outcome := SubmitOutcome{ItemID: req.ID, Url: req.URL, Archiver: archiverName}

	if o.cfg.SkipExistingSaves {
		existing, err := o.store.FindSuccessful(req.ID, utils.CandidateURLs(req.URL), archiverName)
		if err == nil && existing != nil {
			outcome.Reused = true
			outcome.RowID = existing.ID
			return outcome, nil, nil
		}
	}

	article, err := o.store.CreateArticle(catalog.ArticleInput{ItemID: req.ID, Url: req.URL, Name: req.Name})
	if err != nil {
		return outcome, nil, err
	}
	artifact, err := o.store.EnsurePending(article.ID, archiverName, taskID)
	if err != nil {
		return outcome, nil, err
	}
	outcome.RowID = artifact.ID
	return outcome, &models.BatchItem{
		ItemID:       req.ID,
		Url:          req.URL,
		RowID:        artifact.ID,
		ArchiverName: archiverName,
	}, nil
}

// SubmitBatch validates, dedups, and enqueues a batch. For "all", items
// are laid out per-item: each item passes through every archiver before
// the next item begins.
func (o *Orchestrator) SubmitBatch(archiverName string, reqs []utils.ArchiveRequest) (*BatchOutcome, error) {
	names, err := o.resolveNames(archiverName)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if err := reqs[i].Validate(); err != nil {
			return nil, models.Errorf(models.ValidationFail, "item %d: %w", i, err)
		}
	}

	task := models.BatchTask{TaskID: uuid.NewString(), ArchiverName: archiverName}
	out := &BatchOutcome{TaskID: task.TaskID}
	for _, req := range reqs {
		for _, name := range names {
			outcome, item, err := o.prepareItem(req, name, task.TaskID)
			if err != nil {
				return nil, err
			}
			out.Outcomes = append(out.Outcomes, outcome)
			if outcome.Reused {
				out.Reused++
				continue
			}
			task.Items = append(task.Items, *item)
		}
	}
	out.Count = len(task.Items)

	if len(task.Items) > 0 {
		if err := o.queue.Enqueue(task); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ArchiveSync runs one submission synchronously. For "all" it runs every
// archiver in registration order and returns the last archiver's result.
func (o *Orchestrator) ArchiveSync(ctx context.Context, archiverName string, req utils.ArchiveRequest) (*SyncResult, error) {
	names, err := o.resolveNames(archiverName)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, models.Errorf(models.ValidationFail, "%w", err)
	}

	taskID := uuid.NewString()
	var last *SyncResult
	for _, name := range names {
		outcome, item, err := o.prepareItem(req, name, taskID)
		if err != nil {
			return nil, err
		}
		if outcome.Reused {
			existing, err := o.store.GetArtifactByRow(outcome.RowID)
			if err != nil {
				return nil, err
			}
			last = &SyncResult{
				OK:        true,
				ExitCode:  existing.ExitCode,
				SavedPath: existing.SavedPath,
				ItemID:    req.ID,
				RowID:     existing.ID,
				Reused:    true,
			}
			continue
		}
		res := o.processor.ProcessItem(ctx, *item)
		if res == nil {
			return nil, fmt.Errorf("archival produced no result for %q", req.ID)
		}
		last = &SyncResult{
			OK:        res.Success,
			ExitCode:  res.ExitCode,
			SavedPath: res.SavedPath,
			ItemID:    req.ID,
			RowID:     item.RowID,
		}
	}
	return last, nil
}

// TaskStatusFor reports the aggregated status of a submitted task.
func (o *Orchestrator) TaskStatusFor(taskID string) (*TaskStatus, error) {
	rows, err := o.store.TaskRows(taskID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, catalog.ErrNotFound
	}

	status := &TaskStatus{TaskID: taskID, Status: models.StatusSuccess}
	sawPending := false
	sawFailed := false
	for _, row := range rows {
		status.Items = append(status.Items, TaskItemStatus{
			ItemID:    row.ItemID,
			Url:       row.Url,
			Archiver:  row.Artifact.Archiver,
			Status:    row.Artifact.Status,
			ExitCode:  row.Artifact.ExitCode,
			SavedPath: row.Artifact.SavedPath,
			RowID:     row.Artifact.ID,
		})
		switch row.Artifact.Status {
		case models.StatusFailed:
			sawFailed = true
		case models.StatusPending:
			sawPending = true
		}
	}
	if sawFailed {
		status.Status = models.StatusFailed
	} else if sawPending {
		status.Status = models.StatusPending
	}
	return status, nil
}

// Requeue resets a terminal artifact to pending and enqueues a
// single-item task that re-runs the full pipeline, uploads included.
func (o *Orchestrator) Requeue(rowID uint) (*BatchOutcome, error) {
	taskID := uuid.NewString()
	artifact, err := o.store.Requeue(rowID, taskID)
	if err != nil {
		return nil, err
	}
	article, err := o.store.GetArticleByID(artifact.ArchivedUrlID)
	if err != nil {
		return nil, err
	}

	task := models.BatchTask{
		TaskID:       taskID,
		ArchiverName: artifact.Archiver,
		Items: []models.BatchItem{{
			ItemID:       article.ItemID,
			Url:          article.Url,
			RowID:        artifact.ID,
			ArchiverName: artifact.Archiver,
		}},
	}
	if err := o.queue.Enqueue(task); err != nil {
		return nil, err
	}
	return &BatchOutcome{TaskID: task.TaskID, Count: 1}, nil
}

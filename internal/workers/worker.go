package workers

import (
	"context"
	"log/slog"

	"archived/internal/archivers"
	"archived/internal/catalog"
	"archived/internal/cleanup"
	"archived/internal/config"
	"archived/internal/models"
	"archived/internal/storage"
	"archived/internal/summarize"
	"archived/internal/utils"
)

// Processor runs one batch item through the full archival pipeline:
// dedup recheck → reachability pre-flight → archiver → storage fan-out →
// catalog promotion → notifications → cleanup registration.
//
// ProcessItem never panics out and never re-throws: every outcome ends in
// a finalized catalog row.
type Processor struct {
	store     catalog.Store
	registry  *archivers.Registry
	providers []storage.Provider
	notifier  summarize.Notifier
	cleaner   *cleanup.Scheduler
	cfg       config.Config
}

func NewProcessor(store catalog.Store, registry *archivers.Registry, providers []storage.Provider, notifier summarize.Notifier, cleaner *cleanup.Scheduler, cfg config.Config) *Processor {
	return &Processor{
		store:     store,
		registry:  registry,
		providers: providers,
		notifier:  notifier,
		cleaner:   cleaner,
		cfg:       cfg,
	}
}

// ProcessTask runs each item in order. Items are already laid out in
// per-item pipeline order by the orchestrator.
func (p *Processor) ProcessTask(ctx context.Context, task models.BatchTask) {
	for _, item := range task.Items {
		if ctx.Err() != nil {
			return
		}
		p.ProcessItem(ctx, item)
	}
}

// ProcessItem archives one (item, archiver) pair and finalizes its
// pending row. The returned result mirrors what was recorded.
func (p *Processor) ProcessItem(ctx context.Context, item models.BatchItem) (result *models.ArchiveResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker panic recovered", "item_id", item.ItemID, "archiver", item.ArchiverName, "panic", r)
			result = p.finalize(item, &models.ArchiveResult{ExitCode: models.IntPtr(1)})
		}
	}()

	archiver, ok := p.registry.Get(item.ArchiverName)
	if !ok {
		slog.Warn("Unknown archiver", "item_id", item.ItemID, "archiver", item.ArchiverName)
		return p.finalize(item, &models.ArchiveResult{ExitCode: models.IntPtr(127)})
	}

	// Execution-time dedup: another worker or a previous task may have
	// finished this work since submission.
	if p.cfg.SkipExistingSaves {
		if existing := p.findExisting(item); existing != nil && existing.ID != item.RowID {
			slog.Info("Promoting existing artifact", "item_id", item.ItemID, "archiver", item.ArchiverName, "source_rowid", existing.ID)
			return p.finalize(item, &models.ArchiveResult{
				Success:   true,
				ExitCode:  existing.ExitCode,
				SavedPath: existing.SavedPath,
			})
		}
	}

	if unreachable := p.preflight(item.Url); unreachable {
		if p.cfg.RetryUnreachable {
			// The 404 is not terminal under this knob: the row stays
			// pending so a requeue re-runs the pre-flight.
			slog.Info("URL unreachable, leaving row pending", "item_id", item.ItemID, "url", item.Url)
			return &models.ArchiveResult{ExitCode: models.IntPtr(404)}
		}
		slog.Info("URL unreachable, skipping archiver", "item_id", item.ItemID, "url", item.Url)
		return p.finalize(item, &models.ArchiveResult{ExitCode: models.IntPtr(404)})
	}

	artifact, err := p.store.GetArtifactByRow(item.RowID)
	if err != nil {
		slog.Error("Pending row vanished", "rowid", item.RowID, "error", err)
		return nil
	}

	res, err := archiver.Archive(ctx, archivers.Request{
		Url:           item.Url,
		ItemID:        item.ItemID,
		ArchivedUrlID: artifact.ArchivedUrlID,
	})
	if err != nil {
		slog.Error("Archiver error", "item_id", item.ItemID, "archiver", item.ArchiverName, "error", err)
		return p.finalize(item, &models.ArchiveResult{ExitCode: models.IntPtr(1)})
	}

	result = p.finalize(item, res)
	if res.Success {
		p.afterSuccess(ctx, item, artifact, res)
	}
	return result
}

// findExisting tries the submitted URL plus its unwrapped original form.
func (p *Processor) findExisting(item models.BatchItem) *models.ArchiveArtifact {
	existing, err := p.store.FindSuccessful(item.ItemID, utils.CandidateURLs(item.Url), item.ArchiverName)
	if err != nil {
		return nil
	}
	return existing
}

// preflight reports whether the URL definitively returns 404. Network
// errors are not definitive; the archiver gets its chance.
func (p *Processor) preflight(url string) bool {
	return utils.CheckReachable(url) != nil
}

func (p *Processor) finalize(item models.BatchItem, res *models.ArchiveResult) *models.ArchiveResult {
	if err := p.store.FinalizeArtifact(item.RowID, *res); err != nil {
		slog.Error("Failed to finalize artifact", "rowid", item.RowID, "error", err)
	}
	return res
}

// afterSuccess runs the post-archive stages: storage fan-out, metadata
// persistence, summarizer notification, and cleanup registration.
func (p *Processor) afterSuccess(ctx context.Context, item models.BatchItem, artifact *models.ArchiveArtifact, res *models.ArchiveResult) {
	allOK := false
	if len(p.providers) > 0 && res.SavedPath != "" {
		archiver, _ := p.registry.Get(item.ArchiverName)
		dest := storage.DestinationPath(utils.SanitizeID(item.ItemID), item.ArchiverName, archiver.OutputExt())
		records := storage.Fanout(ctx, p.providers, res.SavedPath, dest, p.cfg.CompressUploads)
		if err := p.store.RecordUploads(item.RowID, records); err != nil {
			slog.Error("Failed to record uploads", "rowid", item.RowID, "error", err)
		}
		allOK = models.StorageUploadList(records).AllSucceeded()
	}

	if res.Metadata != nil {
		if err := p.store.SaveMetadata(artifact.ArchivedUrlID, res.Metadata); err != nil {
			slog.Error("Failed to save metadata", "rowid", item.RowID, "error", err)
		}
		if title := res.Metadata.Title; title != "" {
			if article, err := p.store.GetArticleByID(artifact.ArchivedUrlID); err == nil && article.Name == "" {
				if err := p.store.UpdateArticleName(article.ItemID, title); err != nil {
					slog.Warn("Failed to backfill article name", "item_id", article.ItemID, "error", err)
				}
			}
		}
	}

	if item.ArchiverName == "readability" {
		p.notifier.Schedule(item.RowID, artifact.ArchivedUrlID, "readability_complete")
	}

	if allOK && p.cleaner != nil {
		p.cleaner.Register(res.SavedPath, item.RowID)
	}
}

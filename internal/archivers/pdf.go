package archivers

import (
	"context"

	"archived/internal/models"
)

// PdfArchiver prints the page to PDF with the headless browser.
type PdfArchiver struct {
	base
	env *BrowserEnv
}

func (a *PdfArchiver) Name() string      { return "pdf" }
func (a *PdfArchiver) OutputExt() string { return "pdf" }

func (a *PdfArchiver) Archive(ctx context.Context, req Request) (*models.ArchiveResult, error) {
	path, err := a.outputPath(req.ItemID, a.Name(), a.OutputExt())
	if err != nil {
		return nil, err
	}
	if err := a.env.Prepare(); err != nil {
		return nil, err
	}

	cmd := a.env.Command(req.Url,
		"--print-to-pdf="+shq(path),
		"--no-pdf-header-footer",
		"--virtual-time-budget=10000",
	)
	res, err := a.run.Execute(ctx, a.execute(req, a.Name(), cmd))
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		a.env.CleanupStray(ctx, req.ArchivedUrlID, a.Name())
	}
	return a.validateOutput(path, res), nil
}

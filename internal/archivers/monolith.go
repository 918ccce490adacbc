package archivers

import (
	"context"

	"archived/internal/models"
)

// MonolithArchiver pipes the browser-rendered DOM into the monolith
// binary, which inlines every asset into one self-contained HTML file.
type MonolithArchiver struct {
	base
	env *BrowserEnv
}

func (a *MonolithArchiver) Name() string      { return "monolith" }
func (a *MonolithArchiver) OutputExt() string { return "html" }

func (a *MonolithArchiver) Archive(ctx context.Context, req Request) (*models.ArchiveResult, error) {
	path, err := a.outputPath(req.ItemID, a.Name(), a.OutputExt())
	if err != nil {
		return nil, err
	}
	if err := a.env.Prepare(); err != nil {
		return nil, err
	}

	cmd := a.env.Command(req.Url, "--dump-dom", "--virtual-time-budget=10000") +
		" | " + shq(a.cfg.MonolithBinary) + " - -b " + shq(req.Url) + " -o " + shq(path)
	res, err := a.run.Execute(ctx, a.execute(req, a.Name(), cmd))
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		a.env.CleanupStray(ctx, req.ArchivedUrlID, a.Name())
	}
	return a.validateOutput(path, res), nil
}

package archivers

import (
	"context"
	"strings"

	"archived/internal/models"
)

// SingleFileArchiver shells out to the single-file CLI, which drives its
// own headless browser session.
type SingleFileArchiver struct {
	base
	env *BrowserEnv
}

func (a *SingleFileArchiver) Name() string      { return "singlefile" }
func (a *SingleFileArchiver) OutputExt() string { return "html" }

func (a *SingleFileArchiver) Archive(ctx context.Context, req Request) (*models.ArchiveResult, error) {
	path, err := a.outputPath(req.ItemID, a.Name(), a.OutputExt())
	if err != nil {
		return nil, err
	}
	if err := a.env.Prepare(); err != nil {
		return nil, err
	}

	cmd := strings.Join([]string{
		shq(a.cfg.SingleFileBinary),
		shq(req.Url),
		shq(path),
		"--browser-executable-path=" + shq(a.cfg.ChromeBinary),
		`--browser-args='["--no-sandbox","--disable-dev-shm-usage"]'`,
	}, " ")
	res, err := a.run.Execute(ctx, a.execute(req, a.Name(), cmd))
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		a.env.CleanupStray(ctx, req.ArchivedUrlID, a.Name())
	}
	return a.validateOutput(path, res), nil
}

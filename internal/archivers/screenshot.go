package archivers

import (
	"context"

	"archived/internal/models"
)

// ScreenshotArchiver captures a full-page PNG with the headless browser.
type ScreenshotArchiver struct {
	base
	env *BrowserEnv
}

func (a *ScreenshotArchiver) Name() string      { return "screenshot" }
func (a *ScreenshotArchiver) OutputExt() string { return "png" }

func (a *ScreenshotArchiver) Archive(ctx context.Context, req Request) (*models.ArchiveResult, error) {
	path, err := a.outputPath(req.ItemID, a.Name(), a.OutputExt())
	if err != nil {
		return nil, err
	}
	if err := a.env.Prepare(); err != nil {
		return nil, err
	}

	cmd := a.env.Command(req.Url,
		"--screenshot="+shq(path),
		"--window-size=1500,1080",
		"--hide-scrollbars",
		"--virtual-time-budget=10000",
	)
	res, err := a.run.Execute(ctx, a.execute(req, a.Name(), cmd))
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		a.env.CleanupStray(ctx, req.ArchivedUrlID, a.Name())
	}

	// Some browser builds write screenshot.png next to the requested path
	// instead of honoring it exactly; fall back to the variant probe.
	result := a.validateOutput(path, res)
	if !result.Success && res.Success() {
		if found, ok := a.existingOutput(req.ItemID, a.Name(), a.OutputExt()); ok {
			result.SavedPath = found
			result.Success = true
		}
	}
	return result, nil
}

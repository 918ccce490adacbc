package archivers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"archived/internal/config"
	"archived/internal/models"
	"archived/internal/runner"
	"archived/internal/utils"
)

// Artifacts below this size are treated as archiver failures even on a
// clean exit.
const minArtifactSize = 1

// base carries the shared plumbing every archiver variant needs.
type base struct {
	run *runner.Runner
	cfg config.Config
}

// outputDir creates and returns <data_dir>/<sanitized(item_id)>/<name>.
func (b *base) outputDir(itemID, name string) (string, error) {
	dir := filepath.Join(b.cfg.DataDir, utils.SanitizeID(itemID), name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return dir, nil
}

// outputPath creates the output directory and returns the standard
// artifact path.
func (b *base) outputPath(itemID, name, ext string) (string, error) {
	dir, err := b.outputDir(itemID, name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "output."+ext), nil
}

// existingOutput probes for the standard artifact and its numbered
// variants (some tools append -1, -2 suffixes rather than overwrite).
func (b *base) existingOutput(itemID, name, ext string) (string, bool) {
	dir := filepath.Join(b.cfg.DataDir, utils.SanitizeID(itemID), name)
	candidates := []string{filepath.Join(dir, "output."+ext)}
	if matches, err := filepath.Glob(filepath.Join(dir, "output-*."+ext)); err == nil {
		candidates = append(candidates, matches...)
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && info.Size() >= minArtifactSize {
			return path, true
		}
	}
	return "", false
}

// validateOutput applies the uniform success criterion: clean exit within
// the time budget and a non-empty file at path.
func (b *base) validateOutput(path string, res runner.Result) *models.ArchiveResult {
	out := &models.ArchiveResult{ExitCode: res.ExitCode, SavedPath: path}
	if !res.Success() {
		return out
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() < minArtifactSize {
		out.Success = false
		return out
	}
	out.Success = true
	return out
}

// execute runs a command through the global runner with the archiver's
// catalog context attached.
func (b *base) execute(req Request, archiver, command string) runner.Request {
	id := req.ArchivedUrlID
	return runner.Request{
		Command:       command,
		TimeoutSecs:   b.cfg.CommandTimeout,
		ArchivedUrlID: &id,
		Archiver:      archiver,
	}
}

// shq single-quotes s for inclusion in a shell command line.
func shq(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

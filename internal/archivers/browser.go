package archivers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"archived/internal/config"
	"archived/internal/runner"
)

// BrowserEnv is the shared setup/teardown protocol for browser-backed
// archivers. The user-data directory is shared-mutable across them;
// correctness comes from the runner's global lock plus pre-launch removal
// of singleton lock files left behind by crashed runs.
type BrowserEnv struct {
	run         *runner.Runner
	binary      string
	userDataDir string
}

func NewBrowserEnv(run *runner.Runner, cfg config.Config) *BrowserEnv {
	return &BrowserEnv{
		run:         run,
		binary:      cfg.ChromeBinary,
		userDataDir: cfg.ChromeUserDataDir,
	}
}

// Prepare creates the user-data directory and clears stale singleton
// locks before a launch.
func (e *BrowserEnv) Prepare() error {
	if err := os.MkdirAll(e.userDataDir, 0755); err != nil {
		return fmt.Errorf("failed to create browser profile dir: %w", err)
	}
	for _, name := range []string{"SingletonLock", "SingletonCookie", "SingletonSocket"} {
		path := filepath.Join(e.userDataDir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Could not remove stale browser lock", "path", path, "error", err)
		}
	}
	return nil
}

// Command assembles a headless browser invocation with the shared launch
// flags. Extra args come after the flags, before the target URL.
func (e *BrowserEnv) Command(url string, extra ...string) string {
	args := []string{
		shq(e.binary),
		"--headless",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--user-data-dir=" + shq(e.userDataDir),
	}
	if proxy := os.Getenv("SOCKS5_PROXY"); proxy != "" {
		args = append(args, "--proxy-server="+shq(proxy))
	}
	args = append(args, extra...)
	args = append(args, shq(url))
	return strings.Join(args, " ")
}

// CleanupStray kills browser processes that survived a timeout. The pkill
// goes through the runner so the cleanup is recorded in the catalog
// alongside the execution that needed it.
func (e *BrowserEnv) CleanupStray(ctx context.Context, archivedUrlID uint, archiver string) {
	id := archivedUrlID
	_, err := e.run.Execute(ctx, runner.Request{
		Command:       "pkill -f " + shq(e.binary) + " || true",
		TimeoutSecs:   10,
		ArchivedUrlID: &id,
		Archiver:      archiver,
	})
	if err != nil {
		slog.Warn("Browser cleanup command failed", "archiver", archiver, "error", err)
	}
}

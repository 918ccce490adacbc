package archivers

import (
	"context"
	"fmt"

	"archived/internal/config"
	"archived/internal/models"
	"archived/internal/runner"
)

// Request identifies the article an archiver is working on. ArchivedUrlID
// links the command executions to the catalog row.
type Request struct {
	Url           string
	ItemID        string
	ArchivedUrlID uint
}

// Archiver turns a URL into a single artifact file at
// <data_dir>/<sanitized(item_id)>/<name>/output.<ext>.
type Archiver interface {
	Name() string
	OutputExt() string
	Archive(ctx context.Context, req Request) (*models.ArchiveResult, error)
}

// Registry is an immutable name→archiver mapping built once at startup.
// Lookup misses are the caller's unknown-archiver case.
type Registry struct {
	order  []string
	byName map[string]Archiver
}

func NewRegistry(list ...Archiver) *Registry {
	r := &Registry{byName: make(map[string]Archiver, len(list))}
	for _, a := range list {
		if _, dup := r.byName[a.Name()]; dup {
			continue
		}
		r.order = append(r.order, a.Name())
		r.byName[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Archiver, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Names returns the archiver names in registration order. "all" submissions
// fan out in this order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// BuildRegistry constructs the configured archivers in their configured
// order.
func BuildRegistry(cfg config.Config, run *runner.Runner) (*Registry, error) {
	b := base{run: run, cfg: cfg}
	env := NewBrowserEnv(run, cfg)

	var list []Archiver
	for _, name := range cfg.Archivers {
		switch name {
		case "monolith":
			list = append(list, &MonolithArchiver{base: b, env: env})
		case "readability":
			list = append(list, &ReadabilityArchiver{base: b, env: env})
		case "singlefile":
			list = append(list, &SingleFileArchiver{base: b, env: env})
		case "screenshot":
			list = append(list, &ScreenshotArchiver{base: b, env: env})
		case "pdf":
			list = append(list, &PdfArchiver{base: b, env: env})
		default:
			return nil, fmt.Errorf("unknown archiver in config: %q", name)
		}
	}
	return NewRegistry(list...), nil
}

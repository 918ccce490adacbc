package archivers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"archived/internal/models"
)

const readingWordsPerMinute = 200

// readabilityPayload is the JSON the extractor emits.
type readabilityPayload struct {
	Title       string `json:"title"`
	Byline      string `json:"byline"`
	Content     string `json:"content"`
	TextContent string `json:"textContent"`
	Excerpt     string `json:"excerpt"`
	SiteName    string `json:"siteName"`
	Lang        string `json:"lang"`
}

// ReadabilityArchiver dumps the rendered DOM, runs the readability
// extractor over it, and persists both the cleaned article HTML and the
// structured metadata.
type ReadabilityArchiver struct {
	base
	env *BrowserEnv
}

func (a *ReadabilityArchiver) Name() string      { return "readability" }
func (a *ReadabilityArchiver) OutputExt() string { return "html" }

func (a *ReadabilityArchiver) Archive(ctx context.Context, req Request) (*models.ArchiveResult, error) {
	dir, err := a.outputDir(req.ItemID, a.Name())
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "output."+a.OutputExt())
	domPath := filepath.Join(dir, "dom.html")
	jsonPath := filepath.Join(dir, "article.json")

	if err := a.env.Prepare(); err != nil {
		return nil, err
	}

	// Step 1: render and dump the DOM.
	dumpCmd := a.env.Command(req.Url, "--dump-dom", "--virtual-time-budget=10000") +
		" > " + shq(domPath)
	res, err := a.run.Execute(ctx, a.execute(req, a.Name(), dumpCmd))
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		a.env.CleanupStray(ctx, req.ArchivedUrlID, a.Name())
	}
	if !res.Success() {
		return &models.ArchiveResult{ExitCode: res.ExitCode, SavedPath: path}, nil
	}

	// Step 2: extract the article from the dump.
	extractCmd := shq(a.cfg.ReadabilityBinary) + " " + shq(domPath) + " " + shq(req.Url) +
		" > " + shq(jsonPath)
	res, err = a.run.Execute(ctx, a.execute(req, a.Name(), extractCmd))
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return &models.ArchiveResult{ExitCode: res.ExitCode, SavedPath: path}, nil
	}

	payload, err := parseReadabilityJSON(jsonPath)
	if err != nil {
		// Extraction ran but produced garbage: an archiver failure, not an
		// internal one.
		exitCode := 1
		return &models.ArchiveResult{ExitCode: &exitCode, SavedPath: path}, nil
	}
	if err := os.WriteFile(path, []byte(payload.Content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write article: %w", err)
	}

	result := a.validateOutput(path, res)
	if result.Success {
		result.Metadata = buildMetadata(payload, domPath)
	}
	return result, nil
}

func parseReadabilityJSON(path string) (*readabilityPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var payload readabilityPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse extractor output: %w", err)
	}
	if payload.Content == "" {
		return nil, fmt.Errorf("extractor produced no content")
	}
	return &payload, nil
}

func buildMetadata(payload *readabilityPayload, domPath string) *models.UrlMetadata {
	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = domTitle(domPath)
	}
	words := len(strings.Fields(payload.TextContent))
	minutes := (words + readingWordsPerMinute - 1) / readingWordsPerMinute
	return &models.UrlMetadata{
		Title:              title,
		Byline:             payload.Byline,
		Excerpt:            payload.Excerpt,
		TextContent:        payload.TextContent,
		WordCount:          words,
		ReadingTimeMinutes: minutes,
		Language:           payload.Lang,
		SiteName:           payload.SiteName,
	}
}

// domTitle falls back to the <title> element of the raw DOM dump when the
// extractor found none.
func domTitle(domPath string) string {
	f, err := os.Open(domPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

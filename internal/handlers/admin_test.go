package handlers

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/gin-gonic/gin"

	"archived/internal/runner"
)

// seedSave archives one item synchronously and returns its row id.
func seedSave(t *testing.T, ts *testServer, itemID, url string) uint {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/archive/monolith", gin.H{"id": itemID, "url": url})
	if w.Code != http.StatusOK {
		t.Fatalf("seed archive failed: %s", w.Body.String())
	}
	var res struct {
		RowID uint `json:"db_rowid"`
	}
	decode(t, w, &res)
	return res.RowID
}

func TestAdminBootstrapPassThrough(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{name: "monolith", ext: "html", body: "x"})

	// With no keys in the catalog, admin routes are open so the first key
	// can be minted.
	w := ts.do(t, http.MethodGet, "/admin/saves", nil)
	if w.Code != http.StatusOK {
		t.Errorf("bootstrap request status = %d, want 200", w.Code)
	}
}

func TestAdminKeyLifecycle(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{name: "monolith", ext: "html", body: "x"})

	w := ts.do(t, http.MethodPost, "/admin/keys", gin.H{"name": "ops"})
	if w.Code != http.StatusCreated {
		t.Fatalf("key creation status = %d body = %s", w.Code, w.Body.String())
	}
	var created struct {
		Name   string `json:"name"`
		ApiKey string `json:"api_key"`
	}
	decode(t, w, &created)
	if created.ApiKey == "" || created.ApiKey[:3] != "ak_" {
		t.Fatalf("bad plaintext key %q", created.ApiKey)
	}

	// Once a key exists the bootstrap door closes.
	if w := ts.do(t, http.MethodGet, "/admin/saves", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("keyless request status = %d, want 401", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/admin/saves", nil, "X-API-Key", "ak_0000000000000000"); w.Code != http.StatusUnauthorized {
		t.Errorf("bad key status = %d, want 401", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/admin/saves", nil, "X-API-Key", created.ApiKey); w.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", w.Code)
	}
}

func TestAdminSavesListing(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{name: "monolith", ext: "html", body: "<html>ok</html>"})
	seedSave(t, ts, "item-1", "https://example.org/1")
	seedSave(t, ts, "item-2", "https://example.org/2")

	w := ts.do(t, http.MethodGet, "/admin/saves?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var out struct {
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
		Saves []struct {
			ItemID     string `json:"item_id"`
			Archiver   string `json:"archiver"`
			FileExists bool   `json:"file_exists"`
		} `json:"saves"`
	}
	decode(t, w, &out)
	if out.Total != 2 || out.Limit != 1 || len(out.Saves) != 1 {
		t.Fatalf("pagination wrong: %+v", out)
	}
	// Newest first.
	if out.Saves[0].ItemID != "item-2" || !out.Saves[0].FileExists {
		t.Errorf("first save = %+v", out.Saves[0])
	}
}

func TestAdminArticlesListing(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{name: "monolith", ext: "html", body: "0123456789"})
	seedSave(t, ts, "item-1", "https://example.org/1")

	w := ts.do(t, http.MethodGet, "/admin/articles", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var out struct {
		Total    int64 `json:"total"`
		Articles []struct {
			ItemID         string `json:"item_id"`
			Url            string `json:"url"`
			TotalSizeBytes int64  `json:"total_size_bytes"`
		} `json:"articles"`
	}
	decode(t, w, &out)
	if out.Total != 1 || len(out.Articles) != 1 {
		t.Fatalf("listing wrong: %+v", out)
	}
	if out.Articles[0].ItemID != "item-1" || out.Articles[0].TotalSizeBytes != 10 {
		t.Errorf("article = %+v", out.Articles[0])
	}
}

func TestAdminDeleteByRowID(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{name: "monolith", ext: "html", body: "<html>ok</html>"})
	rowID := seedSave(t, ts, "item-1", "https://example.org/1")

	artifact, err := ts.store.GetArtifactByRow(rowID)
	if err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodDelete, "/admin/saves/"+itoa(rowID)+"?remove_files=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var out struct {
		Deleted      int `json:"deleted"`
		FilesRemoved int `json:"files_removed"`
	}
	decode(t, w, &out)
	if out.Deleted != 1 || out.FilesRemoved != 1 {
		t.Errorf("unexpected delete report: %+v", out)
	}
	if _, err := os.Stat(artifact.SavedPath); !os.IsNotExist(err) {
		t.Error("artifact file should be removed")
	}
	if _, err := ts.store.GetArtifactByRow(rowID); err == nil {
		t.Error("artifact row should be gone")
	}
}

func TestAdminDeleteByItemAndUrl(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{name: "monolith", ext: "html", body: "x"})
	seedSave(t, ts, "item-1", "https://example.org/1")
	seedSave(t, ts, "item-2", "https://example.org/2")

	w := ts.do(t, http.MethodDelete, "/admin/saves/by-item/item-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("by-item status = %d body = %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodDelete, "/admin/saves/by-url?url=https://example.org/2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("by-url status = %d body = %s", w.Code, w.Body.String())
	}

	if w := ts.do(t, http.MethodDelete, "/admin/saves/by-url", nil); w.Code != http.StatusBadRequest {
		t.Errorf("url-less by-url status = %d, want 400", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, "/admin/saves/not-a-number", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad rowid status = %d, want 400", w.Code)
	}
}

func TestAdminRequeue(t *testing.T) {
	stub := &stubArchiver{name: "monolith", ext: "html", body: "<html>ok</html>"}
	ts := newTestServer(t, stub)
	rowID := seedSave(t, ts, "item-1", "https://example.org/1")

	w := ts.do(t, http.MethodPost, "/admin/requeue/"+itoa(rowID), nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var out struct {
		TaskID string `json:"task_id"`
		Count  int    `json:"count"`
	}
	decode(t, w, &out)
	if out.Count != 1 || out.TaskID == "" {
		t.Fatalf("unexpected requeue outcome: %+v", out)
	}

	if w := ts.do(t, http.MethodPost, "/admin/requeue/999999", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing row status = %d, want 404", w.Code)
	}
}

func TestAdminSummarize(t *testing.T) {
	ts := newTestServer(t, &stubArchiver{name: "monolith", ext: "html", body: "x"})
	rowID := seedSave(t, ts, "item-1", "https://example.org/1")
	before := ts.notifier.count()

	w := ts.do(t, http.MethodPost, "/admin/summarize", gin.H{"rowid": rowID})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if ts.notifier.count() != before+1 {
		t.Error("summarizer not scheduled")
	}

	if w := ts.do(t, http.MethodPost, "/admin/summarize", gin.H{"rowid": 999999}); w.Code != http.StatusNotFound {
		t.Errorf("missing row status = %d, want 404", w.Code)
	}
}

func TestAdminExecutionReplay(t *testing.T) {
	ts := newTestServer(t)

	res, err := ts.run.Execute(context.Background(), runner.Request{
		Command:     "echo replayed",
		TimeoutSecs: 10,
	})
	if err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodGet, "/admin/executions/"+itoa(res.ExecutionID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var out struct {
		ExecutionID uint     `json:"execution_id"`
		ExitCode    *int     `json:"exit_code"`
		StdoutLines []string `json:"stdout_lines"`
	}
	decode(t, w, &out)
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Errorf("exit code = %v", out.ExitCode)
	}
	if len(out.StdoutLines) != 1 || out.StdoutLines[0] != "replayed" {
		t.Errorf("stdout = %v", out.StdoutLines)
	}

	if w := ts.do(t, http.MethodGet, "/admin/executions/999999", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing execution status = %d, want 404", w.Code)
	}
}

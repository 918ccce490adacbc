package summarize

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Notifier tells the summarization collaborator that a readability
// artifact is ready. The collaborator is free to drop or defer the work;
// notification failures never affect the archival outcome.
type Notifier interface {
	Schedule(rowID, archivedUrlID uint, reason string)
}

// HTTPNotifier posts notifications to an external summarizer service.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (n *HTTPNotifier) Schedule(rowID, archivedUrlID uint, reason string) {
	payload, err := json.Marshal(map[string]interface{}{
		"rowid":           rowID,
		"archived_url_id": archivedUrlID,
		"reason":          reason,
	})
	if err != nil {
		return
	}
	go func() {
		resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
		if err != nil {
			slog.Warn("Summarizer notification failed", "rowid", rowID, "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			slog.Warn("Summarizer rejected notification", "rowid", rowID, "status", resp.StatusCode)
		}
	}()
}

// NoopNotifier is used in archiver-worker role and when no summarizer is
// configured.
type NoopNotifier struct{}

func (NoopNotifier) Schedule(rowID, archivedUrlID uint, reason string) {}

package utils

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ExtractOriginalURL unwraps paywall-bypass wrapper URLs that carry the real
// URL as a path suffix (e.g. https://wrapper.example/https://real.site/x).
// Returns the inner URL and true when one is found.
func ExtractOriginalURL(rawURL string) (string, bool) {
	for _, scheme := range []string{"https://", "http://"} {
		// Skip past the wrapper's own scheme before probing.
		rest := rawURL
		if idx := strings.Index(rest, "://"); idx >= 0 {
			rest = rest[idx+3:]
		}
		if idx := strings.Index(rest, scheme); idx > 0 {
			return rest[idx:], true
		}
	}
	return "", false
}

// CandidateURLs returns the lookup forms for a dedup query: the URL as given,
// plus the extracted original when it is a known wrapper.
func CandidateURLs(rawURL string) []string {
	urls := []string{rawURL}
	if original, ok := ExtractOriginalURL(rawURL); ok && original != rawURL {
		urls = append(urls, original)
	}
	return urls
}

// Reachability probe result.
type ReachabilityError struct {
	StatusCode int
}

func (e *ReachabilityError) Error() string {
	return fmt.Sprintf("url returned status %d", e.StatusCode)
}

var preflightClient = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		DisableKeepAlives: true,
	},
}

// CheckReachable probes the URL with HEAD, falling back to GET for servers
// that reject HEAD. Only a definitive 404 is treated as unreachable; network
// errors are left for the archiver to report.
func CheckReachable(rawURL string) error {
	status, err := probe("HEAD", rawURL)
	if err != nil {
		return nil
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = probe("GET", rawURL)
		if err != nil {
			return nil
		}
	}
	if status == http.StatusNotFound {
		return &ReachabilityError{StatusCode: status}
	}
	return nil
}

func probe(method, rawURL string) (int, error) {
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	resp, err := preflightClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

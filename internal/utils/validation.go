package utils

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateURL validates a submitted URL and rejects anything that could reach
// internal infrastructure from the archiver host.
func ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %v", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("only HTTP and HTTPS protocols are allowed")
	}

	if parsedURL.Hostname() == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	if err := checkSSRFProtection(parsedURL.Hostname()); err != nil {
		return err
	}

	return nil
}

// checkSSRFProtection prevents requests to private/internal networks.
func checkSSRFProtection(hostname string) error {
	if isLocalhost(hostname) {
		return fmt.Errorf("requests to localhost are not allowed")
	}

	// Literal IPs are checked without resolution; hostnames that fail to
	// resolve are left to fail naturally at archive time.
	if ip := net.ParseIP(hostname); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("requests to private/internal IP addresses are not allowed")
		}
		return nil
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("requests to private/internal IP addresses are not allowed")
		}
	}

	return nil
}

func isLocalhost(hostname string) bool {
	localhost := []string{
		"localhost",
		"127.0.0.1",
		"::1",
		"0.0.0.0",
	}
	for _, local := range localhost {
		if strings.EqualFold(hostname, local) {
			return true
		}
	}
	return false
}

func isPrivateIP(ip net.IP) bool {
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"224.0.0.0/4",
		"240.0.0.0/4",
	}
	ipv6PrivateRanges := []string{
		"::1/128",
		"fe80::/10",
		"fc00::/7",
		"ff00::/8",
	}

	ranges := ipv6PrivateRanges
	if ip.To4() != nil {
		ranges = privateRanges
	}
	for _, rangeStr := range ranges {
		_, privateNet, _ := net.ParseCIDR(rangeStr)
		if privateNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ArchiveRequest is the body of single-URL archive submissions.
type ArchiveRequest struct {
	ID   string `json:"id" validate:"required"`
	URL  string `json:"url" validate:"required"`
	Name string `json:"name,omitempty"`
}

func (r *ArchiveRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("validation failed: %v", err)
	}
	if err := ValidateURL(r.URL); err != nil {
		return fmt.Errorf("URL validation failed: %v", err)
	}
	return nil
}

// BatchRequest is the body of batch archive submissions.
type BatchRequest struct {
	Items []ArchiveRequest `json:"items" validate:"required,min=1,dive"`
}

func (r *BatchRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("validation failed: %v", err)
	}
	for i := range r.Items {
		if err := ValidateURL(r.Items[i].URL); err != nil {
			return fmt.Errorf("item %d: URL validation failed: %v", i, err)
		}
	}
	return nil
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Artifact status values. A terminal status is never replaced by pending
// except through an explicit requeue.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Output stream identifiers for command output lines.
const (
	StreamStdin  = "stdin"
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// ArchivedUrl represents a URL submitted for archiving.
type ArchivedUrl struct {
	gorm.Model
	Url            string `gorm:"uniqueIndex"`
	ItemID         string `gorm:"index"`
	Name           string
	TotalSizeBytes int64
	Artifacts      []ArchiveArtifact `gorm:"foreignKey:ArchivedUrlID"`
}

// ArchiveArtifact is the catalog row for one (url, archiver) pair.
// Retries update the existing row, never duplicate it.
type ArchiveArtifact struct {
	gorm.Model
	ArchivedUrlID       uint   `gorm:"uniqueIndex:idx_artifact_url_archiver"`
	Archiver            string `gorm:"uniqueIndex:idx_artifact_url_archiver"`
	Status              string `gorm:"index"`
	Success             bool
	ExitCode            *int
	SavedPath           string
	SizeBytes           *int64
	TaskID              string `gorm:"index"`
	UploadedToStorage   bool
	StorageUploads      StorageUploadList `gorm:"type:text"`
	AllUploadsSucceeded bool
	LocalFileDeleted    bool
	LocalFileDeletedAt  *time.Time
}

// Terminal reports whether the artifact has a recorded outcome.
func (a *ArchiveArtifact) Terminal() bool {
	return a.Status == StatusSuccess || a.Status == StatusFailed
}

// UrlMetadata holds readability-extracted page metadata, one per ArchivedUrl.
type UrlMetadata struct {
	gorm.Model
	ArchivedUrlID      uint   `gorm:"uniqueIndex"`
	Title              string `json:"title"`
	Byline             string `json:"byline"`
	Excerpt            string `json:"excerpt"`
	TextContent        string `gorm:"type:text" json:"text_content"`
	WordCount          int    `json:"word_count"`
	ReadingTimeMinutes int    `json:"reading_time_minutes"`
	Language           string `json:"language"`
	SiteName           string `json:"site_name"`
}

// CommandExecution records one subprocess run.
type CommandExecution struct {
	gorm.Model
	Command       string `gorm:"type:text"`
	Cwd           string
	StartTime     time.Time
	EndTime       *time.Time
	ExitCode      *int
	TimeoutSecs   int
	TimedOut      bool
	ArchivedUrlID *uint
	Archiver      string
	OutputLines   []CommandOutputLine `gorm:"foreignKey:ExecutionID;constraint:OnDelete:CASCADE"`
}

// CommandOutputLine is one captured line of subprocess output. Lines are
// append-only and numbered monotonically per execution and stream.
type CommandOutputLine struct {
	gorm.Model
	ExecutionID uint `gorm:"index"`
	Timestamp   time.Time
	Stream      string
	Line        string `gorm:"type:text"`
	LineNumber  int
}

// StorageUploadRecord is the per-provider outcome of one upload fan-out.
type StorageUploadRecord struct {
	ProviderName     string     `json:"provider_name"`
	Success          bool       `json:"success"`
	StorageURI       string     `json:"storage_uri,omitempty"`
	OriginalSize     int64      `json:"original_size,omitempty"`
	StoredSize       int64      `json:"stored_size,omitempty"`
	CompressionRatio float64    `json:"compression_ratio,omitempty"`
	UploadedAt       *time.Time `json:"uploaded_at,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// StorageUploadList is stored as a JSON text column on the artifact.
type StorageUploadList []StorageUploadRecord

func (l StorageUploadList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StorageUploadList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for StorageUploadList", value)
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, l)
}

// AllSucceeded reports whether every provider upload in the list succeeded.
func (l StorageUploadList) AllSucceeded() bool {
	if len(l) == 0 {
		return false
	}
	for _, r := range l {
		if !r.Success {
			return false
		}
	}
	return true
}

// ApiKey is a bcrypt-hashed key guarding the admin surface.
type ApiKey struct {
	gorm.Model
	Name       string `gorm:"uniqueIndex"`
	KeyHash    string
	KeyPrefix  string `gorm:"index"`
	IsActive   bool
	LastUsedAt *time.Time
}

// ArchiveResult is what one archiver invocation produces.
type ArchiveResult struct {
	Success   bool
	ExitCode  *int
	SavedPath string
	Metadata  *UrlMetadata
}

// IntPtr is a small helper for the many optional exit codes in the catalog.
func IntPtr(v int) *int { return &v }

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Service roles. The worker-only role skips summarizer bootstrap.
const (
	RoleFull           = "full"
	RoleArchiverWorker = "archiver-worker"
)

// Dual-write failure modes.
const (
	FailureModeStrict     = "strict"
	FailureModeBestEffort = "best_effort"
)

// Config is decoded once in main and threaded explicitly to every component
// that needs it. There is no process-wide settings state.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	DataDir  string `envconfig:"DATA_DIR" default:"./data"`

	// Catalog backends.
	DBDriver string `envconfig:"DB_DRIVER" default:"postgres"` // postgres or sqlite
	DBUrl    string `envconfig:"DB_URL"`
	DBPath   string `envconfig:"DB_PATH" default:"./archived.db"`

	// Ordered list of enabled archivers; determines pipeline order for "all".
	Archivers []string `envconfig:"ARCHIVERS" default:"monolith,readability,singlefile,screenshot,pdf"`

	// Ordered list of file storage providers among {local, gcs, s3}.
	StorageProviders []string `envconfig:"STORAGE_PROVIDERS" default:"local"`
	CompressUploads  bool     `envconfig:"COMPRESS_UPLOADS" default:"true"`

	EnableLocalCleanup           bool `envconfig:"ENABLE_LOCAL_CLEANUP" default:"false"`
	LocalWorkspaceRetentionHours int  `envconfig:"LOCAL_WORKSPACE_RETENTION_HOURS" default:"24"`

	SkipExistingSaves bool `envconfig:"SKIP_EXISTING_SAVES" default:"true"`
	RetryUnreachable  bool `envconfig:"RETRY_UNREACHABLE" default:"false"`

	EnableDualPersistence bool   `envconfig:"ENABLE_DUAL_PERSISTENCE" default:"false"`
	DualWriteFailureMode  string `envconfig:"DUAL_WRITE_FAILURE_MODE" default:"best_effort"`
	DocumentStorePath     string `envconfig:"DOCUMENT_STORE_PATH" default:"./docstore"`

	ServiceRole string `envconfig:"SERVICE_ROLE" default:"full"`

	MaxWorkers     int `envconfig:"MAX_WORKERS" default:"3"`
	QueueSize      int `envconfig:"QUEUE_SIZE" default:"256"`
	CommandTimeout int `envconfig:"COMMAND_TIMEOUT_SECS" default:"120"`

	// Browser binaries and shared user-data directory.
	ChromeBinary      string `envconfig:"CHROME_BINARY" default:"chromium-browser"`
	ChromeUserDataDir string `envconfig:"CHROME_USER_DATA_DIR" default:"./chrome-profile"`
	MonolithBinary    string `envconfig:"MONOLITH_BINARY" default:"monolith"`
	SingleFileBinary  string `envconfig:"SINGLEFILE_BINARY" default:"single-file"`
	ReadabilityBinary string `envconfig:"READABILITY_BINARY" default:"readability-extractor"`

	// Local storage provider root. Defaults to <data_dir> sibling.
	LocalStorageDir string `envconfig:"LOCAL_STORAGE_DIR" default:"./storage"`

	// GCS provider.
	GCSBucket string `envconfig:"GCS_BUCKET"`
	GCSPrefix string `envconfig:"GCS_PREFIX"`

	// S3-compatible provider.
	S3Endpoint       string `envconfig:"S3_ENDPOINT"`
	S3Region         string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket         string `envconfig:"S3_BUCKET"`
	S3Prefix         string `envconfig:"S3_PREFIX"`
	S3AccessKeyID    string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle bool   `envconfig:"S3_FORCE_PATH_STYLE"`

	SummarizerURL string `envconfig:"SUMMARIZER_URL"`
}

// Load decodes configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("archived", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DualWriteFailureMode {
	case FailureModeStrict, FailureModeBestEffort:
	default:
		return fmt.Errorf("invalid DUAL_WRITE_FAILURE_MODE %q", c.DualWriteFailureMode)
	}
	switch c.ServiceRole {
	case RoleFull, RoleArchiverWorker:
	default:
		return fmt.Errorf("invalid SERVICE_ROLE %q", c.ServiceRole)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive")
	}
	return nil
}

// Retention returns the local cleanup retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.LocalWorkspaceRetentionHours) * time.Hour
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"archived/internal/archivers"
	"archived/internal/catalog"
	"archived/internal/cleanup"
	"archived/internal/config"
	"archived/internal/handlers"
	"archived/internal/runner"
	"archived/internal/storage"
	"archived/internal/summarize"
	"archived/internal/workers"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := catalog.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate catalog: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, closeStore, err := buildStore(db, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	run := runner.New(db)
	registry, err := archivers.BuildRegistry(cfg, run)
	if err != nil {
		return err
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}

	var notifier summarize.Notifier = summarize.NoopNotifier{}
	if cfg.ServiceRole != config.RoleArchiverWorker && cfg.SummarizerURL != "" {
		notifier = summarize.NewHTTPNotifier(cfg.SummarizerURL)
	}

	var cleaner *cleanup.Scheduler
	if cfg.EnableLocalCleanup {
		cleaner = cleanup.NewScheduler(store, cfg.DataDir, cfg.Retention())
		go cleaner.Run(ctx)
	}

	processor := workers.NewProcessor(store, registry, providers, notifier, cleaner, cfg)
	queue := workers.NewQueue(cfg.QueueSize, cfg.MaxWorkers, processor.ProcessTask)
	defer queue.Shutdown()
	orch := workers.NewOrchestrator(store, registry, queue, processor, cfg)

	engine := gin.Default()
	handlers.NewServer(db, store, orch, run, notifier, providers, cfg).Register(engine)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", cfg.HTTPAddr, "role", cfg.ServiceRole)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		if cfg.DBUrl == "" {
			return nil, fmt.Errorf("DB_URL is required for the postgres driver")
		}
		db, err := gorm.Open(postgres.Open(cfg.DBUrl), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return db, nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

func buildStore(db *gorm.DB, cfg config.Config) (catalog.Store, func(), error) {
	primary := catalog.NewGormStore(db)
	if !cfg.EnableDualPersistence {
		return primary, func() {}, nil
	}
	replica, err := catalog.OpenDocumentStore(cfg.DocumentStorePath)
	if err != nil {
		return nil, nil, err
	}
	dual := catalog.NewDualStore(primary, replica, cfg.DualWriteFailureMode)
	return dual, func() { replica.Close() }, nil
}

func buildProviders(ctx context.Context, cfg config.Config) ([]storage.Provider, error) {
	var providers []storage.Provider
	for _, name := range cfg.StorageProviders {
		switch name {
		case "local":
			providers = append(providers, storage.NewLocalProvider(cfg.LocalStorageDir))
		case "gcs":
			p, err := storage.NewGCSProvider(ctx, storage.GCSConfig{
				Bucket: cfg.GCSBucket,
				Prefix: cfg.GCSPrefix,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "s3":
			p, err := storage.NewS3Provider(ctx, storage.S3Config{
				Endpoint:        cfg.S3Endpoint,
				Region:          cfg.S3Region,
				AccessKeyID:     cfg.S3AccessKeyID,
				SecretAccessKey: cfg.S3SecretKey,
				Bucket:          cfg.S3Bucket,
				Prefix:          cfg.S3Prefix,
				ForcePathStyle:  cfg.S3ForcePathStyle,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		default:
			return nil, fmt.Errorf("unknown storage provider %q", name)
		}
	}
	return providers, nil
}

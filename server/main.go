package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/reporthub-labs/reporthub-go/internal/limits"
	"github.com/reporthub-labs/reporthub-go/internal/locker"
	"github.com/reporthub-labs/reporthub-go/internal/platform/auth"
	"github.com/reporthub-labs/reporthub-go/internal/platform/env"
	"github.com/reporthub-labs/reporthub-go/internal/platform/httpserver"
	"github.com/reporthub-labs/reporthub-go/internal/platform/objectstore"
	"github.com/reporthub-labs/reporthub-go/internal/platform/postgres"
	"github.com/reporthub-labs/reporthub-go/internal/registry"
	"github.com/reporthub-labs/reporthub-go/internal/registry/fsregistry"
	"github.com/reporthub-labs/reporthub-go/internal/registry/pgregistry"
	"github.com/reporthub-labs/reporthub-go/internal/renderer"
	"github.com/reporthub-labs/reporthub-go/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("REPORTHUB_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("REPORTHUB_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dataDir, err := env.Required("REPORTHUB_DATA_DIR")
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	layout, err := storage.NewLayout(dataDir)
	if err != nil {
		logger.Error("data dir unusable", "error", err)
		os.Exit(1)
	}

	limitsSpec, err := limits.Load(env.String("REPORTHUB_LIMITS_FILE", ""))
	if err != nil {
		logger.Error("invalid limits config", "error", err)
		os.Exit(2)
	}

	reg, err := openRegistry(ctx, logger, layout)
	if err != nil {
		logger.Error("registry unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = reg.Close() }()

	archiver, storeClient, storeCfg, err := openArchiver(ctx, logger)
	if err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}

	rendererBin := env.String("REPORTHUB_RENDERER_BIN", "allure")
	rendererTimeout, err := env.Duration("REPORTHUB_RENDERER_TIMEOUT", 5*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	rend := renderer.NewExecRenderer(rendererBin, rendererTimeout, logger)

	lockTimeout, err := env.Duration("REPORTHUB_LOCK_TIMEOUT", 10*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	locks := locker.New(lockTimeout)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}

	checks := []httpserver.ReadinessCheck{
		{
			Name: "storage",
			Check: func(ctx context.Context) error {
				return layout.WriteCheck()
			},
		},
		{
			Name: "renderer",
			Check: func(ctx context.Context) error {
				return rend.Check()
			},
		},
		{
			Name: "registry",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return reg.Ping(checkCtx)
			},
		},
	}
	if storeClient != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
			},
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("reporthub"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("reporthub", checks...))

	api := newReporthubAPI(logger, layout, reg, rend, locks, limitsSpec, archiver)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		SkipPrefixes:  []string{"/healthz", "/readyz", "/ui/"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "reporthub",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "reporthub", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// openRegistry selects the run-registry backend. The filesystem backend is
// the default; Postgres is for deployments with multiple replicas.
func openRegistry(ctx context.Context, logger *slog.Logger, layout storage.Layout) (registry.Registry, error) {
	backend := env.String("REPORTHUB_REGISTRY_BACKEND", "fs")
	switch backend {
	case "fs":
		return fsregistry.New(layout), nil
	case "postgres":
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		store := pgregistry.New(db)
		migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.Migrate(migrateCtx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("registry backend ready", "backend", backend)
		return store, nil
	default:
		return nil, errors.New("REPORTHUB_REGISTRY_BACKEND must be fs or postgres")
	}
}

// openArchiver wires optional bundle archival to MinIO/S3. Disabled unless
// REPORTHUB_BUNDLE_ARCHIVE is set.
func openArchiver(ctx context.Context, logger *slog.Logger) (*objectstore.Archiver, *minio.Client, objectstore.Config, error) {
	enabled, err := env.Bool("REPORTHUB_BUNDLE_ARCHIVE", false)
	if err != nil {
		return nil, nil, objectstore.Config{}, err
	}
	if !enabled {
		return nil, nil, objectstore.Config{}, nil
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, nil, objectstore.Config{}, err
	}
	client, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return nil, nil, objectstore.Config{}, err
	}

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := objectstore.EnsureBucket(startupCtx, client, storeCfg); err != nil {
		return nil, nil, objectstore.Config{}, err
	}

	archiver, err := objectstore.NewArchiver(client, storeCfg)
	if err != nil {
		return nil, nil, objectstore.Config{}, err
	}
	logger.Info("bundle archival enabled", "bucket", storeCfg.Bucket)
	return archiver, client, storeCfg, nil
}

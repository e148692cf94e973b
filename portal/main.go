package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/groupinstall/installportal/internal/caseload"
	"github.com/groupinstall/installportal/internal/platform/auditlog"
	"github.com/groupinstall/installportal/internal/platform/auth"
	"github.com/groupinstall/installportal/internal/platform/env"
	"github.com/groupinstall/installportal/internal/platform/httpserver"
	platformstore "github.com/groupinstall/installportal/internal/platform/objectstore"
	"github.com/groupinstall/installportal/internal/platform/postgres"
	"github.com/groupinstall/installportal/internal/repo"
	repopg "github.com/groupinstall/installportal/internal/repo/postgres"
	casesvc "github.com/groupinstall/installportal/internal/service/cases"
	"github.com/groupinstall/installportal/internal/storage/objectstore"
	"github.com/groupinstall/installportal/internal/upload"
	"github.com/groupinstall/installportal/internal/wizard"
	"github.com/minio/minio-go/v7"
)

const serviceName = "portal"

type portalConfig struct {
	Addr              string
	ShutdownTimeout   time.Duration
	Store             string
	ExtractionURL     string
	ExtractionTimeout time.Duration
	UploadMaxBytes    int64
	SeedFile          string
	FlowsFile         string
	RequiredDomains   []string
}

func configFromEnv() (portalConfig, error) {
	shutdownTimeout, err := env.Duration("PORTAL_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return portalConfig{}, err
	}
	extractionTimeout, err := env.Duration("PORTAL_EXTRACTION_TIMEOUT", 2*time.Minute)
	if err != nil {
		return portalConfig{}, err
	}
	uploadMaxBytes, err := env.Int64("PORTAL_UPLOAD_MAX_BYTES", 10<<20)
	if err != nil {
		return portalConfig{}, err
	}
	cfg := portalConfig{
		Addr:              env.String("PORTAL_HTTP_ADDR", ":8090"),
		ShutdownTimeout:   shutdownTimeout,
		Store:             strings.ToLower(env.String("PORTAL_STORE", "postgres")),
		ExtractionURL:     env.String("PORTAL_EXTRACTION_URL", ""),
		ExtractionTimeout: extractionTimeout,
		UploadMaxBytes:    uploadMaxBytes,
		SeedFile:          env.String("PORTAL_SEED_FILE", ""),
		FlowsFile:         env.String("PORTAL_FLOWS_FILE", ""),
		RequiredDomains:   env.List("PORTAL_REQUIRED_DOMAINS", nil),
	}
	switch cfg.Store {
	case "postgres", "memory":
	default:
		return portalConfig{}, fmt.Errorf("PORTAL_STORE must be postgres or memory, got %q", cfg.Store)
	}
	if cfg.UploadMaxBytes <= 0 {
		return portalConfig{}, errors.New("PORTAL_UPLOAD_MAX_BYTES must be positive")
	}
	return cfg, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := env.LoadDotEnv(".env"); err != nil {
		logger.Error("load .env failed", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authn, err := auth.NewAuthenticator(authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}
	flows, err := wizard.LoadFlowsFile(cfg.FlowsFile)
	if err != nil {
		logger.Error("invalid wizard flows", "path", cfg.FlowsFile, "error", err)
		os.Exit(2)
	}

	var (
		cases   repo.CaseRepository
		audit   auditlog.Recorder
		objects objectstore.Store
		bucket  = "uploads"
		checks  []httpserver.ReadinessCheck
	)
	switch cfg.Store {
	case "postgres":
		db, err := openDatabase(ctx)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		cases = repopg.NewCaseStore(db)
		audit = auditlog.NewPostgres(db)
		checks = append(checks, httpserver.ReadinessCheck{
			Name:    "postgres",
			Timeout: 750 * time.Millisecond,
			Check:   db.PingContext,
		})

		storeCfg, client, err := openObjectStore(ctx)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		store, err := objectstore.NewMinioStoreWithClient(client)
		if err != nil {
			logger.Error("object store init failed", "error", err)
			os.Exit(2)
		}
		objects = store
		bucket = storeCfg.BucketUploads
		checks = append(checks, httpserver.ReadinessCheck{
			Name:    "minio",
			Timeout: 750 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return platformstore.CheckBuckets(ctx, client, storeCfg)
			},
		})
	default:
		cases = repo.NewMemoryStore()
		audit = auditlog.NewMemory()
		objects = objectstore.NewMemoryStore()
		logger.Warn("using in-memory storage; data is lost on restart")
	}

	var extractor upload.Extractor = upload.NewLocalExtractor(objects)
	if cfg.ExtractionURL != "" {
		httpExtractor, err := upload.NewHTTPExtractor(cfg.ExtractionURL, cfg.ExtractionTimeout)
		if err != nil {
			logger.Error("invalid extraction service config", "error", err)
			os.Exit(2)
		}
		extractor = httpExtractor
	}

	service := casesvc.New(casesvc.Deps{
		Cases:     cases,
		Audit:     audit,
		Objects:   objects,
		Extractor: extractor,
		Flows:     flows,
		Logger:    logger,
	}, casesvc.Config{
		RequiredDomains:   cfg.RequiredDomains,
		UploadBucket:      bucket,
		UploadMaxBytes:    cfg.UploadMaxBytes,
		ExtractionTimeout: cfg.ExtractionTimeout,
	})
	defer service.Close()

	if cfg.SeedFile != "" {
		seed, err := caseload.LoadFile(cfg.SeedFile)
		if err != nil {
			logger.Error("invalid seed file", "path", cfg.SeedFile, "error", err)
			os.Exit(2)
		}
		added, err := service.Seed(ctx, seed)
		if err != nil {
			logger.Error("seed failed", "error", err)
			os.Exit(1)
		}
		logger.Info("seeded cases", "path", cfg.SeedFile, "added", added, "total", len(seed))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	newPortalAPI(logger, service, cfg.UploadMaxBytes).register(mux)

	var handler http.Handler = mux
	if authn != nil {
		handler = auth.Middleware{
			Logger:        logger,
			Authenticator: authn,
			Authorize:     auth.RoleAuthorizer(),
			SkipPrefixes:  []string{"/healthz", "/readyz"},
		}.Wrap(mux)
	}

	serverCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context) (*sql.DB, error) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := repopg.EnsureSchema(schemaCtx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func openObjectStore(ctx context.Context) (platformstore.Config, *minio.Client, error) {
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return platformstore.Config{}, nil, fmt.Errorf("object store config: %w", err)
	}
	client, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		return platformstore.Config{}, nil, err
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := platformstore.EnsureBuckets(startupCtx, client, storeCfg); err != nil {
		return platformstore.Config{}, nil, err
	}
	return storeCfg, client, nil
}

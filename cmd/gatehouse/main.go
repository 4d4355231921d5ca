package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/catalog"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/migrations"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/portal"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/signedtoken"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides GATEHOUSE_CONFIG_FILE)")
	flag.Parse()
	if *configFile != "" {
		os.Setenv("GATEHOUSE_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("gatehouse exited")
	}
}

// closers run in reverse order on shutdown
type closers []func(context.Context)

func (c *closers) add(fn func(context.Context)) {
	*c = append(*c, fn)
}

func (c closers) run(ctx context.Context) {
	for i := len(c) - 1; i >= 0; i-- {
		c[i](ctx)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	var cleanup closers
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		cleanup.run(shutdownCtx)
	}()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	cleanup.add(func(ctx context.Context) {
		if err := observability.ShutdownOTel(ctx, providers, logger); err != nil {
			logger.WithError(err).Warn("OpenTelemetry shutdown incomplete")
		}
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	clock := clockwork.NewRealClock()
	healthChecks := make(map[string]api.HealthCheck)

	// Persistence
	var (
		membershipStore rbac.MembershipStore
		roleAdmin       rbac.MembershipAdmin
		identities      rbac.IdentityResolver
		registryBackend catalog.Registry
		portalStore     portal.Store
		auditLogger     audit.Logger
		auditDB         *audit.DBLogger
	)
	switch cfg.Storage.Type {
	case "postgres":
		db, err := storage.OpenPostgres(ctx, storage.PostgresConfig{
			URL:             cfg.Storage.PostgresURL,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		cleanup.add(func(context.Context) { db.Close() })

		applied, err := migrations.Apply(ctx, db, logger)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		logger.WithField("applied", applied).Info("Database schema up to date")

		store := rbac.NewPostgresStore(db)
		membershipStore, roleAdmin, identities = store, store, store
		registryBackend = catalog.NewSQLRegistry(db)
		portalStore = portal.NewPostgresStore(db)
		if auditDB, err = audit.NewDBLogger(db); err != nil {
			return err
		}
		auditLogger = auditDB
		if cfg.Audit.LogDecisions {
			auditLogger = audit.NewMultiLogger(auditDB, audit.NewLogLogger(logger))
		}
		healthChecks["database"] = pingDB(db)
	default:
		logger.Warn("Using in-memory storage; memberships, portal tokens and audit records are lost on restart")
		store := rbac.NewMemoryStore()
		membershipStore, roleAdmin, identities = store, store, store
		registryBackend = catalog.NewStaticRegistry()
		portalStore = portal.NewMemoryStore()
		auditLogger = audit.NewLogLogger(logger)
	}

	// Shared cache and rate limit state
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = catalog.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.Password)
		if err != nil {
			return err
		}
		cleanup.add(func(context.Context) { redisClient.Close() })
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	// Permission catalog
	var cache catalog.Cache
	if redisClient != nil {
		cache = catalog.NewRedisCache(redisClient, cfg.Auth.CatalogTTL, logger)
	} else {
		cache = catalog.NewMemoryCache(clock, cfg.Auth.CatalogCacheSize, cfg.Auth.CatalogTTL)
	}
	cat := catalog.New(registryBackend, cache, catalog.WithMetrics(metrics), catalog.WithLogger(logger))

	var catalogFile *catalog.File
	if cfg.Auth.CatalogFile != "" {
		if catalogFile, err = catalog.LoadFile(cfg.Auth.CatalogFile); err != nil {
			return err
		}
	}
	if err := cat.Seed(ctx, catalogFile.AllPermissions()); err != nil {
		return fmt.Errorf("failed to seed permission catalog: %w", err)
	}
	if catalogFile != nil && len(catalogFile.Roles) > 0 {
		if err := roleAdmin.SeedRoles(ctx, catalogFile.Roles); err != nil {
			return fmt.Errorf("failed to seed roles: %w", err)
		}
	}

	// Authorization
	recorderOpts := []audit.RecorderOption{
		audit.WithRecorderLogger(logger),
		audit.WithRecorderMetrics(metrics),
	}
	if cfg.Audit.Async {
		recorderOpts = append(recorderOpts, audit.WithAsync(cfg.Audit.WriteTimeout))
	}
	recorder := audit.NewRecorder(auditLogger, recorderOpts...)
	cleanup.add(func(context.Context) {
		if err := recorder.Close(); err != nil {
			logger.WithError(err).Warn("Audit recorder did not close cleanly")
		}
	})

	superadmins := rbac.NewAllowList(cfg.Auth.SuperadminIDs, cfg.Auth.SuperadminEmails, identities)
	if !superadmins.Empty() {
		logger.WithField("ids", len(cfg.Auth.SuperadminIDs)).
			WithField("emails", len(cfg.Auth.SuperadminEmails)).
			Info("Superadmin allow-list configured")
	}
	authz := rbac.NewEngine(cat, membershipStore,
		rbac.WithSuperadmins(superadmins),
		rbac.WithAuditSink(recorder),
		rbac.WithPolicyVersion(cfg.Auth.PolicyVersion),
		rbac.WithClock(clock),
		rbac.WithMetrics(metrics),
		rbac.WithLogger(logger),
	)

	// Capability tokens
	portalEngine, err := portal.NewEngine(portalStore, []byte(cfg.Auth.PINSessionSecret),
		portal.WithClock(clock),
		portal.WithLogger(logger),
		portal.WithMetrics(metrics),
		portal.WithPINSessionTTL(cfg.Auth.PINSessionTTL),
		portal.WithTokenPrefix(cfg.Auth.PortalTokenPrefix),
	)
	if err != nil {
		return err
	}

	previous := make([][]byte, 0, len(cfg.Auth.SignedTokenPreviousSecrets))
	for _, s := range cfg.Auth.SignedTokenPreviousSecrets {
		previous = append(previous, []byte(s))
	}
	codec, err := signedtoken.NewCodec([]byte(cfg.Auth.SignedTokenSecret),
		signedtoken.WithClock(clock),
		signedtoken.WithPreviousSecrets(previous...),
	)
	if err != nil {
		return err
	}

	documents, err := openDocuments(ctx, cfg.Documents, healthChecks)
	if err != nil {
		return err
	}

	// Background jobs
	if auditDB != nil && cfg.Audit.Retention > 0 {
		job := audit.NewRetentionJob(auditDB, cfg.Audit.Retention, clock, logger)
		if err := job.Start(cfg.Audit.RetentionSchedule); err != nil {
			return err
		}
		cleanup.add(func(context.Context) { job.Stop() })
	}

	publicLimiter := newLimiter(ctx, redisClient, cfg.Server.PublicRequestsPerMinute, "gatehouse:ratelimit:public")
	pinLimiter := newLimiter(ctx, redisClient, cfg.Server.PINAttemptsPerMinute, "gatehouse:ratelimit:pin")

	opts := api.Options{
		Authorizer:     authz,
		Portal:         portalEngine,
		FileLinks:      codec,
		PublicLimiter:  publicLimiter,
		PINLimiter:     pinLimiter,
		ActorHeader:    cfg.Server.ActorHeader,
		AccountHeader:  cfg.Server.AccountHeader,
		FileLinkTTL:    cfg.Auth.FileLinkTTL,
		MaxFileLinkTTL: cfg.Auth.MaxFileLinkTTL,
		Documents:      documents,
		HealthChecks:   healthChecks,
		Logger:         logger,
	}
	if auditDB != nil {
		opts.AuditSearcher = auditDB
	}
	if cfg.Observability.MetricsEnabled {
		opts.Metrics = registry
	}
	server, err := api.NewServer(opts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting gatehouse server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// openDocuments returns nil when file links are disabled
func openDocuments(ctx context.Context, cfg config.DocumentsConfig, checks map[string]api.HealthCheck) (storage.Fetcher, error) {
	switch cfg.Backend {
	case "filesystem":
		return storage.NewFilesystemFetcher(cfg.RootDir)
	case "s3":
		fetcher, err := storage.NewS3Fetcher(ctx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		checks["documents"] = fetcher.HealthCheck
		return fetcher, nil
	default:
		return nil, nil
	}
}

// newLimiter returns nil when perMinute is 0. Redis keeps windows shared
// across replicas.
func newLimiter(ctx context.Context, client *redis.Client, perMinute int, prefix string) middleware.Limiter {
	if perMinute <= 0 {
		return nil
	}
	limit := &middleware.RateLimitConfig{RequestsPerWindow: perMinute, WindowDuration: time.Minute}
	if client != nil {
		return middleware.NewRedisLimiter(client, limit, prefix)
	}
	limiter := middleware.NewMemoryLimiter(limit, nil)
	limiter.StartCleanup(ctx)
	return limiter
}

func pingDB(db *sql.DB) api.HealthCheck {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}

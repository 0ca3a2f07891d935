package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tutorhub/tutorhub/pkg/api"
	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/config"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/sso"
	"github.com/tutorhub/tutorhub/pkg/storage"
	"github.com/tutorhub/tutorhub/pkg/storage/memory"
	"github.com/tutorhub/tutorhub/pkg/storage/postgres"
)

var version = "dev"

var (
	runMigrations = flag.Bool("migrate", true, "Apply database migrations at startup")
	pagesDir      = flag.String("pages", "", "Directory of site pages served behind the page guard")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("tutorhub exited with error")
		os.Exit(1)
	}
	logger.Info("tutorhub stopped")
}

// backend is the opened persistence layer
type backend struct {
	store storage.Store
	db    *sql.DB
	conns *postgres.ConnectionManager
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	var cleanups []namedCleanup

	otelProviders, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	if otelProviders != nil {
		cleanups = append(cleanups, namedCleanup{"otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders)
		}})
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		cleanups = append(cleanups, namedCleanup{"redis", func(context.Context) error {
			return redisClient.Close()
		}})
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if be.conns != nil {
		cleanups = append(cleanups, namedCleanup{"database", func(context.Context) error {
			return be.conns.Close()
		}})
		be.conns.StartHealthCheckRoutine(ctx, 30*time.Second)
	}

	store := be.store
	var stats api.StatsSource = store
	if redisClient != nil && be.db != nil && cfg.Storage.StatsCacheTTL > 0 {
		cache := postgres.NewStatsCache(store, redisClient, cfg.Storage.StatsCacheTTL, logger)
		store, stats = cache, cache
	}

	var denylist auth.Denylist
	if redisClient != nil {
		denylist = auth.NewRedisDenylist(redisClient, "tutorhub:revoked")
	} else {
		denylist = auth.NewMemoryDenylist(0, cfg.Auth.TokenExpiry)
	}
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenExpiry,
		auth.WithDenylist(denylist),
		auth.WithTokenLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}
	if cfg.Auth.DefaultSecret {
		logger.Warn("TUTORHUB_JWT_SECRET is not set, using the development secret")
	}

	scheduler := cron.New()
	limiter, err := newLimiter(cfg, redisClient, scheduler, logger)
	if err != nil {
		return err
	}
	if be.db != nil && metrics != nil {
		if _, err := scheduler.AddFunc("@every 15s", func() {
			metrics.UpdateDBStats(be.db.Stats())
		}); err != nil {
			return fmt.Errorf("failed to schedule database stats: %w", err)
		}
	}
	scheduler.Start()
	cleanups = append(cleanups, namedCleanup{"cron", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}})

	avatars, avatarDir, err := newAvatarStore(ctx, cfg)
	if err != nil {
		return err
	}

	auditLogger, err := newAuditLogger(cfg.Observability.AuditLog)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, namedCleanup{"audit", func(context.Context) error {
		return auditLogger.Close()
	}})

	identity, err := newIdentityRoutes(cfg, store, tokens, metrics)
	if err != nil {
		return err
	}

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Dependencies{
		Store:          store,
		Avatars:        avatars,
		Tokens:         tokens,
		Hasher:         auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		Limiter:        limiter,
		Cookie:         cfg.SessionCookie(),
		Stats:          stats,
		LoginRule:      middleware.RateLimitRule{Route: "login", Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window},
		RegisterRule:   middleware.RateLimitRule{Route: "register", Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window},
		Identity:       identity,
		Metrics:        metrics,
		Logger:         logger,
		Audit:          auditLogger,
		AvatarDir:      avatarDir,
		PagesDir:       *pagesDir,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: proxies,
		Tracing:        cfg.Observability.OTelEnabled,
	})

	apiServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           server,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(be.db, redisClient, version))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	for _, c := range cleanups {
		shutdown.Register(c.name, c.fn)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, logger.WithField("server", "api")) })
	g.Go(func() error { return serve(healthServer, logger.WithField("server", "health")) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

type namedCleanup struct {
	name string
	fn   observability.ShutdownFunc
}

func serve(srv *http.Server, logger *observability.Logger) error {
	logger.WithField("addr", srv.Addr).Info("Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

// openBackend opens the configured store and applies migrations
func openBackend(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*backend, error) {
	if cfg.Storage.Type == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return &backend{store: memory.New()}, nil
	}

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		ReplicaURLs: cfg.Storage.PostgresReplicaURLs,
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	db := conns.Primary()

	if *runMigrations {
		if err := postgres.Migrate(ctx, db); err != nil {
			conns.Close()
			return nil, err
		}
		if v, err := postgres.MigrationVersion(ctx, db); err == nil {
			logger.WithField("version", v).Info("Database schema is up to date")
		}
	}

	return &backend{
		store: postgres.NewStore(db, postgres.WithReplicas(conns)),
		db:    db,
		conns: conns,
	}, nil
}

func newLimiter(cfg *config.Config, redisClient *redis.Client, scheduler *cron.Cron, logger *observability.Logger) (middleware.Limiter, error) {
	if cfg.RateLimit.Backend == "redis" {
		return middleware.NewDistributedFixedWindowLimiter(redisClient, "tutorhub:ratelimit"), nil
	}

	limiter := middleware.NewFixedWindowLimiter()
	if _, err := middleware.ScheduleCleanup(scheduler, limiter, cfg.RateLimit.CleanupSchedule, logger); err != nil {
		return nil, fmt.Errorf("failed to schedule rate limit cleanup: %w", err)
	}
	return limiter, nil
}

// newAvatarStore returns the avatar store and, for the filesystem backend,
// the directory to serve under /avatars/
func newAvatarStore(ctx context.Context, cfg *config.Config) (storage.AvatarStore, string, error) {
	if cfg.Storage.AvatarBackend == "s3" {
		client, err := postgres.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create s3 client: %w", err)
		}
		avatars, err := postgres.NewS3AvatarStore(ctx, client, cfg.Storage)
		if err != nil {
			return nil, "", err
		}
		return avatars, "", nil
	}

	avatars, err := storage.NewFileSystemAvatarStore(cfg.Storage.AvatarDir, cfg.Storage.AvatarURLPrefix)
	if err != nil {
		return nil, "", err
	}
	return avatars, avatars.Dir(), nil
}

func newAuditLogger(dest string) (audit.Logger, error) {
	var out io.Writer
	switch dest {
	case "", "off":
		return audit.NopLogger(), nil
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		out = f
	}
	return audit.NewLogrusLogger(out), nil
}

// newIdentityRoutes wires the external identity bridge when configured
func newIdentityRoutes(cfg *config.Config, store storage.IdentityStore, tokens *auth.TokenService, metrics *observability.Metrics) (api.RouteRegistrar, error) {
	if !cfg.Identity.Enabled {
		return nil, nil
	}

	ssoCfg := cfg.SSOConfig()
	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	verifier, err := sso.NewOIDCVerifier(ssoCfg, sso.WithVerifierHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create identity verifier: %w", err)
	}
	bridge := sso.NewBridge(verifier, store, tokens, metrics)

	var flow *sso.OAuthFlow
	if cfg.Identity.OAuthEnabled() {
		flow, err = sso.NewOAuthFlow(ssoCfg, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create oauth flow: %w", err)
		}
	}

	var upstream *sso.UpstreamClient
	if ssoCfg.APIBaseURL != "" {
		upstream = sso.NewUpstreamClient(ssoCfg.APIBaseURL, client)
	}

	return sso.NewHandlers(bridge, flow, upstream, cfg.SessionCookie()), nil
}

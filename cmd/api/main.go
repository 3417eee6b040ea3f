package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/marketlane/api/internal/di"
	"github.com/marketlane/api/internal/handlers"
	"github.com/marketlane/api/internal/platform/auth"
	"github.com/marketlane/api/internal/platform/cache"
	"github.com/marketlane/api/internal/platform/config"
	pfirestore "github.com/marketlane/api/internal/platform/firestore"
	"github.com/marketlane/api/internal/platform/idempotency"
	"github.com/marketlane/api/internal/platform/jobs"
	"github.com/marketlane/api/internal/platform/observability"
	"github.com/marketlane/api/internal/platform/secrets"
	"github.com/marketlane/api/internal/repositories"
	firestoreRepo "github.com/marketlane/api/internal/repositories/firestore"
	"github.com/marketlane/api/internal/repositories/memory"
	"github.com/marketlane/api/internal/services"
)

const instrumentationName = "github.com/marketlane/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	logger = logger.With(zap.String("environment", buildInfo.Environment), zap.String("version", buildInfo.Version))

	var dashboardCache cache.Cache
	var redisCache *cache.RedisCache
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis, "marketlane")
		if err != nil {
			logger.Fatal("failed to initialise redis cache", zap.Error(err))
		}
		dashboardCache = redisCache
	} else {
		dashboardCache = cache.NewMemoryCache(time.Now)
		logger.Info("redis not configured; dashboard snapshots cached in process")
	}

	var (
		registry         repositories.Registry
		idempotencyStore idempotency.Store
	)
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		health, err := newHealthRepository(nil, fetcher, redisCache)
		if err != nil {
			logger.Fatal("failed to initialise health checks", zap.Error(err))
		}
		reg, err := memory.NewRegistry(memory.WithHealth(health))
		if err != nil {
			logger.Fatal("failed to initialise memory registry", zap.Error(err))
		}
		registry = reg
		idempotencyStore = idempotency.NewMemoryStore()
		logger.Warn("store driver is memory; data is lost on restart")
	default:
		provider := pfirestore.NewProvider(cfg.Firestore, firestoreProviderOptions(envValues)...)
		health, err := newHealthRepository(provider, fetcher, redisCache)
		if err != nil {
			logger.Fatal("failed to initialise health checks", zap.Error(err))
		}
		reg, err := firestoreRepo.NewRegistry(provider,
			firestoreRepo.WithReadRetry(pfirestore.RetryPolicy{
				Attempts: cfg.Store.ReadAttempts,
				Initial:  cfg.Store.ReadBackoff,
			}),
			firestoreRepo.WithHealth(health),
		)
		if err != nil {
			logger.Fatal("failed to initialise firestore registry", zap.Error(err))
		}
		registry = reg
		idempotencyStore = idempotency.NewFirestoreStore(provider, "")
	}

	metrics, err := observability.NewMetrics(otel.Meter(instrumentationName))
	if err != nil {
		logger.Fatal("failed to initialise metrics", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithLogger(logger),
		di.WithCache(dashboardCache),
		di.WithMetrics(metrics),
		di.WithBuildInfo(buildInfo),
	}
	if redisCache != nil {
		containerOpts = append(containerOpts, di.WithCloser(func(context.Context) error {
			return redisCache.Close()
		}))
	}
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		publisher, closer, err := newOrderEventPublisher(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithPublisher(publisher), di.WithCloser(closer))
	} else {
		logger.Warn("pubsub project not configured; order notifications disabled")
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise container", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Checkout, svc.Orders,
		handlers.WithIdempotency(idempotencyMiddleware),
		handlers.WithCheckoutRateLimit(cfg.RateLimits.CheckoutPerMinute, time.Now),
	)
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog, time.Now)
	sellerHandlers := handlers.NewSellerHandlers(authenticator, svc.Availability, svc.Catalog, svc.Dashboards)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Catalog, svc.Dashboards)
	internalHandlers := handlers.NewInternalHandlers(handlers.InternalHandlersDeps{
		Idempotency: idempotencyStore,
		Dashboards:  svc.Dashboards,
		BatchSize:   cfg.Idempotency.CleanupBatchSize,
		Logger:      observability.ServiceLogger(logger, "internal"),
	})

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithSellerRoutes(sellerHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(oidcMiddleware),
			handlers.WithInternalRoutes(internalHandlers.Routes),
		)
	} else {
		logger.Warn("auth: OIDC not configured; internal routes disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
	go func() {
		serverLogger.Info("marketlane api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("container close failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newHealthRepository builds the readiness checks. Firestore is critical; the secret manager and
// redis only degrade the report.
func newHealthRepository(provider *pfirestore.Provider, fetcher *secrets.Fetcher, redisCache *cache.RedisCache) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check:    provider.Ping,
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if redisCache != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check:   redisCache.Ping,
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newOrderEventPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, func(context.Context) error, error) {
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.NotificationTopic)
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closer := func(context.Context) error {
		publisher.Stop()
		return client.Close()
	}
	return publisher, closer, nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, http.DefaultClient, time.Now)
	validator := auth.NewOIDCValidator(jwks, adapter)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func firestoreProviderOptions(env map[string]string) []pfirestore.ProviderOption {
	if credentialsFile := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_FILE"]); credentialsFile != "" {
		return []pfirestore.ProviderOption{pfirestore.WithClientOptions(option.WithCredentialsFile(credentialsFile))}
	}
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter(instrumentationName)),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve to a value. The redis password is
// only required when it references the secret manager.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if env != nil {
		if ref := strings.TrimSpace(env["API_REDIS_PASSWORD"]); strings.HasPrefix(ref, "secret://") || strings.HasPrefix(ref, "sm://") {
			required = append(required, "Redis.Password")
		}
	}
	return required
}

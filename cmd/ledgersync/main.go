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
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/ledgersync/internal/handlers"
	"github.com/hanko-field/ledgersync/internal/ledger"
	"github.com/hanko-field/ledgersync/internal/payments"
	"github.com/hanko-field/ledgersync/internal/platform/auth"
	"github.com/hanko-field/ledgersync/internal/platform/config"
	"github.com/hanko-field/ledgersync/internal/platform/events"
	pfirestore "github.com/hanko-field/ledgersync/internal/platform/firestore"
	"github.com/hanko-field/ledgersync/internal/platform/idempotency"
	"github.com/hanko-field/ledgersync/internal/platform/observability"
	"github.com/hanko-field/ledgersync/internal/platform/secrets"
	"github.com/hanko-field/ledgersync/internal/repositories"
	firestoreRepo "github.com/hanko-field/ledgersync/internal/repositories/firestore"
	"github.com/hanko-field/ledgersync/internal/services"
)

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

	logger := baseLogger.Named("ledgersync")
	ctx = observability.WithLogger(ctx, logger)
	eventLogger := observability.NewEventLogger(logger)

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

	metrics, err := observability.NewMetrics()
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	mappingRepo, err := firestoreRepo.NewAccountMappingRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise account mapping repository", zap.Error(err))
	}

	guardStore, err := newGuardStore(cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise processed-event store", zap.Error(err))
	}
	guard, err := idempotency.NewGuard(guardStore,
		idempotency.WithTTL(cfg.Guard.TTL),
		idempotency.WithLogger(idempotency.Logger(eventLogger)),
	)
	if err != nil {
		logger.Fatal("failed to initialise processed-event guard", zap.Error(err))
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		guard.RunCleanup(cleanupCtx, cfg.Guard.CleanupInterval, cfg.Guard.CleanupBatchSize)
	}()

	var publisher services.SyncEventPublisher
	var pubsubTopic *pubsub.Topic
	if topicName := strings.TrimSpace(cfg.Events.Topic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, traceProjectID(cfg))
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		pubsubTopic = pubsubClient.Topic(topicName)
		defer pubsubTopic.Stop()
		pub, err := events.NewPubSubPublisher(pubsubTopic)
		if err != nil {
			logger.Fatal("failed to initialise sync event publisher", zap.Error(err))
		}
		publisher = pub
	} else {
		logger.Warn("events topic not configured; sync failures are only logged")
	}

	ledgerClient, err := ledger.NewClient(cfg.Ledger.Endpoint, cfg.Ledger.Token,
		ledger.WithTimeout(cfg.Ledger.Timeout),
		ledger.WithLogger(eventLogger),
		ledger.WithObserver(metrics.ObserveLedgerRequest),
	)
	if err != nil {
		logger.Fatal("failed to initialise ledger client", zap.Error(err))
	}

	var captureGateway services.CaptureGateway
	if strings.TrimSpace(cfg.PSP.PayPalClientID) != "" {
		paypal, err := payments.NewPayPalOrdersGateway(payments.PayPalGatewayConfig{
			ClientID:     cfg.PSP.PayPalClientID,
			ClientSecret: cfg.PSP.PayPalSecret,
			Sandbox:      !isProduction(cfg),
			BaseURL:      cfg.PSP.PayPalBaseURL,
			Timeout:      cfg.PSP.GatewayTimeout,
			Logger:       payments.Logger(eventLogger),
		})
		if err != nil {
			logger.Fatal("failed to initialise paypal gateway", zap.Error(err))
		}
		captureGateway = paypal
	}

	var intentGateway services.IntentGateway
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		stripeGateway, err := payments.NewStripeIntentGateway(payments.StripeGatewayConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: payments.Logger(eventLogger),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		intentGateway = stripeGateway
	}

	syncService, err := services.NewOrderSyncService(services.OrderSyncServiceDeps{
		Orders:   orderRepo,
		Mappings: mappingRepo,
		Capture:  captureGateway,
		Intents:  intentGateway,
		Ledger:   ledgerClient,
		Guard:    guard,
		Events:   publisher,
		Metrics:  metrics,
		Accounts: services.SyncAccounts{
			PayPalAnchor: cfg.Accounts.PayPalAnchor,
			PayPalFees:   cfg.Accounts.PayPalFees,
			StripeAnchor: cfg.Accounts.StripeAnchor,
			StripeFees:   cfg.Accounts.StripeFees,
			Discounts:    cfg.Accounts.Discounts,
			PurchaseFees: cfg.Accounts.PurchaseFees,
		},
		BusinessID:             cfg.Ledger.BusinessID,
		DescriptionPrefix:      cfg.Ledger.DescriptionPrefix,
		Location:               cfg.Ledger.Location,
		StrictBalance:          cfg.Ledger.StrictBalance,
		IntentOrderMetadataKey: cfg.PSP.StripeOrderMetadataKey,
		Clock:                  time.Now,
		Logger:                 eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order sync service", zap.Error(err))
	}

	ledgerQueries, err := services.NewLedgerQueryService(services.LedgerQueryServiceDeps{
		Ledger:            ledgerClient,
		DefaultBusinessID: cfg.Ledger.BusinessID,
	})
	if err != nil {
		logger.Fatal("failed to initialise ledger query service", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreProvider, fetcher, pubsubTopic, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	authLogger := auth.Logger(eventLogger)
	hmacMiddleware := buildHMACMiddleware(cfg, guardStore, authLogger, metrics)
	oidcMiddleware := buildOIDCMiddleware(logger, cfg, authLogger, metrics)

	var staffVerifier auth.TokenVerifier
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Warn("firebase verifier unavailable; admin routes will reject requests", zap.Error(err))
	} else {
		staffVerifier = firebaseVerifier
	}
	authenticator := auth.NewAuthenticator(staffVerifier,
		auth.WithLogger(authLogger),
		auth.WithMetrics(metrics),
	)

	webhookOpts := []handlers.WebhookOption{
		handlers.WithStripeWebhookSecret(cfg.PSP.StripeWebhookSecret),
		handlers.WithWebhookRateLimit(cfg.RateLimits.WebhookPerMinute, time.Now),
		handlers.WithWebhookLogger(eventLogger),
	}
	if hmacMiddleware != nil {
		webhookOpts = append(webhookOpts, handlers.WithStorefrontAuth(hmacMiddleware))
	}
	webhookHandlers := handlers.NewWebhookHandlers(orderRepo, syncService, webhookOpts...)
	internalHandlers := handlers.NewInternalSyncHandlers(syncService)
	adminHandlers := handlers.NewAdminLedgerHandlers(ledgerQueries)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfo),
	}
	if systemService != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(systemService))
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(oidcMiddleware),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithAdminMiddlewares(authenticator.RequireStaff()),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("ledgersync listening",
			zap.Bool("capture", captureGateway != nil),
			zap.Bool("intent", intentGateway != nil),
			zap.String("guard", cfg.Guard.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newGuardStore(cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, error) {
	if cfg.Guard.Backend == config.GuardBackendMemory {
		return idempotency.NewMemoryStore(), nil
	}
	store, err := idempotency.NewFirestoreStore(provider)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env[config.EnvPrefix+"BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env[config.EnvPrefix+"BUILD_COMMIT_SHA"])
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

func newSystemService(provider *pfirestore.Provider, fetcher *secrets.Fetcher, topic *pubsub.Topic, build services.BuildInfo) (services.SystemService, error) {
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
		const secretHealthReference = "secret://system-healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

func buildHMACMiddleware(cfg config.Config, store idempotency.Store, logger auth.Logger, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	secret := strings.TrimSpace(cfg.Security.HMAC.Secret)
	if secret == "" {
		return nil
	}
	hmacCfg := cfg.Security.HMAC
	validator := auth.NewHMACValidator(secret, idempotency.NewNonceStore(store, time.Now),
		auth.WithHMACLogger(logger),
		auth.WithHMACMetrics(metrics),
		auth.WithHMACHeaders(hmacCfg.SignatureHeader, hmacCfg.TimestampHeader, hmacCfg.NonceHeader),
		auth.WithHMACClockSkew(hmacCfg.ClockSkew),
		auth.WithHMACNonceTTL(hmacCfg.NonceTTL),
	)
	return validator.RequireHMAC()
}

func buildOIDCMiddleware(base *zap.Logger, cfg config.Config, logger auth.Logger, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCMetrics(metrics),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		base.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func isProduction(cfg config.Config) bool {
	switch cfg.Security.Environment {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[config.EnvPrefix+key])
	}

	defaultProject := lookup("SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("FIREBASE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path, ok := env[config.EnvPrefix+"SECRET_FALLBACK_FILE"]; ok {
		opts = append(opts, secrets.WithFallbackFile(strings.TrimSpace(path)))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	if ttl, err := time.ParseDuration(lookup("SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the process cannot start without.
// Gateway secrets are only required when the gateway is configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Ledger.Token", "Security.HMAC.Secret"}
	if strings.TrimSpace(env[config.EnvPrefix+"PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	if strings.TrimSpace(env[config.EnvPrefix+"PSP_PAYPAL_CLIENT_ID"]) != "" {
		required = append(required, "PSP.PayPalSecret")
	}
	return required
}

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

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vendora/api/internal/di"
	"github.com/vendora/api/internal/handlers"
	"github.com/vendora/api/internal/platform/auth"
	"github.com/vendora/api/internal/platform/config"
	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/platform/idempotency"
	"github.com/vendora/api/internal/platform/jobs"
	"github.com/vendora/api/internal/platform/observability"
	"github.com/vendora/api/internal/platform/secrets"
	platformstorage "github.com/vendora/api/internal/platform/storage"
	"github.com/vendora/api/internal/repositories"
	firestoreRepo "github.com/vendora/api/internal/repositories/firestore"
	"github.com/vendora/api/internal/services"
)

const shutdownGrace = 10 * time.Second

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	if err := run(observability.WithLogger(context.Background(), logger), logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer warnOnClose(logger, "secret fetcher", fetcher.Close)

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	be, err := newBackends(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer be.shutdown(logger)

	var orderEvents services.OrderEventPublisher
	var reviewEvents services.ReviewEventPublisher
	if be.orderTopic != nil || be.reviewTopic != nil {
		publisher, err := jobs.NewPubSubEventPublisher(be.orderTopic, be.reviewTopic)
		if err != nil {
			return fmt.Errorf("initialise event publisher: %w", err)
		}
		orderEvents = publisher
		reviewEvents = publisher
	}

	idempotencyStore := idempotency.NewFirestoreStore(be.firestore)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	stopCleanup := startIdempotencyCleanup(logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
	defer stopCleanup()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	healthRepo, err := repositories.NewDependencyHealthRepository(dependencyChecks(be.firestore, fetcher, be.orderTopic))
	if err != nil {
		return fmt.Errorf("initialise health checks: %w", err)
	}

	registry, err := firestoreRepo.NewRegistry(be.provider, healthRepo)
	if err != nil {
		return fmt.Errorf("initialise repository registry: %w", err)
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)
	container, err := di.NewContainer(ctx, cfg, registry, di.Infra{
		OrderEvents:  orderEvents,
		ReviewEvents: reviewEvents,
		SignedURLs:   be.signedURLs,
		Copier:       be.copier,
		Build:        buildInfo,
		Logger:       newServiceLogger(logger.Named("services")),
	})
	if err != nil {
		return fmt.Errorf("build service container: %w", err)
	}

	router := buildRouter(logger, cfg, authenticator, container.Services, idempotencyMiddleware, buildInfo)
	return serve(logger.Named("http"), cfg.Server, router)
}

// backends bundles the external clients the API depends on so they can be
// opened and torn down together.
type backends struct {
	provider    *pfirestore.Provider
	firestore   *firestore.Client
	storage     *cloudstorage.Client
	copier      *platformstorage.Copier
	signedURLs  *platformstorage.Client
	pubsub      *pubsub.Client
	orderTopic  *pubsub.Topic
	reviewTopic *pubsub.Topic
}

func newBackends(ctx context.Context, logger *zap.Logger, cfg config.Config) (*backends, error) {
	be := &backends{provider: pfirestore.NewProvider(cfg.Firestore)}
	fail := func(err error) (*backends, error) {
		be.shutdown(logger)
		return nil, err
	}

	client, err := be.provider.Client(ctx)
	if err != nil {
		return fail(fmt.Errorf("initialise firestore client: %w", err))
	}
	be.firestore = client

	be.storage, err = cloudstorage.NewClient(ctx)
	if err != nil {
		return fail(fmt.Errorf("initialise storage client: %w", err))
	}
	be.copier, err = platformstorage.NewCopier(be.storage)
	if err != nil {
		return fail(fmt.Errorf("initialise storage copier: %w", err))
	}

	signerKey := strings.TrimSpace(cfg.Storage.SignedURLKey)
	if signerKey == "" {
		return fail(errors.New("storage signer key is required"))
	}
	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(signerKey))
	if err != nil {
		return fail(fmt.Errorf("parse storage signer key: %w", err))
	}
	be.signedURLs, err = platformstorage.NewClient(signer)
	if err != nil {
		return fail(fmt.Errorf("initialise signed url client: %w", err))
	}

	orderTopic := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	reviewTopic := strings.TrimSpace(cfg.PubSub.ReviewEventsTopic)
	if orderTopic != "" || reviewTopic != "" {
		be.pubsub, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("initialise pubsub client: %w", err))
		}
		if orderTopic != "" {
			be.orderTopic = be.pubsub.Topic(orderTopic)
		}
		if reviewTopic != "" {
			be.reviewTopic = be.pubsub.Topic(reviewTopic)
		}
	}

	return be, nil
}

func (b *backends) shutdown(logger *zap.Logger) {
	if b.orderTopic != nil {
		b.orderTopic.Stop()
	}
	if b.reviewTopic != nil {
		b.reviewTopic.Stop()
	}
	if b.pubsub != nil {
		warnOnClose(logger, "pubsub", b.pubsub.Close)
	}
	if b.storage != nil {
		warnOnClose(logger, "storage", b.storage.Close)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.provider.Close(ctx); err != nil {
		logger.Warn("firestore close error", zap.Error(err))
	}
}

func warnOnClose(logger *zap.Logger, name string, close func() error) {
	if err := close(); err != nil {
		logger.Warn(name+" close error", zap.Error(err))
	}
}

// startIdempotencyCleanup periodically purges expired idempotency records.
// The returned stop function blocks until the worker has drained.
func startIdempotencyCleanup(logger *zap.Logger, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig) func() {
	if cfg.CleanupInterval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(cfg.CleanupInterval)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ticker.C:
				runCtx, cancelRun := context.WithTimeout(ctx, time.Minute)
				removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				cancelRun()
				if err != nil {
					logger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		cancel()
		wg.Wait()
	}
}

func buildRouter(logger *zap.Logger, cfg config.Config, authenticator *auth.Authenticator, svc di.Services, idempotencyMW func(http.Handler) http.Handler, build services.BuildInfo) chi.Router {
	products := handlers.NewProductHandlers(authenticator, svc.Catalog)
	categories := handlers.NewCategoryHandlers(authenticator, svc.Catalog)
	orders := handlers.NewOrderHandlers(authenticator, svc.Orders, idempotencyMW)
	vendorOrders := handlers.NewVendorOrderHandlers(authenticator, svc.Orders)
	me := handlers.NewMeHandlers(authenticator, svc.Users)
	uploads := handlers.NewUploadHandlers(authenticator, svc.Uploads)

	var reviews *handlers.ReviewHandlers
	if svc.Reviews != nil {
		reviews = handlers.NewReviewHandlers(authenticator, svc.Reviews)
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithProductRoutes(func(r chi.Router) {
			products.Routes(r)
			if reviews != nil {
				reviews.Routes(r)
			}
		}),
		handlers.WithCategoryRoutes(categories.Routes),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithVendorOrderRoutes(vendorOrders.Routes),
		handlers.WithMeRoutes(me.Routes),
		handlers.WithUploadRoutes(uploads.Routes),
	}
	if svc.Vendors != nil {
		opts = append(opts,
			handlers.WithVendorRoutes(handlers.NewVendorHandlers(authenticator, svc.Vendors).Routes),
			handlers.WithAdminRoutes(handlers.NewAdminVendorHandlers(authenticator, svc.Vendors).Routes),
		)
	}

	return handlers.NewRouter(opts...)
}

func serve(logger *zap.Logger, cfg config.ServerConfig, router chi.Router) error {
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("vendora api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-shutdown:
	}
	logger.Info("shutdown signal received; draining requests")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func dependencyChecks(client *firestore.Client, fetcher *secrets.Fetcher, topic *pubsub.Topic) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, "secret://system/healthz?version=latest")
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
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}
	return checks
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	return services.BuildInfo{
		Version:     orDefault(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   orDefault(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: strings.ToLower(orDefault(env["API_ENVIRONMENT"], "local")),
		StartedAt:   started,
	}
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func newServiceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithEnvironment(strings.ToLower(orDefault(env["API_ENVIRONMENT"], "local"))),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(orDefault(env["API_SECRET_FALLBACK_FILE"], ".secrets.local")),
	}
	if projects := csvPairs(env["API_SECRET_PROJECT_IDS"], strings.ToLower); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if project := orDefault(env["API_SECRET_DEFAULT_PROJECT_ID"], strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if pins := secretVersionPins(env["API_SECRET_VERSION_PINS"]); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if file := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_FILE"]); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	key := strings.TrimSpace(env["API_STORAGE_SIGNED_URL_KEY"])
	if strings.HasPrefix(key, "secret://") || strings.HasPrefix(key, "sm://") {
		return []string{"Storage.SignedURLKey"}
	}
	return nil
}

// csvPairs parses "key=value,key=value" lists. normalise, when non-nil, is
// applied to each key.
func csvPairs(raw string, normalise func(string) string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if normalise != nil {
			key = normalise(key)
		}
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range csvPairs(raw, nil) {
		pins[canonicalSecretRef(ref)] = version
	}
	return pins
}

// canonicalSecretRef rewrites pin keys to the secret:// form the fetcher keys
// its pins on, preserving any environment prefix such as "prod:".
func canonicalSecretRef(ref string) string {
	var prefix string
	if idx := strings.Index(ref, ":"); idx > 0 {
		if scheme := strings.Index(ref, "://"); scheme == -1 || idx < scheme {
			prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
			ref = strings.TrimSpace(ref[idx+1:])
		}
	}
	switch {
	case strings.HasPrefix(ref, "secret://"):
	case strings.HasPrefix(ref, "sm://"):
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	default:
		ref = "secret://" + ref
	}
	return prefix + ref
}

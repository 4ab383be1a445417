package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dgellow/bff-front/internal/browserauth"
	"github.com/dgellow/bff-front/internal/config"
	"github.com/dgellow/bff-front/internal/crypto"
	"github.com/dgellow/bff-front/internal/delegation"
	"github.com/dgellow/bff-front/internal/envutil"
	"github.com/dgellow/bff-front/internal/idp"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/metrics"
	"github.com/dgellow/bff-front/internal/nativeauth"
	"github.com/dgellow/bff-front/internal/proxy"
	"github.com/dgellow/bff-front/internal/server"
	"github.com/dgellow/bff-front/internal/session"
	"github.com/dgellow/bff-front/internal/signup"
	"github.com/dgellow/bff-front/internal/storage"
	"github.com/dgellow/bff-front/internal/telemetry"
)

// NativeSignupPrefix is where the native sign-up routes are mounted
const NativeSignupPrefix = "/auth/native/signup"

const shutdownTimeout = 30 * time.Second

// BFFFront is the complete backend-for-frontend application
type BFFFront struct {
	config            config.Config
	handler           http.Handler
	httpServer        *server.HTTPServer
	storage           storage.Storage
	cleanup           *storage.CleanupManager
	shutdownTelemetry func(context.Context) error
}

// NewBFFFront builds the application and all of its dependencies
func NewBFFFront(ctx context.Context, cfg config.Config) (*BFFFront, error) {
	log.LogInfoWithFields("bfffront", "Building BFF application", map[string]any{
		"baseURL":  cfg.Server.BaseURL,
		"provider": string(cfg.Entra.Provider),
		"storage":  string(cfg.Session.Storage),
		"routes":   len(cfg.Downstream.Routes),
	})

	shutdownTelemetry, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	keys, err := crypto.DeriveKeys([]byte(cfg.Session.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	store, err := setupStorage(ctx, cfg.Session, keys.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	var cleanup *storage.CleanupManager
	if cleaner, ok := store.(storage.Cleaner); ok {
		cleanup = storage.NewCleanupManager(cleaner, cfg.Session.CleanupInterval,
			storage.WithPurgeObserver(m.SessionsPurged))
	}

	handler, err := buildHTTPHandler(ctx, cfg, store, keys, m)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &BFFFront{
		config:            cfg,
		handler:           handler,
		httpServer:        server.NewHTTPServer(handler, cfg.Server.Addr),
		storage:           store,
		cleanup:           cleanup,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// Handler returns the root HTTP handler
func (b *BFFFront) Handler() http.Handler {
	return b.handler
}

// Run serves until SIGINT, SIGTERM or a server error, then shuts down
func (b *BFFFront) Run() error {
	log.LogInfoWithFields("bfffront", "Starting BFF", map[string]any{
		"addr": b.config.Server.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		if err := b.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if b.cleanup != nil {
		b.cleanup.Start(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("bfffront", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("bfffront", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("bfffront", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": shutdownTimeout.String(),
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := b.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("bfffront", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	if b.cleanup != nil {
		b.cleanup.Stop()
	}
	if err := b.storage.Close(); err != nil {
		log.LogWarnWithFields("bfffront", "Failed to close storage", map[string]any{
			"error": err.Error(),
		})
	}
	if err := b.shutdownTelemetry(shutdownCtx); err != nil {
		log.LogWarnWithFields("bfffront", "Failed to flush traces", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("bfffront", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

// setupTelemetry prefers the config file's endpoint over the environment's
func setupTelemetry(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	env, err := envutil.Load()
	if err != nil {
		return nil, err
	}
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = env.OTELEndpoint
	}
	return telemetry.Setup(ctx, telemetry.Options{
		ServiceName: cfg.ServiceName,
		Endpoint:    endpoint,
		Enabled:     env.OTELEnabled,
	})
}

func setupStorage(ctx context.Context, cfg config.SessionConfig, storageKey []byte) (storage.Storage, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		encryptor, err := crypto.NewEncryptor(storageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		log.LogInfoWithFields("storage", "Using Redis storage", map[string]any{
			"addr": cfg.Redis.Addr,
			"db":   cfg.Redis.DB,
		})
		return storage.NewRedisStorage(ctx, storage.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  string(cfg.Redis.Password),
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, encryptor)

	case config.StorageFirestore:
		encryptor, err := crypto.NewEncryptor(storageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.Firestore.Project,
			"database":   cfg.Firestore.Database,
			"collection": cfg.Firestore.Collection,
		})
		return storage.NewFirestoreStorage(ctx, cfg.Firestore.Project, cfg.Firestore.Database, cfg.Firestore.Collection, encryptor)

	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
		return storage.NewMemoryStorage(), nil
	}
}

func storageName(s config.StorageKind) string {
	if s == "" {
		return string(config.StorageMemory)
	}
	return string(s)
}

func buildHTTPHandler(
	ctx context.Context,
	cfg config.Config,
	store storage.Storage,
	keys crypto.Keys,
	m *metrics.Metrics,
) (http.Handler, error) {
	cookieEncryptor, err := crypto.NewEncryptor(keys.Cookie)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie encryptor: %w", err)
	}
	sessions := browserauth.NewManager(
		store,
		cookieEncryptor,
		crypto.NewCSRFProtection(keys.CSRF, cfg.Session.TTL),
		browserauth.Options{
			CookieName: cfg.Session.CookieName,
			TTL:        cfg.Session.TTL,
			Sliding:    cfg.Session.SlidingExpiration,
		},
		m,
	)
	builder := session.NewBuilder()

	nativeClient, err := nativeauth.NewClient(nativeauth.Config{
		BaseURL:        cfg.Entra.NativeAuthURL(),
		PublicClientID: cfg.Entra.NativeAuthClientID,
		ClientID:       cfg.Entra.ClientID,
		APIScope:       cfg.Entra.APIScope,
	}, nativeauth.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("failed to create native auth client: %w", err)
	}
	log.LogInfoWithFields("bfffront", "Native auth client ready", map[string]any{
		"clientId": nativeClient.ClientID(),
		"scope":    nativeClient.Scope(),
	})
	controller := signup.NewController(nativeClient, builder, m)

	provider, err := idp.NewProvider(ctx, cfg.Entra, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	acquired := delegation.NewAcquisitionSource(store, provider)
	injector := delegation.NewInjector(m, acquired, delegation.SessionSource{})

	routes := make([]proxy.Route, 0, len(cfg.Downstream.Routes))
	for _, r := range cfg.Downstream.Routes {
		routes = append(routes, proxy.Route{
			Prefix:         r.Prefix,
			Target:         r.Target,
			AllowedPaths:   r.AllowedPaths,
			RequireSession: r.RequireSession,
		})
	}
	downstream, err := proxy.NewHTTPProxy(routes, injector, cfg.Downstream.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create downstream proxy: %w", err)
	}

	// Routes that need the session cookie resolved
	app := http.NewServeMux()
	server.NewAuthHandlers(provider, sessions, builder, acquired, server.AuthHandlersConfig{
		FrontendURL:     cfg.Server.FrontendURL,
		RequiredGroupID: cfg.Entra.RequiredGroupID,
		Scopes:          delegation.ScopeList(nativeClient.Scope()),
		StateKey:        keys.State,
	}).Register(app)
	server.NewNativeSignupHandlers(controller, sessions).Register(app, NativeSignupPrefix)
	for _, prefix := range downstream.Prefixes() {
		app.Handle(prefix, downstream)
		app.Handle(strings.TrimSuffix(prefix, "/"), downstream)
		log.LogInfoWithFields("bfffront", "Downstream route registered", map[string]any{
			"prefix": prefix,
		})
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", server.NewHealthHandler(server.HealthInfo{
		Version: cfg.Version,
		Storage: storageName(cfg.Session.Storage),
	}))
	mux.Handle("GET "+cfg.Server.MetricsPath, m.Handler())
	mux.Handle("/", sessions.Middleware(app))

	handler := server.ChainMiddleware(mux,
		server.NewRecoverMiddleware("http"),
		server.NewLoggerMiddleware("http", m),
		server.NewCORSMiddleware(cfg.Server.AllowedOrigins),
	)
	return otelhttp.NewHandler(handler, "bff-front",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != cfg.Server.MetricsPath
		}),
	), nil
}

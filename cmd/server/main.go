package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"pcoservices/server/internal/auth"
	"pcoservices/server/internal/broker"
	"pcoservices/server/internal/config"
	"pcoservices/server/internal/logger"
	"pcoservices/server/internal/mcp"
	"pcoservices/server/internal/middleware"
	"pcoservices/server/internal/modules"
	"pcoservices/server/internal/modules/pco_services"
	"pcoservices/server/internal/oauthproxy"
	"pcoservices/server/internal/observability"
	"pcoservices/server/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logger.Errorw("server exited", "error", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if err := logger.Initialize(cfg.LogLevel, cfg.LogFormat); err != nil {
		return errors.Wrap(err, "init logger")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.InitLoki(cfg.Loki)
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.OTLPEndpoint, mcp.ServerName, version)
	if err != nil {
		return errors.Wrap(err, "init telemetry")
	}

	signingKey, err := auth.SigningKey(cfg.JWTSigningKey, cfg.PCOClientSecret)
	if err != nil {
		return err
	}
	storageKey, err := auth.StorageKey(signingKey)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, storageKey)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Infow("store ready", "backend", cfg.StoreBackend)

	proxyCfg := oauthproxy.Config{
		BaseURL:              cfg.BaseURL,
		ResourcePath:         mcp.EndpointPath,
		UpstreamBaseURL:      cfg.PCOAPIBaseURL,
		ClientID:             cfg.PCOClientID,
		ClientSecret:         cfg.PCOClientSecret,
		Scopes:               auth.DefaultScopes(),
		RefreshTokenTTL:      cfg.RefreshTokenTTL,
		CacheTTL:             cfg.TokenCacheTTL,
		CacheSize:            cfg.TokenCacheSize,
		AcceptUpstreamTokens: cfg.AcceptUpstreamTokens,
	}
	signer := auth.NewSessionSigner(signingKey, cfg.BaseURL, cfg.ResourceURL(), cfg.AccessTokenTTL)
	verifier := auth.NewIdentityVerifier(cfg.PCOAPIBaseURL)
	tokens := broker.NewTokenBroker(st, oauthproxy.UpstreamOAuthConfig(proxyCfg), nil)
	proxy, err := oauthproxy.New(proxyCfg, st, signer, verifier, tokens)
	if err != nil {
		return errors.Wrap(err, "create oauth proxy")
	}

	registry := modules.NewRegistry(cfg.ToolTimeout)
	registry.Register(pco_services.New(broker.NewClientFactory(cfg.PCOAPIBaseURL, &http.Client{})))
	mcpServer, err := mcp.NewServer(registry, version)
	if err != nil {
		return errors.Wrap(err, "create mcp server")
	}

	authn := middleware.NewAuthenticator(proxy, proxy.ResourceMetadataURL())
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, ctx.Done())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Get("/health", healthHandler(st, cfg.Loki))
	proxy.Routes(r)
	r.Group(func(r chi.Router) {
		r.Use(authn.Authenticate)
		r.Use(limiter.Middleware)
		r.Handle(mcp.EndpointPath, mcpServer.Handler())
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("starting server",
			"addr", cfg.Addr(),
			"base_url", cfg.BaseURL,
			"version", version,
			"modules", registry.Names(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "listen")
		}
	case <-ctx.Done():
		logger.Infow("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("server forced to shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warnw("telemetry shutdown failed", "error", err)
	}
	logger.Infow("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, storageKey []byte) (store.Store, error) {
	if cfg.StoreBackend == config.StoreMemory {
		return store.NewMemoryStore(), nil
	}

	sealer, err := store.NewSealer(storageKey)
	if err != nil {
		return nil, errors.Wrap(err, "create sealer")
	}
	switch cfg.StoreBackend {
	case config.StoreRedis:
		st, err := store.NewRedisStore(ctx, cfg.RedisURL, "", sealer)
		if err != nil {
			return nil, errors.Wrap(err, "open redis store")
		}
		return st, nil
	case config.StorePostgres:
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres")
		}
		st, err := store.NewGormStore(db, sealer)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres store")
		}
		return st, nil
	default:
		return nil, errors.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// healthHandler reports 503 while the store is unreachable.
func healthHandler(st store.Store, loki config.LokiConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Instance-ID", loki.InstanceID)
		w.Header().Set("X-Instance-Region", loki.InstanceRegion)

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status, storeStatus, code := "ok", "ok", http.StatusOK
		if err := st.Ping(ctx); err != nil {
			logger.Warnw("health check: store unavailable", "error", err)
			status, storeStatus, code = "degraded", "unavailable", http.StatusServiceUnavailable
		}

		var e jx.Encoder
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(status) })
			e.Field("instance", func(e *jx.Encoder) { e.Str(loki.InstanceID) })
			e.Field("region", func(e *jx.Encoder) { e.Str(loki.InstanceRegion) })
			e.Field("store", func(e *jx.Encoder) { e.Str(storeStatus) })
		})
		w.WriteHeader(code)
		_, _ = w.Write(e.Bytes())
	}
}

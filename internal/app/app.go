// Package app wires the storefront server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shopnow/internal/catalogapi"
	"github.com/xenking/shopnow/internal/domain/cart"
	"github.com/xenking/shopnow/internal/domain/checkout"
	"github.com/xenking/shopnow/internal/domain/identity"
	"github.com/xenking/shopnow/internal/handler"
	"github.com/xenking/shopnow/internal/oidc"
	"github.com/xenking/shopnow/internal/shopper"
	"github.com/xenking/shopnow/internal/storage/memory"
	"github.com/xenking/shopnow/internal/storage/postgres"
	"github.com/xenking/shopnow/internal/storage/redis"
	"github.com/xenking/shopnow/pkg/health"
	"github.com/xenking/shopnow/pkg/httpmiddleware"
)

// Store keeps cart snapshots and sessions.
type Store interface {
	cart.Store
	identity.SessionStore
	health.Pinger
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("catalog", cfg.Catalog.BaseURL),
	)

	// Background work outlives ctx until the server has drained.
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()
	g, bgCtx := errgroup.WithContext(bgCtx)

	store, closeStore, err := openStore(ctx, lg, cfg.Store, g, bgCtx)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer closeStore()

	catalogClient, err := catalogapi.New(catalogapi.Options{
		BaseURL:        cfg.Catalog.BaseURL,
		Timeout:        cfg.Catalog.Timeout,
		MaxFailures:    uint32(cfg.Catalog.MaxFailures),
		OpenTimeout:    cfg.Catalog.OpenTimeout,
		TracerProvider: m.TracerProvider(),
	}, lg.Named("catalog"))
	if err != nil {
		return errors.Wrap(err, "create catalog client")
	}

	auth, err := newAuthenticator(ctx, lg, cfg.OIDC)
	if err != nil {
		return errors.Wrap(err, "create authenticator")
	}
	provider := identity.NewProvider(store, auth, lg.Named("identity"))
	defer provider.Close()

	registry, err := shopper.NewRegistry(
		shopper.Config{IdleTTL: cfg.Shopper.IdleTTL, MeterProvider: m.MeterProvider()},
		cart.NewSnapshots(store, lg.Named("cart")),
		provider,
		catalogClient,
		lg.Named("shopper"),
	)
	if err != nil {
		return errors.Wrap(err, "create registry")
	}

	rates, err := cfg.Checkout.Rates()
	if err != nil {
		return errors.Wrap(err, "checkout rates")
	}

	healthSvc := newHealth(lg.Named("health"), cfg, store, catalogClient, registry.Len)

	h := handler.New(handler.Config{
		WebDir:        cfg.WebDir,
		SettleWindow:  cfg.Shopper.SettleWindow,
		SecureCookies: cfg.Shopper.CookieSecure,
		Cookie: shopper.CookieConfig{
			MaxAge: cfg.Shopper.CookieMaxAge,
			Secure: cfg.Shopper.CookieSecure,
		},
	}, registry, catalogClient, checkout.NewService(rates, lg.Named("checkout")))

	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Mount("/", h.Routes())

	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Skip: func(r *http.Request) bool {
			return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
		},
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Catalog.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("shopnow", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:     cfg.CORS.Origins,
				Headers:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
				Credentials: cfg.CORS.AllowCredentials,
				MaxAge:      24 * time.Hour,
			}),
			limiter.Middleware(),
		),
	}

	g.Go(func() error { return registry.Run(bgCtx) })
	g.Go(func() error { return healthSvc.Run(bgCtx, 10*time.Second) })
	g.Go(func() error { return limiter.Run(bgCtx) })

	// Graceful shutdown: wait for cancellation, drain, then stop background
	// work.
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-bgCtx.Done():
			return nil
		}
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		stopBackground()
		return nil
	})

	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// newHealth registers the probe checks. Too many workspaces only takes the
// instance out of rotation: a liveness failure would restart it and, with
// the memory store, drop every cart.
func newHealth(
	lg *zap.Logger,
	cfg *Config,
	store health.Pinger,
	catalogClient health.Pinger,
	workspaces health.Counter,
) *health.Health {
	h := health.New(lg)
	h.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10*cfg.Shopper.MaxWorkspaces))
	h.AddReadinessCheck("workspaces", time.Second,
		health.CountCheck("workspaces", workspaces, cfg.Shopper.MaxWorkspaces))
	h.AddReadinessCheck(cfg.Store.Driver, 5*time.Second, health.PingCheck(store))
	h.AddReadinessCheck("catalog", 5*time.Second, health.PingCheck(catalogClient), health.Advisory())
	return h
}

// openStore connects the configured store driver. Postgres additionally
// sweeps expired sessions on g until ctx is done.
func openStore(
	ctx context.Context,
	lg *zap.Logger,
	cfg StoreConfig,
	g *errgroup.Group,
	bgCtx context.Context,
) (Store, func(), error) {
	switch cfg.Driver {
	case DriverRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse redis url")
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "ping redis")
		}
		return redis.New(client, redis.WithSnapshotTTL(cfg.SnapshotTTL)), func() { _ = client.Close() }, nil

	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		store := postgres.NewStore(pool)
		g.Go(func() error {
			sweepSessions(bgCtx, lg.Named("sessions"), store, cfg.SweepEvery)
			return nil
		})
		return store, pool.Close, nil

	default:
		return memory.New(), func() {}, nil
	}
}

// sweepSessions deletes expired session rows every interval.
func sweepSessions(ctx context.Context, lg *zap.Logger, store *postgres.Store, interval time.Duration) {
	ticker := time.NewTicker(max(interval, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpiredSessions(ctx)
			if err != nil {
				lg.Error("Delete expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Deleted expired sessions", zap.Int64("count", n))
			}
		}
	}
}

func newAuthenticator(ctx context.Context, lg *zap.Logger, cfg OIDCConfig) (identity.Authenticator, error) {
	if cfg.ClientID == "" {
		lg.Warn("OIDC client id not set, sign-in disabled")
		return oidc.Disabled{}, nil
	}
	return oidc.New(ctx, oidc.Config{
		IssuerURL:    cfg.IssuerURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		SessionTTL:   cfg.SessionTTL,
	})
}

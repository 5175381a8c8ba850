package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/saasbilling/internal/db/migrations"
	"github.com/dmitrymomot/saasbilling/modules/billing"
	"github.com/dmitrymomot/saasbilling/pkg/cache"
	"github.com/dmitrymomot/saasbilling/pkg/clerk"
	"github.com/dmitrymomot/saasbilling/pkg/clientip"
	"github.com/dmitrymomot/saasbilling/pkg/config"
	"github.com/dmitrymomot/saasbilling/pkg/environment"
	"github.com/dmitrymomot/saasbilling/pkg/httpserver"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/metrics"
	"github.com/dmitrymomot/saasbilling/pkg/pg"
	"github.com/dmitrymomot/saasbilling/pkg/ratelimiter"
	"github.com/dmitrymomot/saasbilling/pkg/redis"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
	"github.com/dmitrymomot/saasbilling/pkg/routepolicy"
	"github.com/dmitrymomot/saasbilling/pkg/subscription"
	store "github.com/dmitrymomot/saasbilling/svc/subscription"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load[appConfig]()
	if err != nil {
		return err
	}
	env := environment.Parse(cfg.Env)

	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor(), environment.LoggerExtractor()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = environment.WithContext(ctx, env)

	pgCfg, err := config.Load[pg.Config]()
	if err != nil {
		return err
	}
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if pgCfg.AutoMigrate {
		if err := pg.Migrate(ctx, pool, migrations.FS, pgCfg, log); err != nil {
			return err
		}
	}

	checks := []httpserver.Check{{Name: "postgres", Probe: pg.Healthcheck(pool)}}

	var (
		cacheStore   cache.Store
		limiterStore ratelimiter.Store
	)
	switch cfg.CacheBackend {
	case "memory":
		cacheStore = cache.NewMemoryStore(cfg.MemoryCacheSize)
		mem := ratelimiter.NewMemoryStore()
		defer mem.Close()
		limiterStore = mem
	case "redis":
		redisCfg, err := config.Load[redis.Config]()
		if err != nil {
			return err
		}
		rdb, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		cacheStore = cache.NewRedisStore(rdb, cfg.Name+":cache:")
		limiterStore = ratelimiter.NewRedisStore(rdb, cfg.Name+":ratelimit:")
		checks = append(checks, httpserver.Check{Name: "redis", Probe: redis.Healthcheck(rdb)})
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}

	storeCfg, err := config.Load[store.StoreConfig]()
	if err != nil {
		return err
	}
	clerkCfg, err := config.Load[clerk.Config]()
	if err != nil {
		return err
	}
	jwksCfg, err := config.Load[jwt.JWKSConfig]()
	if err != nil {
		return err
	}
	reconcilerCfg, err := config.Load[subscription.ReconcilerConfig]()
	if err != nil {
		return err
	}
	serviceCfg, err := config.Load[subscription.ServiceConfig]()
	if err != nil {
		return err
	}
	dispatcherCfg, err := config.Load[subscription.DispatcherConfig]()
	if err != nil {
		return err
	}
	billingCfg, err := config.Load[billing.Config]()
	if err != nil {
		return err
	}
	httpCfg, err := config.Load[httpserver.Config]()
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []subscription.Option{subscription.WithLogger(log), subscription.WithRecorder(m)}

	subs := store.NewPostgresStore(pool, storeCfg)
	identity := clerk.New(clerkCfg)

	metadataSync := subscription.NewMetadataSync(identity, subs, subs, clerkCfg.Timeout, opts...)
	dispatcher := subscription.NewDispatcher(metadataSync, dispatcherCfg,
		[]subscription.DispatcherOption{subscription.WithRetryable(clerk.IsTemporary)},
		opts...,
	)
	ingress := subscription.NewIngress(provider.Name(), provider,
		subscription.NewNormalizer(provider, subs, opts...),
		subscription.NewReconciler(subs, subs, provider, reconcilerCfg, opts...),
		subscription.NewCacheInvalidator(cacheStore, opts...),
		dispatcher,
		opts...,
	)
	svc := subscription.NewService(subs, subs, provider, metadataSync, serviceCfg, opts...)

	limiters, err := routepolicy.NewLimiters(limiterStore, routepolicy.DefaultClasses)
	if err != nil {
		return err
	}
	policy, err := routepolicy.New(billing.Rules(billingCfg),
		routepolicy.WithCache(cacheStore),
		routepolicy.WithLimiters(limiters),
		routepolicy.WithLogger(log),
	)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		requestid.Middleware,
		clientip.Middleware(),
		environment.Middleware(env),
	)
	r.Group(func(r chi.Router) {
		r.Use(m.Middleware)
		r.Get("/api/v1/healthcheck", httpserver.LivenessHandler())
		r.Get("/api/v1/readiness", httpserver.ReadinessHandler(log, cfg.ReadinessTimeout, checks...))
		r.Mount("/api/v1/billing", billing.Router(billing.RouterOptions{
			Service: svc,
			Ingress: ingress,
			Auth:    jwt.Middleware(jwt.NewJWKSVerifier(jwksCfg)),
			Policy:  policy,
			Config:  billingCfg,
			Logger:  log,
		}))
	})
	r.Handle("/metrics", m.Handler())

	server := httpserver.New(httpCfg, r, httpserver.WithLogger(log))

	log.InfoContext(ctx, "starting billing api",
		logger.Provider(provider.Name()),
		slog.String("cache_backend", cfg.CacheBackend),
	)

	if err := serve(ctx, server, dispatcher); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.InfoContext(context.WithoutCancel(ctx), "billing api stopped")
	return nil
}

type runner interface {
	Run(ctx context.Context) error
}

// serve runs the HTTP server until ctx is done and the dispatcher until the
// server has finished draining, so webhooks still in flight during shutdown
// can schedule their metadata syncs.
func serve(ctx context.Context, server, dispatcher runner) error {
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	var g errgroup.Group
	g.Go(func() error {
		defer stopDispatch()
		return server.Run(ctx)
	})
	g.Go(func() error { return dispatcher.Run(dispatchCtx) })
	return g.Wait()
}

func newProvider(name string) (subscription.Provider, error) {
	switch name {
	case subscription.ProviderStripe:
		cfg, err := config.Load[subscription.StripeConfig]()
		if err != nil {
			return nil, err
		}
		return subscription.NewStripeProvider(cfg)
	case subscription.ProviderPaddle:
		cfg, err := config.Load[subscription.PaddleConfig]()
		if err != nil {
			return nil, err
		}
		return subscription.NewPaddleProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown BILLING_PROVIDER %q", name)
	}
}

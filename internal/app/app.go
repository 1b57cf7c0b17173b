// Package app wires the order and promo servers.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/xenking/quickbite/internal/client/promoclient"
	"github.com/xenking/quickbite/internal/domain/auth"
	"github.com/xenking/quickbite/internal/domain/order"
	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/handler"
	"github.com/xenking/quickbite/internal/jobs"
	"github.com/xenking/quickbite/internal/remote"
	"github.com/xenking/quickbite/internal/storage/gormusers"
	"github.com/xenking/quickbite/internal/storage/postgres"
	"github.com/xenking/quickbite/internal/storage/redisstore"
	"github.com/xenking/quickbite/pkg/health"
	"github.com/xenking/quickbite/pkg/httpmiddleware"
)

// Run creates the order server dependencies, starts the HTTP server and the
// reconciliation job, and handles graceful shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing order server", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// User service database, read through gorm.
	usersDB, err := gormusers.Open(cfg.UsersDatabaseURL)
	if err != nil {
		return err
	}
	usersSQL, err := usersDB.DB()
	if err != nil {
		return errors.Wrap(err, "users database handle")
	}
	defer func() { _ = usersSQL.Close() }()

	promos, err := promoclient.New(cfg.Promo.URL, cfg.Promo.APIKey, cfg.Promo.Policy,
		promoclient.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create promo client")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("users-db", 5*time.Second, pingGorm(usersDB))
	healthSvc.AddReadinessCheck("promo-server", 5*time.Second, health.PingCheck(promos),
		health.WithFailureThreshold(5),
	)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)

	orderService, compRepo, err := orderAPI(mux, pool, usersDB, promos, cfg.Partners, cfg.APIKeyPepper,
		order.WithPlacementTimeout(cfg.PlacementTimeout),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return err
	}

	server := newServer(ctx, cfg.Addr, "quickbite-order", mux, m, cfg.RateLimit, cfg.CORS)
	reconcile := jobs.NewReconcileJob(orderService, compRepo, jobs.ReconcileOptions{
		Schedule:    cfg.Reconcile.Schedule,
		BatchSize:   cfg.Reconcile.BatchSize,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
	}, lg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(gctx, lg, server, healthSvc, cfg.Graceful)
	})
	g.Go(func() error {
		return reconcile.Run(gctx)
	})
	return g.Wait()
}

// RunPromo creates the promo server dependencies, starts the HTTP server and
// handles graceful shutdown.
func RunPromo(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *PromoConfig) error {
	lg.Info("Initializing promo server", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	redisOpts, err := cfg.Redis.Options()
	if err != nil {
		return err
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	reservations := redisstore.NewReservations(rdb)

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(reservations))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	promoAPI(mux, pool, reservations, cfg.Redis.ReservationTTL, cfg.APIKeyPepper)

	server := newServer(ctx, cfg.Addr, "quickbite-promo", mux, m, cfg.RateLimit, cfg.CORS)
	return serve(ctx, lg, server, healthSvc, cfg.Graceful)
}

// orderAPI creates the order service over its storage and gateways and
// registers the order routes on mux.
func orderAPI(
	mux *http.ServeMux,
	pool *pgxpool.Pool,
	usersDB *gorm.DB,
	promos order.PromoGateway,
	partners remote.Policy,
	pepper string,
	opts ...order.Option,
) (*order.Service, *postgres.CompensationRepository, error) {
	compRepo := postgres.NewCompensationRepository(pool)
	svc, err := order.NewService(
		postgres.NewFoodRepository(pool),
		promos,
		gormusers.NewGateway(usersDB, partners),
		postgres.NewOrderRepository(pool),
		compRepo,
		opts...,
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create order service")
	}

	authn := handler.Authenticate(auth.NewAuthenticator(postgres.NewAPIKeyRepository(pool), []byte(pepper)))
	handler.NewOrders(svc).Register(mux, authn)
	return svc, compRepo, nil
}

// promoAPI registers the promo engine and admin routes on mux.
func promoAPI(mux *http.ServeMux, pool *pgxpool.Pool, reservations promo.ReservationStore, ttl time.Duration, pepper string) {
	repo := postgres.NewPromoRepository(pool)
	authn := handler.Authenticate(auth.NewAuthenticator(postgres.NewAPIKeyRepository(pool), []byte(pepper)))
	handler.NewPromos(promo.NewEngine(repo, reservations, ttl), promo.NewAdmin(repo)).Register(mux, authn)
}

func newServer(
	ctx context.Context,
	addr, name string,
	mux *http.ServeMux,
	m *app.Telemetry,
	rl RateLimitConfig,
	cors CORSConfig,
) *http.Server {
	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	return &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cors.Origins,
				AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cors.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     rl.Max,
				Window:  rl.Window,
				KeyFunc: httpmiddleware.HeaderOrIP(handler.APIKeyHeader),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(name, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}
}

// serve runs server until ctx is done, then flips readiness, waits for load
// balancers to notice and drains in-flight requests.
func serve(ctx context.Context, lg *zap.Logger, server *http.Server, healthSvc *health.Health, cfg GracefulConfig) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.ReadinessDelay))
		time.Sleep(cfg.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func pingGorm(db *gorm.DB) health.CheckFunc {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/course-checkout/internal/auth"
	"github.com/xenking/course-checkout/internal/domain/cart"
	"github.com/xenking/course-checkout/internal/domain/enrollment"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/payment"
	"github.com/xenking/course-checkout/internal/gateway/omise"
	"github.com/xenking/course-checkout/internal/handler"
	"github.com/xenking/course-checkout/internal/repository"
	"github.com/xenking/course-checkout/internal/storage"
	"github.com/xenking/course-checkout/pkg/health"
	"github.com/xenking/course-checkout/pkg/httpmiddleware"
)

const serviceName = "course-checkout"

// Run creates all dependencies, serves HTTP until ctx is cancelled and then
// shuts down gracefully. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := newService(ctx, m, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		if ctx.Err() != nil {
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		defer svc.health.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}

// service is the wired application: the HTTP handler with its middleware
// chain, health checks and the resources to release on exit.
type service struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newService(ctx context.Context, m httpmiddleware.Telemetry, cfg *Config) (_ *service, rerr error) {
	lg := zctx.From(ctx)
	svc := &service{}
	defer func() {
		if rerr != nil {
			svc.close()
		}
	}()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	svc.closers = append(svc.closers, pool.Close)

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	svc.health = health.New(func(name string, healthy bool, err error) {
		if healthy {
			lg.Info("Check recovered", zap.String("check", name))
			return
		}
		lg.Warn("Check failing", zap.String("check", name), zap.Error(err))
	})
	svc.health.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	svc.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Auth, with an optional Redis cache in front of token lookups.
	authClient := auth.New(auth.Config{
		URL:     cfg.Auth.URL,
		APIKey:  cfg.Auth.APIKey,
		Timeout: cfg.Auth.Timeout,
	}, nil)
	var users auth.Resolver = authClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })
		svc.health.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
		users = auth.NewCachedResolver(authClient, auth.NewRedisCache(rdb), cfg.Auth.CacheTTL)
	}

	slips, err := newSlipStorage(cfg.Slips)
	if err != nil {
		return nil, errors.Wrap(err, "create slip storage")
	}

	// Repositories.
	courseRepo := repository.NewCourseRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	enrollmentRepo := repository.NewEnrollmentRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)

	// Domain services.
	cartService := cart.NewService(cartRepo, courseRepo)
	enrollmentService := enrollment.NewService(enrollmentRepo, courseRepo)
	orderService := order.NewService(courseRepo, couponRepo, orderRepo, enrollmentRepo, cartRepo)
	paymentService, err := payment.NewService(
		payment.Config{MinChargeAmount: cfg.Payment.MinChargeAmount},
		payment.Deps{
			Payments:    paymentRepo,
			Orders:      orderRepo,
			Coupons:     couponRepo,
			Enrollments: enrollmentRepo,
			Gateway: omise.New(omise.Config{
				PublicKey: cfg.Omise.PublicKey,
				SecretKey: cfg.Omise.SecretKey,
				APIURL:    cfg.Omise.APIURL,
				VaultURL:  cfg.Omise.VaultURL,
				Currency:  cfg.Omise.Currency,
				Timeout:   cfg.Omise.Timeout,
			}, nil),
			Slips: slips,
			Tx:    repository.NewTransactor(pool),
			Meter: m.MeterProvider().Meter(serviceName),
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment service")
	}

	h := handler.New(handler.Config{MaxUploadBytes: cfg.Slips.Limits.MaxBytes + 1<<20}, handler.Deps{
		Courses:     courseRepo,
		Carts:       cartService,
		Orders:      orderService,
		Enrollments: enrollmentService,
		Payments:    paymentService,
		Sessions:    authClient,
		Users:       users,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", svc.health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", svc.health.ReadyEndpoint)
	h.Register(mux)
	routes := httpmiddleware.MuxRouteFinder(mux)

	proxies, err := httpmiddleware.ParsePrefixes(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, errors.Wrap(err, "parse trusted proxies")
	}

	svc.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:            cfg.RateLimit.Max,
			Window:         cfg.RateLimit.Window,
			Prefixes:       []string{"/api/auth/"},
			TrustedProxies: proxies,
		}),
		httpmiddleware.Instrument(serviceName, routes, m),
		httpmiddleware.LogRequests(routes),
		httpmiddleware.Labeler(routes),
	)
	return svc, nil
}

func newSlipStorage(cfg SlipConfig) (payment.SlipStorage, error) {
	if cfg.OSS.Endpoint != "" {
		return storage.NewOSS(cfg.OSS, cfg.Limits)
	}
	return storage.NewDir(cfg.Dir, cfg.BaseURL, cfg.Limits)
}

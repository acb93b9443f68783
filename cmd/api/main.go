package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sahajkart/checkout-core/internal/checkout"
	"github.com/sahajkart/checkout-core/internal/common"
	"github.com/sahajkart/checkout-core/internal/config"
	"github.com/sahajkart/checkout-core/internal/events"
	"github.com/sahajkart/checkout-core/internal/gateway"
	"github.com/sahajkart/checkout-core/internal/health"
	"github.com/sahajkart/checkout-core/internal/ledger"
	"github.com/sahajkart/checkout-core/internal/obs"
	"github.com/sahajkart/checkout-core/internal/pricing"
	"github.com/sahajkart/checkout-core/internal/promo"
	"github.com/sahajkart/checkout-core/internal/resilience"
	"github.com/sahajkart/checkout-core/internal/shipping"
	"github.com/sahajkart/checkout-core/internal/store"
	"github.com/sahajkart/checkout-core/internal/zone"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "checkout")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "checkout-core",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "checkout-core"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	svc := buildService(cfg, pool, logger)
	handler := &checkout.Handler{Svc: svc, Validate: validator.New()}
	webhook := checkout.Webhook{Svc: svc, Replay: redisClient, ReplayTTL: cfg.WebhookReplayTTL}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.MetricsBuckets)
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", true) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass, cfg.PprofToken))
	}

	healthHandler := health.Handler{
		Checker: readinessChecker{db: pool, redis: redisClient},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Post("/checkout/quote", handler.Quote)
		v.With(idem.Middleware).Post("/checkout", handler.Settle)
		v.Get("/payments/{merchantTxnID}/status", handler.PaymentStatus)
		v.Get("/shipping/{pincode}", handler.ShippingQuote)
		v.Post("/webhooks/payment", webhook.Handle)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop, stopCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopCancel()
	<-stop.Done()

	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func buildService(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *checkout.Service {
	engine := pricing.Engine{
		CODMaxOrderValue:        cfg.CODOrderCap,
		FreeDeliveryGuaranteed:  cfg.FreeDeliveryThreshold,
		FreeDeliveryMinOrder:    cfg.MinOrderForFreeShip,
		FreeDeliveryMaxShipping: cfg.MaxShipForFreeShip,
		CODCharge:               cfg.CODCharge,
		PrepaidDiscountBps:      int32(cfg.PrepaidDiscountBps),
	}

	breaker := resilience.NewBreaker(10, 0.5, 30*time.Second).
		WithTarget("gateway").
		WithLogger(logger)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:             cfg.GatewayBaseURL,
		MerchantID:          cfg.GatewayMerchantID,
		SaltKey:             cfg.GatewaySaltKey,
		SaltIndex:           cfg.GatewaySaltIndex,
		InitiateMaxAttempts: cfg.InitiateMaxAttempts,
		InitiateBackoffBase: cfg.RetryBaseBackoff,
		StatusMaxAttempts:   cfg.StatusMaxAttempts,
		StatusBackoffBase:   cfg.RetryBaseBackoff,
		Timeout:             cfg.GatewayTimeout,
		Breaker:             breaker,
	}, logger)

	return &checkout.Service{
		Resolver: &shipping.Resolver{
			Directory: &store.Pincodes{Pool: pool},
			Rates:     zone.DefaultTable(),
		},
		Promos:      &promo.Service{Store: &store.Promos{Pool: pool}},
		Engine:      engine,
		Gateway:     gatewayClient,
		Ledger:      &ledger.Ledger{Store: &store.PaymentLedger{Pool: pool}, Logger: logger},
		Orders:      &store.Orders{Pool: pool},
		Events:      &events.Bus{Store: &store.Events{Pool: pool}},
		RedirectURL: cfg.GatewayRedirectURL,
		CallbackURL: cfg.GatewayCallbackURL,
		Logger:      logger,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

// protectPprof guards the profiler with basic auth, a bearer token, or both.
// With no credentials configured the mux is served as-is.
func protectPprof(handler http.Handler, user, pass, token string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	token = strings.TrimSpace(token)
	if user == "" && token == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user != "" {
			if u, p, ok := r.BasicAuth(); ok &&
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1 &&
				subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1 {
				handler.ServeHTTP(w, r)
				return
			}
		}
		if token != "" {
			bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(bearer), []byte(token)) == 1 {
				handler.ServeHTTP(w, r)
				return
			}
		}
		if user != "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="pprof"`)
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

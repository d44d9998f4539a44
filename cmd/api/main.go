package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/chickfarms/chickfarms-api/internal/config"
	"github.com/chickfarms/chickfarms-api/internal/domain/deposit"
	"github.com/chickfarms/chickfarms-api/internal/domain/ledger"
	"github.com/chickfarms/chickfarms-api/internal/domain/referral"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
	"github.com/chickfarms/chickfarms-api/internal/middleware"
	"github.com/chickfarms/chickfarms-api/internal/pkg/database"
	"github.com/chickfarms/chickfarms-api/internal/pkg/jwt"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
	"github.com/chickfarms/chickfarms-api/internal/pkg/nowpayments"
	pkgresponse "github.com/chickfarms/chickfarms-api/internal/pkg/response"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting ChickFarms API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureSchema(schemaCtx, db); err != nil {
		cancelSchema()
		log.Fatal().Err(err).Msg("Failed to prepare schema")
	}
	cancelSchema()

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db)
	transactionRepo := transaction.NewRepository(db)
	referralRepo := referral.NewRepository(db)
	ledgerStore := ledger.NewSQLStore(db)

	// ---------- Services ----------
	ledgerService := ledger.NewService(ledgerStore, ledger.Rates{
		Commission:        cfg.ReferralCommissionRates,
		FirstDepositBonus: cfg.FirstDepositBonusRate,
	})

	if cfg.NowPaymentsAPIKey == "" {
		log.Warn().Msg("NOWPAYMENTS_API_KEY is empty, deposit creation will fail")
	}
	if cfg.NowPaymentsIPNSecret == "" {
		log.Warn().Msg("NOWPAYMENTS_IPN_SECRET is empty, every IPN will be rejected")
	}
	gateway := nowpayments.NewClient(nowpayments.Config{
		APIKey:  cfg.NowPaymentsAPIKey,
		BaseURL: cfg.NowPaymentsBaseURL,
		Timeout: time.Duration(cfg.NowPaymentsTimeoutSeconds) * time.Second,
	})

	depositService := deposit.NewService(
		ledgerService,
		ledgerStore,
		gateway,
		deposit.NewStatusCache(redis, cfg.StatusPollCacheTTL),
		deposit.Config{
			IPNSecret:   cfg.NowPaymentsIPNSecret,
			CallbackURL: strings.TrimRight(cfg.BackendURL, "/") + "/webhooks/nowpayments",
		},
	)
	referralService := referral.NewService(referralRepo)

	// ---------- Handlers ----------
	h := handlers{
		deposit:     deposit.NewHandler(depositService),
		transaction: transaction.NewHandler(transactionRepo),
		referral:    referral.NewHandler(referralService),
		user:        user.NewHandler(userRepo),
	}

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if !cfg.TrustProxyHeaders {
		log.Info().Msg("TRUST_PROXY_HEADERS is off, rate limiting by connection address")
	}
	r := newRouter(h, middleware.Auth(jwtService), limiter, cfg.AllowedOrigins, cfg.TrustProxyHeaders)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// In-flight settlements finish their database transaction before exit.
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

type handlers struct {
	deposit     *deposit.Handler
	transaction *transaction.Handler
	referral    *referral.Handler
	user        *user.Handler
}

func newRouter(h handlers, authMiddleware func(http.Handler) http.Handler, limiter *middleware.IPRateLimiter, allowedOrigins []string, trustProxy bool) chi.Router {
	r := chi.NewRouter()

	// RealIP rewrites RemoteAddr from client-supplied headers, so the per-IP
	// limiter is only as good as the proxy in front of us.
	if trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(allowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	rateLimit := middleware.RateLimit(limiter)

	// Gateway callbacks authenticate by signature, not JWT.
	r.Group(func(r chi.Router) {
		r.Use(rateLimit)
		r.Mount("/webhooks", h.deposit.WebhookRoutes())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimit)
			r.Mount("/deposits", h.deposit.Routes(authMiddleware))
		})
		r.Mount("/transactions", h.transaction.Routes(authMiddleware))
		r.Mount("/referrals", h.referral.Routes(authMiddleware))
		r.Mount("/me", h.user.Routes(authMiddleware))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Mount("/deposits", h.deposit.AdminRoutes(authMiddleware))
		r.Mount("/referrals", h.referral.AdminRoutes(authMiddleware))
	})

	return r
}

func setupLogger(cfg *config.Config) {
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
	})
}

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/chickfarms/chickfarms-api/internal/config"
	"github.com/chickfarms/chickfarms-api/internal/domain/deposit"
	"github.com/chickfarms/chickfarms-api/internal/domain/ledger"
	"github.com/chickfarms/chickfarms-api/internal/domain/transaction"
	"github.com/chickfarms/chickfarms-api/internal/pkg/database"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
	"github.com/chickfarms/chickfarms-api/internal/pkg/nowpayments"
)

// wakeChannel triggers an immediate sweep: PUBLISH deposits:reconcile now
const wakeChannel = "deposits:reconcile"

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Dur("interval", cfg.ReconcileInterval).
		Dur("min_age", cfg.ReconcileMinAge).
		Msg("Starting deposit reconciler")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	if cfg.NowPaymentsAPIKey == "" {
		log.Fatal().Msg("NOWPAYMENTS_API_KEY is required")
	}

	store := ledger.NewSQLStore(db)
	ledgerService := ledger.NewService(store, ledger.Rates{
		Commission:        cfg.ReferralCommissionRates,
		FirstDepositBonus: cfg.FirstDepositBonusRate,
	})
	gateway := nowpayments.NewClient(nowpayments.Config{
		APIKey:  cfg.NowPaymentsAPIKey,
		BaseURL: cfg.NowPaymentsBaseURL,
		Timeout: time.Duration(cfg.NowPaymentsTimeoutSeconds) * time.Second,
	})
	depositService := deposit.NewService(ledgerService, store, gateway,
		deposit.NewStatusCache(rdb, cfg.StatusPollCacheTTL),
		deposit.Config{
			IPNSecret:   cfg.NowPaymentsIPNSecret,
			CallbackURL: strings.TrimRight(cfg.BackendURL, "/") + "/webhooks/nowpayments",
		})

	reconciler := deposit.NewReconciler(depositService, transaction.NewRepository(db), cfg.ReconcileMinAge, cfg.ReconcileBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wake chan struct{}
	if rdb != nil {
		wake = make(chan struct{}, 1)
		go subscribeWakeups(ctx, rdb, wake)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	reconciler.Run(ctx, cfg.ReconcileInterval, wake)
}

func subscribeWakeups(ctx context.Context, rdb *redis.Client, wake chan<- struct{}) {
	sub := rdb.Subscribe(ctx, wakeChannel)
	defer func() { _ = sub.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Channel():
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

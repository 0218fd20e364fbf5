package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/config"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/db"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
	ilsrouter "github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils/router"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/jobs"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/observability"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
	postgresrepo "github.com/siiriylonen/NDL-VuFind2-sub001/internal/repository/postgres"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := cache.NewMemoryStore()
	registry, err := ilsrouter.NewRegistry(ilsrouter.Options{
		Sources:          cfg.ILSSources,
		ConfigDir:        cfg.BackendConfigDir,
		DefaultSource:    cfg.DefaultSource,
		SortLoginTargets: cfg.SortLoginTargets,
		Locale:           cfg.Locale,
		RequestCacheTTL:  cfg.RequestCacheTTL,
	}, ilsrouter.DefaultFactories(store, cfg.TokenCacheTTL, cfg.BackendCallTimeout), store)
	if err != nil {
		logger.Error("failed to build backend registry", "err", err)
		os.Exit(1)
	}

	credentials, err := db.NewCredentialRepository(pool, cfg.JWTSigningKey)
	if err != nil {
		logger.Error("failed to build credential store", "err", err)
		os.Exit(1)
	}

	transactionRepo := postgresrepo.NewTransactionRepository(pool)
	sessions := ils.NewSessionManager(store, cfg.PatronCacheTTL)
	paymentService := payment.NewService(transactionRepo, registry, sessions, credentials, nil, logger)
	worker := jobs.NewWorker(transactionRepo, paymentService, cfg.WorkerMinAge, logger)

	interval := cfg.WorkerPollInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", "interval", interval.String(), "batch_size", cfg.WorkerBatchSize)
	for {
		select {
		case <-sigCtx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
			runCtx, runCancel := context.WithTimeout(context.Background(), 2*time.Minute)
			err := worker.RunOnce(runCtx, cfg.WorkerBatchSize)
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker run failed", "err", err)
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/auth"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/config"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/db"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/gateway"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/http/handlers"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
	ilsrouter "github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils/router"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/observability"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
	postgresrepo "github.com/siiriylonen/NDL-VuFind2-sub001/internal/repository/postgres"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/server"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/settlement"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ws"
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

	sessions := ils.NewSessionManager(store, cfg.PatronCacheTTL)
	credentials, err := db.NewCredentialRepository(pool, cfg.JWTSigningKey)
	if err != nil {
		logger.Error("failed to build credential store", "err", err)
		os.Exit(1)
	}

	jwtManager := auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey)
	authService := auth.NewService(registry, sessions, credentials, jwtManager, cfg.SessionTTL)
	cookieCfg := auth.CookieConfig{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure}

	hub := ws.NewHub()
	transactionRepo := postgresrepo.NewTransactionRepository(pool)
	paymentService := payment.NewService(transactionRepo, registry, sessions, credentials, ws.NewStatusPublisher(hub), logger)

	r := server.NewRouter(cfg, logger, server.Dependencies{
		Pinger:            pool,
		AuthHandler:       handlers.NewAuthHandler(authService, cookieCfg, cfg.SessionTTL),
		FinesHandler:      handlers.NewFinesHandler(registry, sessions, credentials),
		PaymentHandler:    handlers.NewPaymentHandler(paymentService, gateway.NewVerifier(cfg.GatewaySecret)),
		SettlementHandler: handlers.NewSettlementHandler(settlement.NewService(transactionRepo), cfg.MaxUploadBytes),
		WSHandler:         ws.NewHandler(hub),
		JWTManager:        jwtManager,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api server starting", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api server stopped")
}

package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/auth"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/config"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/http/handlers"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/http/middleware"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/version"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ws"
)

type Dependencies struct {
	Pinger            handlers.Pinger
	AuthHandler       *handlers.AuthHandler
	FinesHandler      *handlers.FinesHandler
	PaymentHandler    *handlers.PaymentHandler
	SettlementHandler *handlers.SettlementHandler
	WSHandler         *ws.Handler
	JWTManager        *auth.JWTManager
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Dependencies) *gin.Engine {
	if cfg.Env == "prod" || cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestBodyLimit(cfg.MaxUploadBytes))
	r.Use(func(c *gin.Context) {
		logger.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Next()
	})

	health := handlers.NewHealthHandler(deps.Pinger)
	meta := handlers.NewMetaHandler(cfg.Env, version.Version)

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/v1/meta", meta.GetMeta)

	if deps.AuthHandler != nil && deps.JWTManager != nil {
		r.GET("/v1/login-targets", deps.AuthHandler.LoginTargets)

		authGroup := r.Group("/v1/auth")
		authGroup.POST("/login", deps.AuthHandler.Login)
		authGroup.POST("/logout", deps.AuthHandler.Logout)

		protected := authGroup.Group("")
		protected.Use(middleware.RequireSession(deps.JWTManager))
		protected.GET("/me", deps.AuthHandler.Me)

		if deps.FinesHandler != nil {
			finesGroup := r.Group("/v1")
			finesGroup.Use(middleware.RequireSession(deps.JWTManager))
			finesGroup.GET("/fines", deps.FinesHandler.ListFines)
			finesGroup.GET("/fines/payable", deps.FinesHandler.PaymentDetails)
			finesGroup.GET("/holds/shelf", deps.FinesHandler.HoldShelf)
		}

		if deps.PaymentHandler != nil {
			// The notify webhook authenticates with its signature, not a
			// session.
			r.POST("/v1/payments/notify", deps.PaymentHandler.Notify)

			paymentGroup := r.Group("/v1/payments")
			paymentGroup.Use(middleware.RequireSession(deps.JWTManager))
			paymentGroup.POST("/:transactionId/register", deps.PaymentHandler.Register)
			paymentGroup.GET("/:transactionId", deps.PaymentHandler.Status)

			adminGroup := r.Group("/v1")
			adminGroup.Use(middleware.RequireAdminToken(cfg.AdminToken))
			adminGroup.POST("/payments/:transactionId/reset", deps.PaymentHandler.Reset)
			if deps.SettlementHandler != nil {
				adminGroup.POST("/settlement/report", deps.SettlementHandler.UploadReport)
			}
		}
	}

	if deps.WSHandler != nil {
		r.GET("/ws", deps.WSHandler.HandleWebSocket)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r
}

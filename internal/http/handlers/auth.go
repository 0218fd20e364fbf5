package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/auth"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/http/middleware"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils/router"
)

type AuthService interface {
	Login(ctx context.Context, source, username, password string) (*auth.Session, error)
	LoginTargets() []router.Target
}

type AuthHandler struct {
	authService AuthService
	cookieCfg   auth.CookieConfig
	sessionTTL  time.Duration
}

type loginRequest struct {
	Source   string `json:"source"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func NewAuthHandler(authService AuthService, cookieCfg auth.CookieConfig, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{authService: authService, cookieCfg: cookieCfg, sessionTTL: sessionTTL}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.authService.Login(c.Request.Context(), req.Source, req.Username, req.Password)
	if err != nil {
		if ils.IsKind(err, ils.KindTransport) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend_unavailable"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed"})
		return
	}

	auth.SetSessionCookie(c.Writer, h.cookieCfg, session.Token, h.sessionTTL)
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":         session.UserID,
			"source":     session.Source,
			"patron_id":  session.PatronID,
			"first_name": session.Patron.FirstName,
			"last_name":  session.Patron.LastName,
			"email":      session.Patron.Email,
		},
		"session": gin.H{"authenticated": true},
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	auth.ClearSessionCookie(c.Writer, h.cookieCfg)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":        claims.UserID,
			"source":    claims.Source,
			"patron_id": claims.PatronID,
		},
	})
}

func (h *AuthHandler) LoginTargets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"targets": h.authService.LoginTargets()})
}

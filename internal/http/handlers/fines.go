package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/fees"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/http/middleware"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils/router"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
)

// HoldShelfResolver is the optional driver capability for resolving
// physical shelf locations from the inventory-management service.
type HoldShelfResolver interface {
	HoldShelfLocation(ctx context.Context, location, itemID string) (string, error)
}

type BackendRegistry interface {
	Resolve(sourceID string) (*router.Backend, error)
}

type FinesHandler struct {
	registry    BackendRegistry
	sessions    *ils.SessionManager
	credentials payment.CredentialStore
}

func NewFinesHandler(registry BackendRegistry, sessions *ils.SessionManager, credentials payment.CredentialStore) *FinesHandler {
	return &FinesHandler{registry: registry, sessions: sessions, credentials: credentials}
}

// ListFines shows the patron's current fines. Display reads go through
// the caching driver; this list is never used for money decisions.
func (h *FinesHandler) ListFines(c *gin.Context) {
	backend, patron, ok := h.patron(c)
	if !ok {
		return
	}

	fines, err := backend.Driver.MyFines(c.Request.Context(), patron)
	if err != nil {
		respondBackendError(c, err)
		return
	}

	items := make([]gin.H, 0, len(fines))
	for _, f := range fines {
		items = append(items, gin.H{
			"id":            f.ID,
			"type":          f.Type,
			"description":   f.Description,
			"organization":  f.Organization,
			"amount_minor":  f.AmountMinor,
			"balance_minor": f.BalanceMinor,
			"created_at":    f.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// PaymentDetails reports whether the selected fines are payable online
// right now and for how much. This read bypasses the fines cache.
func (h *FinesHandler) PaymentDetails(c *gin.Context) {
	backend, patron, ok := h.patron(c)
	if !ok {
		return
	}

	engine, err := fees.NewEngine(backend.Inner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment_config_invalid"})
		return
	}

	details, err := engine.PaymentDetails(c.Request.Context(), patron, splitIDs(c.Query("ids")))
	if err != nil {
		respondBackendError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// HoldShelf resolves the shelf an item is waiting on, for backends
// whose driver supports the lookup.
func (h *FinesHandler) HoldShelf(c *gin.Context) {
	backend, _, ok := h.patron(c)
	if !ok {
		return
	}

	location := strings.TrimSpace(c.Query("location"))
	itemID := strings.TrimSpace(c.Query("item"))
	if location == "" || itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_location_or_item"})
		return
	}

	resolver, ok := backend.Inner.(HoldShelfResolver)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "hold_shelf_unsupported"})
		return
	}

	shelf, err := resolver.HoldShelfLocation(c.Request.Context(), location, itemID)
	if err != nil {
		respondBackendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shelf_location": shelf})
}

func (h *FinesHandler) patron(c *gin.Context) (*router.Backend, *ils.Patron, bool) {
	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, nil, false
	}

	backend, err := h.registry.Resolve(claims.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_source"})
		return nil, nil, false
	}

	username, password, err := h.credentials.PatronCredentials(c.Request.Context(), claims.UserID)
	if err != nil || username != claims.CatUsername {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, nil, false
	}

	patron, err := h.sessions.Login(c.Request.Context(), backend.Driver, username, password)
	if err != nil {
		respondBackendError(c, err)
		return nil, nil, false
	}
	return backend, patron, true
}

func respondBackendError(c *gin.Context, err error) {
	switch {
	case ils.IsKind(err, ils.KindTransport):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend_unavailable"})
	case ils.IsKind(err, ils.KindAuthentication):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend_error"})
	}
}

func splitIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

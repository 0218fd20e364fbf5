package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/gateway"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/http/middleware"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
)

type PaymentService interface {
	NotifyPaid(ctx context.Context, in payment.CreateInput) payment.Outcome
	ReconcileAndRegister(ctx context.Context, transactionID string) payment.Outcome
	Get(ctx context.Context, transactionID string) (*payment.Transaction, error)
	ResetFailed(ctx context.Context, transactionID string) (bool, error)
}

type PaymentHandler struct {
	payments PaymentService
	verifier *gateway.Verifier
}

func NewPaymentHandler(payments PaymentService, verifier *gateway.Verifier) *PaymentHandler {
	return &PaymentHandler{payments: payments, verifier: verifier}
}

// Notify is the gateway's server-to-server webhook. It may race the
// browser-driven register request for the same transaction; the state
// machine guarantees a single registration either way.
func (h *PaymentHandler) Notify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	params := url.Values{}
	for k, v := range c.Request.Form {
		params[k] = v
	}

	cb, err := h.verifier.ParseCallback(params)
	if errors.Is(err, gateway.ErrBadSignature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_signature"})
		return
	}
	if errors.Is(err, gateway.ErrNotPaid) {
		// Nothing to register; acknowledge so the gateway stops
		// retrying.
		c.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	out := h.payments.NotifyPaid(c.Request.Context(), payment.CreateInput{
		TransactionID: cb.TransactionID,
		Source:        cb.Source,
		UserID:        cb.UserID,
		CatUsername:   cb.CatUsername,
		AmountMinor:   cb.AmountMinor,
		Currency:      cb.Currency,
		FineIDs:       cb.FineIDs,
	})
	respondOutcome(c, out)
}

// Register is the synchronous browser-triggered confirmation.
func (h *PaymentHandler) Register(c *gin.Context) {
	transactionID, tx, ok := h.ownTransaction(c)
	if !ok {
		return
	}
	_ = tx

	out := h.payments.ReconcileAndRegister(c.Request.Context(), transactionID)
	respondOutcome(c, out)
}

// Status lets the browser poll while the webhook may be doing the work.
func (h *PaymentHandler) Status(c *gin.Context) {
	_, tx, ok := h.ownTransaction(c)
	if !ok {
		return
	}

	body := gin.H{
		"transaction_id": tx.TransactionID,
		"status":         tx.Status,
		"amount_minor":   tx.AmountMinor,
		"currency":       tx.Currency,
		"created_at":     tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	if tx.ErrorMessage != "" {
		body["error_message"] = tx.ErrorMessage
	}
	if tx.RegisteredAt != nil {
		body["registered_at"] = tx.RegisteredAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}

// Reset moves a failed transaction back to awaiting registration. This
// is a deliberate operator action, guarded by the admin token.
func (h *PaymentHandler) Reset(c *gin.Context) {
	transactionID := strings.TrimSpace(c.Param("transactionId"))
	if transactionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_transaction_id"})
		return
	}

	ok, err := h.payments.ResetFailed(c.Request.Context(), transactionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset_failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "not_in_failed_state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PaymentHandler) ownTransaction(c *gin.Context) (string, *payment.Transaction, bool) {
	transactionID := strings.TrimSpace(c.Param("transactionId"))
	if transactionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_transaction_id"})
		return "", nil, false
	}

	claims, ok := middleware.SessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", nil, false
	}

	tx, err := h.payments.Get(c.Request.Context(), transactionID)
	if errors.Is(err, payment.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found"})
		return "", nil, false
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try_again"})
		return "", nil, false
	}
	if tx.UserID != claims.UserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found"})
		return "", nil, false
	}
	return transactionID, tx, true
}

// respondOutcome maps state machine outcomes to the HTTP contract: an
// idempotent 200 for any successful confirmation, a distinct 202 for
// the fines-changed delay, 503 for retryable transport faults and a
// 5xx for hard failures.
func respondOutcome(c *gin.Context, out payment.Outcome) {
	switch out.Code {
	case payment.OutcomeRegistered, payment.OutcomeAlreadyRegistered, payment.OutcomeInProgress:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case payment.OutcomeDelayed:
		c.JSON(http.StatusAccepted, gin.H{"success": false, "message": out.Message})
	case payment.OutcomeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found"})
	case payment.OutcomeTransportError:
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "temporary problem, please try again"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "payment could not be processed, please try again"})
	}
}

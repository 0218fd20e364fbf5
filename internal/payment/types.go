package payment

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusAwaitingRegistration   Status = "awaiting_registration"
	StatusRegistrationInProgress Status = "registration_in_progress"
	StatusRegistered             Status = "registered"
	StatusRegistrationFailed     Status = "registration_failed"
	StatusFinesUpdated           Status = "fines_updated"
)

var ErrNotFound = errors.New("payment transaction not found")

// Transaction is the unit the payment gateway and the ILS must agree
// on. Rows are never deleted; terminal transactions remain as an audit
// trail.
type Transaction struct {
	TransactionID string
	Source        string
	UserID        string
	CatUsername   string
	AmountMinor   int64
	Currency      string
	Status        Status
	ErrorMessage  string
	FineIDs       []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RegisteredAt  *time.Time
}

type CreateInput struct {
	TransactionID string
	Source        string
	UserID        string
	CatUsername   string
	AmountMinor   int64
	Currency      string
	FineIDs       []string
}

// Repository persists transactions. Status transitions are conditional
// updates: a transition reports false when the row was not in the
// required prior state, which is what makes concurrent confirmations
// safe.
type Repository interface {
	CreateIfAbsent(ctx context.Context, in CreateInput) (*Transaction, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)
	// BeginRegistration moves awaiting_registration to
	// registration_in_progress. Exactly one of N racing callers wins.
	BeginRegistration(ctx context.Context, transactionID string) (bool, error)
	// ReleaseRegistration moves registration_in_progress back to
	// awaiting_registration. Used only when nothing was written to the
	// backend, so a later attempt stays safe.
	ReleaseRegistration(ctx context.Context, transactionID string) error
	MarkRegistered(ctx context.Context, transactionID string) error
	MarkFailed(ctx context.Context, transactionID, message string) error
	MarkFinesUpdated(ctx context.Context, transactionID string) error
	// ResetFailed is the deliberate administrative reset from
	// registration_failed back to awaiting_registration.
	ResetFailed(ctx context.Context, transactionID string) (bool, error)
	ListAwaitingOlderThan(ctx context.Context, age time.Duration, limit int32) ([]Transaction, error)
}

// CredentialStore resolves the patron credential pair recorded for a
// web user at login time, so registration can re-login to the backend.
type CredentialStore interface {
	PatronCredentials(ctx context.Context, userID string) (catUsername, catPassword string, err error)
}

// StatusPublisher pushes status changes to anyone watching the
// transaction, e.g. a browser waiting on the confirmation page.
type StatusPublisher interface {
	PublishStatus(transactionID string, status Status, message string)
}

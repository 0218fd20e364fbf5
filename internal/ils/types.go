package ils

import (
	"context"
	"time"
)

// Patron is an authenticated backend session. The credential pair is
// kept so patron-scoped calls can re-login when the session expires.
type Patron struct {
	ID          string
	Source      string
	CatUsername string
	CatPassword string
	FirstName   string
	LastName    string
	Email       string
}

// Fine is a single debt line as reported by a backend. Balance is
// always minor units and always comes from the backend, never from
// client input.
type Fine struct {
	ID           string
	Type         string
	Description  string
	Organization string
	AmountMinor  int64
	BalanceMinor int64
	CreatedAt    time.Time
	// PayableRef is the backend-specific reference (e.g. invoice
	// number) needed to apply a payment to this fine.
	PayableRef string
}

// PaymentPolicy is the backend's online-payment configuration.
type PaymentPolicy struct {
	ExactBalanceRequired bool
	CreditUnsupported    bool
	MinimumFeeMinor      int64
	TransactionFeeMinor  int64
	PayableTypes         []string
	PayablePatterns      []string
	// MinimumPayableDate excludes fines created before it. Zero value
	// disables the age policy.
	MinimumPayableDate time.Time
}

// Driver is the capability interface every backend implements. New
// backends are added by implementing this interface, not by branching
// on type strings.
type Driver interface {
	SupportsLogin() bool
	Login(ctx context.Context, username, password string) (*Patron, error)
	MyFines(ctx context.Context, patron *Patron) ([]Fine, error)
	MarkFeesPaid(ctx context.Context, patron *Patron, amountMinor int64, transactionID, internalNumber string, fineIDs []string) error
	UpdateProfile(ctx context.Context, patron *Patron, fields map[string]string) error
	PaymentPolicy() PaymentPolicy
}

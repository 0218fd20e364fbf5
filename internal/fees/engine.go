package fees

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
)

const (
	ReasonMinimumFee     = "minimum_fee"
	ReasonNoPayableFines = "no_payable_fines"
)

// ErrNoPayableFines means a payment application found nothing to
// allocate to. The call fails closed: no backend write happens.
var ErrNoPayableFines = errors.New("no payable fines matched the selection")

// Details is the aggregate payability decision for a fine selection.
type Details struct {
	Payable     bool     `json:"payable"`
	AmountMinor int64    `json:"amount_minor"`
	Reason      string   `json:"reason,omitempty"`
	FineIDs     []string `json:"fine_ids,omitempty"`
}

// Engine decides, authoritatively and just-in-time, which fees are
// currently payable and for how much. It must be constructed with an
// undecorated driver: money decisions never read cached fines.
type Engine struct {
	driver   ils.Driver
	policy   ils.PaymentPolicy
	patterns []*regexp.Regexp
	now      func() time.Time
}

func NewEngine(driver ils.Driver) (*Engine, error) {
	policy := driver.PaymentPolicy()
	patterns := make([]*regexp.Regexp, 0, len(policy.PayablePatterns))
	for _, p := range policy.PayablePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, ils.ConfigurationError(fmt.Sprintf("invalid payable pattern %q: %v", p, err))
		}
		patterns = append(patterns, re)
	}
	return &Engine{
		driver:   driver,
		policy:   policy,
		patterns: patterns,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// PayableFines re-fetches the patron's fines from the backend and
// returns the ones eligible for online settlement, in backend order.
func (e *Engine) PayableFines(ctx context.Context, patron *ils.Patron) ([]ils.Fine, error) {
	fines, err := e.driver.MyFines(ctx, patron)
	if err != nil {
		return nil, err
	}

	payable := make([]ils.Fine, 0, len(fines))
	for _, f := range fines {
		if e.payable(f) {
			payable = append(payable, f)
		}
	}
	return payable, nil
}

func (e *Engine) payable(f ils.Fine) bool {
	if f.BalanceMinor <= 0 {
		return false
	}
	if !e.policy.MinimumPayableDate.IsZero() && f.CreatedAt.Before(e.policy.MinimumPayableDate) {
		return false
	}
	for _, t := range e.policy.PayableTypes {
		if f.Type == t {
			return true
		}
	}
	for _, re := range e.patterns {
		if re.MatchString(f.Description) {
			return true
		}
	}
	return false
}

// PaymentDetails sums the balances of the selected payable fines (all
// payable fines when the selection is empty), adds the flat transaction
// fee when the sum is non-zero, and compares against the minimum-fee
// threshold.
func (e *Engine) PaymentDetails(ctx context.Context, patron *ils.Patron, selectedIDs []string) (*Details, error) {
	payable, err := e.PayableFines(ctx, patron)
	if err != nil {
		return nil, err
	}

	chosen := selectFines(payable, selectedIDs)
	var sum int64
	ids := make([]string, 0, len(chosen))
	for _, f := range chosen {
		sum += f.BalanceMinor
		ids = append(ids, f.ID)
	}

	if sum == 0 {
		return &Details{Payable: false, Reason: ReasonNoPayableFines}, nil
	}

	total := sum + e.policy.TransactionFeeMinor
	if total < e.policy.MinimumFeeMinor {
		return &Details{Payable: false, AmountMinor: total, Reason: ReasonMinimumFee, FineIDs: ids}, nil
	}
	return &Details{Payable: true, AmountMinor: total, FineIDs: ids}, nil
}

// CheckBalance re-runs the payability computation at confirmation time
// and compares it with the amount actually charged at the gateway. A
// mismatch under an exact-balance or no-credit policy means the fee
// total changed between pay and confirm; that is a consistency error,
// not a failure.
func (e *Engine) CheckBalance(ctx context.Context, patron *ils.Patron, chargedMinor int64, selectedIDs []string) error {
	if !e.policy.ExactBalanceRequired && !e.policy.CreditUnsupported {
		return nil
	}

	details, err := e.PaymentDetails(ctx, patron, selectedIDs)
	if err != nil {
		return err
	}

	if e.policy.ExactBalanceRequired && details.AmountMinor != chargedMinor {
		return ils.ConsistencyError(fmt.Sprintf("payable amount %d no longer matches charged amount %d", details.AmountMinor, chargedMinor))
	}
	if e.policy.CreditUnsupported && chargedMinor > details.AmountMinor {
		return ils.ConsistencyError(fmt.Sprintf("charged amount %d exceeds payable amount %d and credit is unsupported", chargedMinor, details.AmountMinor))
	}
	return nil
}

// ApplyPayment walks the payable fines in backend order and allocates
// min(remaining, balance) to each fine in the selection, then submits
// one write to the backend. The flat transaction fee is not allocated
// to any fine. Fails closed when nothing can be allocated.
func (e *Engine) ApplyPayment(ctx context.Context, patron *ils.Patron, chargedMinor int64, transactionID, internalNumber string, selectedIDs []string) error {
	payable, err := e.PayableFines(ctx, patron)
	if err != nil {
		return err
	}

	remaining := chargedMinor - e.policy.TransactionFeeMinor
	if remaining < 0 {
		remaining = 0
	}

	var allocated int64
	ids := make([]string, 0, len(payable))
	for _, f := range selectFines(payable, selectedIDs) {
		if remaining <= 0 {
			break
		}
		share := f.BalanceMinor
		if share > remaining {
			share = remaining
		}
		allocated += share
		remaining -= share
		ids = append(ids, f.ID)
	}

	if allocated == 0 {
		return ErrNoPayableFines
	}

	return e.driver.MarkFeesPaid(ctx, patron, allocated, transactionID, internalNumber, ids)
}

// selectFines keeps the fines named by the selection, or all of them
// when no selection was given. Backend order is preserved so the
// allocation walk is stable.
func selectFines(fines []ils.Fine, selectedIDs []string) []ils.Fine {
	if len(selectedIDs) == 0 {
		return fines
	}
	wanted := make(map[string]struct{}, len(selectedIDs))
	for _, id := range selectedIDs {
		wanted[id] = struct{}{}
	}
	out := make([]ils.Fine, 0, len(fines))
	for _, f := range fines {
		if _, ok := wanted[f.ID]; ok {
			out = append(out, f)
		}
	}
	return out
}

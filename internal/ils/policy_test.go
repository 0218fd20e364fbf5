package ils

import (
	"testing"
	"time"
)

func TestParsePaymentPolicy(t *testing.T) {
	p := ParsePaymentPolicy(map[string]string{
		"exact_balance_required": "true",
		"credit_unsupported":     "1",
		"minimum_fee_minor":      "65",
		"transaction_fee_minor":  "50",
		"payable_types":          "OVERDUE, LOST",
		"payable_patterns":       "(?i)replacement; ^invoice",
		"minimum_payable_date":   "2024-06-01",
	})

	if !p.ExactBalanceRequired || !p.CreditUnsupported {
		t.Fatalf("expected both balance policies enabled: %+v", p)
	}
	if p.MinimumFeeMinor != 65 || p.TransactionFeeMinor != 50 {
		t.Fatalf("unexpected fee config: %+v", p)
	}
	if len(p.PayableTypes) != 2 || p.PayableTypes[0] != "OVERDUE" || p.PayableTypes[1] != "LOST" {
		t.Fatalf("unexpected payable types: %+v", p.PayableTypes)
	}
	if len(p.PayablePatterns) != 2 || p.PayablePatterns[1] != "^invoice" {
		t.Fatalf("unexpected payable patterns: %+v", p.PayablePatterns)
	}
	want := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if !p.MinimumPayableDate.Equal(want) {
		t.Fatalf("unexpected minimum payable date: %v", p.MinimumPayableDate)
	}
}

func TestParsePaymentPolicyDefaultsSafe(t *testing.T) {
	p := ParsePaymentPolicy(map[string]string{
		"minimum_fee_minor":    "not-a-number",
		"minimum_payable_date": "yesterday",
	})
	if p.ExactBalanceRequired || p.CreditUnsupported {
		t.Fatalf("policies must default off: %+v", p)
	}
	if p.MinimumFeeMinor != 0 || !p.MinimumPayableDate.IsZero() {
		t.Fatalf("malformed values must fall back: %+v", p)
	}
	if len(p.PayableTypes) != 0 || len(p.PayablePatterns) != 0 {
		t.Fatalf("expected empty lists: %+v", p)
	}
}

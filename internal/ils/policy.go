package ils

import (
	"strconv"
	"strings"
	"time"
)

// ParsePaymentPolicy reads the onlinePayment section of a backend's
// resolved config. Unknown or malformed values fall back to the safe
// default (payment disabled rather than mispriced).
func ParsePaymentPolicy(cfg map[string]string) PaymentPolicy {
	p := PaymentPolicy{
		ExactBalanceRequired: parseBool(cfg["exact_balance_required"]),
		CreditUnsupported:    parseBool(cfg["credit_unsupported"]),
		MinimumFeeMinor:      parseInt64(cfg["minimum_fee_minor"]),
		TransactionFeeMinor:  parseInt64(cfg["transaction_fee_minor"]),
	}

	if v := strings.TrimSpace(cfg["payable_types"]); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.PayableTypes = append(p.PayableTypes, t)
			}
		}
	}
	if v := strings.TrimSpace(cfg["payable_patterns"]); v != "" {
		for _, pat := range strings.Split(v, ";") {
			if pat = strings.TrimSpace(pat); pat != "" {
				p.PayablePatterns = append(p.PayablePatterns, pat)
			}
		}
	}
	if v := strings.TrimSpace(cfg["minimum_payable_date"]); v != "" {
		if d, err := time.Parse("2006-01-02", v); err == nil {
			p.MinimumPayableDate = d
		}
	}
	return p
}

func parseBool(v string) bool {
	n := strings.ToLower(strings.TrimSpace(v))
	return n == "1" || n == "true" || n == "yes"
}

func parseInt64(v string) int64 {
	out, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return out
}

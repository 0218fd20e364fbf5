package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const StatusPaid = "paid"

var (
	ErrBadSignature = errors.New("gateway callback signature mismatch")
	ErrNotPaid      = errors.New("gateway callback does not report a successful charge")
)

// Callback carries the gateway's report of a completed charge. Both
// the notify webhook and the browser return leg use the same shape.
type Callback struct {
	TransactionID string
	Source        string
	UserID        string
	CatUsername   string
	AmountMinor   int64
	Currency      string
	Status        string
	FineIDs       []string
}

// Verifier checks the HMAC-SHA256 signature the gateway computes over
// the canonical parameter string. Nothing downstream of a failed
// verification runs.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) ParseCallback(params url.Values) (*Callback, error) {
	signature := strings.TrimSpace(params.Get("signature"))
	if signature == "" {
		return nil, ErrBadSignature
	}
	if !hmac.Equal([]byte(v.Sign(params)), []byte(signature)) {
		return nil, ErrBadSignature
	}

	cb := &Callback{
		TransactionID: strings.TrimSpace(params.Get("transaction_id")),
		Source:        strings.TrimSpace(params.Get("source")),
		UserID:        strings.TrimSpace(params.Get("user_id")),
		CatUsername:   strings.TrimSpace(params.Get("cat_username")),
		Currency:      strings.TrimSpace(params.Get("currency")),
		Status:        strings.ToLower(strings.TrimSpace(params.Get("status"))),
	}
	if cb.TransactionID == "" {
		return nil, errors.New("gateway callback missing transaction_id")
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(params.Get("amount_minor")), 10, 64)
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("gateway callback has invalid amount_minor")
	}
	cb.AmountMinor = amount

	if raw := strings.TrimSpace(params.Get("fine_ids")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cb.FineIDs = append(cb.FineIDs, id)
			}
		}
	}

	if cb.Status != StatusPaid {
		return cb, ErrNotPaid
	}
	return cb, nil
}

// Sign computes the signature over every parameter except the
// signature itself, joined as sorted k=v pairs.
func (v *Verifier) Sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := strings.Builder{}
	for i, k := range keys {
		if i > 0 {
			b.WriteString("&")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params.Get(k))
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

package sierra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/extsvc"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
)

// Driver speaks the Sierra REST API. Tokens come from the /token
// endpoint with basic-auth client credentials. When the backend config
// carries a hold-shelf service section, item shelf locations are
// resolved from that separate service.
type Driver struct {
	source       string
	baseURL      string
	clientKey    string
	clientSecret string
	loginEnabled bool
	policy       ils.PaymentPolicy
	httpClient   *http.Client
	tokens       *extsvc.TokenClient
	holdShelf    *extsvc.HoldShelfClient
}

func New(source string, cfg map[string]string, store cache.Store, tokenTTL, callTimeout time.Duration) (*Driver, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg["url"]), "/")
	if baseURL == "" {
		return nil, ils.ConfigurationError("sierra: missing url for source " + source)
	}
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}

	d := &Driver{
		source:       source,
		baseURL:      baseURL,
		clientKey:    strings.TrimSpace(cfg["client_key"]),
		clientSecret: cfg["client_secret"],
		loginEnabled: strings.TrimSpace(cfg["login"]) != "false",
		policy:       ils.ParsePaymentPolicy(cfg),
		httpClient:   &http.Client{Timeout: callTimeout},
	}
	d.tokens = extsvc.NewTokenClient(store, extsvc.AuthenticatorFunc(d.authenticate), cfg, tokenTTL)

	if shelfURL := strings.TrimSpace(cfg["holdshelf_url"]); shelfURL != "" {
		shelfCfg := map[string]string{
			"url":           shelfURL,
			"client_id":     cfg["holdshelf_client_id"],
			"client_secret": cfg["holdshelf_client_secret"],
		}
		shelf, err := extsvc.NewHoldShelfClient(shelfCfg, store, tokenTTL, 10*time.Minute)
		if err != nil {
			return nil, ils.ConfigurationError("sierra: " + err.Error())
		}
		d.holdShelf = shelf
	}
	return d, nil
}

func (d *Driver) SupportsLogin() bool {
	return d.loginEnabled
}

func (d *Driver) PaymentPolicy() ils.PaymentPolicy {
	return d.policy
}

func (d *Driver) Login(ctx context.Context, username, password string) (*ils.Patron, error) {
	body := map[string]string{"barcode": username, "pin": password}

	var out struct {
		ID     json.Number `json:"id"`
		Names  []string    `json:"names"`
		Emails []string    `json:"emails"`
	}
	status, err := d.request(ctx, http.MethodPost, "/patrons/validate", body, &out)
	if err != nil {
		return nil, err
	}
	// Sierra reports an invalid barcode/pin pair with 400 or 422; a 401
	// would mean our own service token was rejected and is handled in
	// request.
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return nil, ils.AuthenticationError("sierra: invalid patron credentials")
	}
	if status >= 300 {
		return nil, ils.BackendRejection(fmt.Sprintf("sierra: login failed with status %d", status))
	}

	patron := &ils.Patron{
		ID:          out.ID.String(),
		Source:      d.source,
		CatUsername: username,
		CatPassword: password,
	}
	if len(out.Names) > 0 {
		// Sierra formats names as "Surname, Firstname".
		parts := strings.SplitN(out.Names[0], ",", 2)
		patron.LastName = strings.TrimSpace(parts[0])
		if len(parts) > 1 {
			patron.FirstName = strings.TrimSpace(parts[1])
		}
	}
	if len(out.Emails) > 0 {
		patron.Email = out.Emails[0]
	}
	return patron, nil
}

func (d *Driver) MyFines(ctx context.Context, patron *ils.Patron) ([]ils.Fine, error) {
	var out struct {
		Entries []struct {
			ID         json.Number `json:"id"`
			ChargeType struct {
				Code string `json:"code"`
			} `json:"chargeType"`
			Description string      `json:"description"`
			ItemCharge  json.Number `json:"itemCharge"`
			Outstanding json.Number `json:"outstandingAmount"`
			AssessedAt  string      `json:"assessedDate"`
			Location    string      `json:"location"`
			InvoiceNum  json.Number `json:"invoiceNumber"`
		} `json:"entries"`
	}
	status, err := d.request(ctx, http.MethodGet, "/patrons/"+url.PathEscape(patron.ID)+"/fines", nil, &out)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, ils.BackendRejection(fmt.Sprintf("sierra: fines fetch failed with status %d", status))
	}

	fines := make([]ils.Fine, 0, len(out.Entries))
	for _, e := range out.Entries {
		created, _ := time.Parse(time.RFC3339, e.AssessedAt)
		fines = append(fines, ils.Fine{
			ID:           e.ID.String(),
			Type:         e.ChargeType.Code,
			Description:  e.Description,
			Organization: e.Location,
			AmountMinor:  toMinor(e.ItemCharge),
			BalanceMinor: toMinor(e.Outstanding),
			CreatedAt:    created,
			PayableRef:   e.InvoiceNum.String(),
		})
	}
	return fines, nil
}

func (d *Driver) MarkFeesPaid(ctx context.Context, patron *ils.Patron, amountMinor int64, transactionID, internalNumber string, fineIDs []string) error {
	payments := make([]map[string]any, 0, len(fineIDs))
	for _, id := range fineIDs {
		payments = append(payments, map[string]any{"fineId": id})
	}
	body := map[string]any{
		"amount":    float64(amountMinor) / 100,
		"payType":   "online",
		"reference": fmt.Sprintf("%s/%s", transactionID, internalNumber),
		"payments":  payments,
	}
	status, err := d.request(ctx, http.MethodPut, "/patrons/"+url.PathEscape(patron.ID)+"/fines/payment", body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return ils.BackendRejection(fmt.Sprintf("sierra: fine payment rejected with status %d", status))
	}
	return nil
}

func (d *Driver) UpdateProfile(ctx context.Context, patron *ils.Patron, fields map[string]string) error {
	status, err := d.request(ctx, http.MethodPut, "/patrons/"+url.PathEscape(patron.ID), fields, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return ils.BackendRejection(fmt.Sprintf("sierra: profile update rejected with status %d", status))
	}
	return nil
}

// HoldShelfLocation resolves the physical shelf an item waits on. Only
// available when the backend config declares the hold-shelf service.
func (d *Driver) HoldShelfLocation(ctx context.Context, location, itemID string) (string, error) {
	if d.holdShelf == nil {
		return "", ils.ConfigurationError("sierra: hold shelf service not configured for source " + d.source)
	}
	shelf, err := d.holdShelf.Location(ctx, location, itemID)
	if err != nil {
		return "", ils.TransportError("sierra: hold shelf lookup failed", err)
	}
	return shelf, nil
}

func (d *Driver) request(ctx context.Context, method, path string, body any, out any) (int, error) {
	var status int
	err := d.tokens.Call(ctx, func(ctx context.Context, token string) error {
		var reqBody *bytes.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reqBody = bytes.NewReader(raw)
		} else {
			reqBody = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return ils.TransportError("sierra: request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return extsvc.ErrInvalidToken
		}

		status = resp.StatusCode
		if out != nil && resp.StatusCode < 300 {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return ils.TransportError("sierra: invalid response body", err)
			}
		}
		return nil
	})
	return status, err
}

func (d *Driver) authenticate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.clientKey, d.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", ils.TransportError("sierra: token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", ils.BackendRejection(fmt.Sprintf("sierra: token request rejected with status %d", resp.StatusCode))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", ils.TransportError("sierra: invalid token response", err)
	}
	if payload.AccessToken == "" {
		return "", ils.BackendRejection("sierra: empty access token")
	}
	return payload.AccessToken, nil
}

func toMinor(n json.Number) int64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 100))
}

package koha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/extsvc"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
)

// Driver speaks the Koha REST API. All API calls require an OAuth-style
// bearer token obtained with client credentials; token expiry is
// handled by the shared resilient token client.
type Driver struct {
	source       string
	baseURL      string
	clientID     string
	clientSecret string
	loginEnabled bool
	policy       ils.PaymentPolicy
	httpClient   *http.Client
	tokens       *extsvc.TokenClient
}

func New(source string, cfg map[string]string, store cache.Store, tokenTTL, callTimeout time.Duration) (*Driver, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg["url"]), "/")
	if baseURL == "" {
		return nil, ils.ConfigurationError("koha: missing url for source " + source)
	}
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}

	d := &Driver{
		source:       source,
		baseURL:      baseURL,
		clientID:     strings.TrimSpace(cfg["client_id"]),
		clientSecret: cfg["client_secret"],
		loginEnabled: strings.TrimSpace(cfg["login"]) != "false",
		policy:       ils.ParsePaymentPolicy(cfg),
		httpClient:   &http.Client{Timeout: callTimeout},
	}
	d.tokens = extsvc.NewTokenClient(store, extsvc.AuthenticatorFunc(d.authenticate), cfg, tokenTTL)
	return d, nil
}

func (d *Driver) SupportsLogin() bool {
	return d.loginEnabled
}

func (d *Driver) PaymentPolicy() ils.PaymentPolicy {
	return d.policy
}

func (d *Driver) Login(ctx context.Context, username, password string) (*ils.Patron, error) {
	body := map[string]string{"cardnumber": username, "password": password}

	var out struct {
		PatronID  json.Number `json:"patron_id"`
		Firstname string      `json:"firstname"`
		Surname   string      `json:"surname"`
		Email     string      `json:"email"`
	}
	status, err := d.request(ctx, http.MethodPost, "/v1/auth/patrons/validation", nil, body, &out)
	if err != nil {
		return nil, err
	}
	// Koha reports an invalid credential pair with 400; a 401 would mean
	// our own service token was rejected and is handled in request.
	if status == http.StatusBadRequest {
		return nil, ils.AuthenticationError("koha: invalid patron credentials")
	}
	if status >= 300 {
		return nil, ils.BackendRejection(fmt.Sprintf("koha: login failed with status %d", status))
	}

	return &ils.Patron{
		ID:          out.PatronID.String(),
		Source:      d.source,
		CatUsername: username,
		CatPassword: password,
		FirstName:   out.Firstname,
		LastName:    out.Surname,
		Email:       out.Email,
	}, nil
}

func (d *Driver) MyFines(ctx context.Context, patron *ils.Patron) ([]ils.Fine, error) {
	var out struct {
		OutstandingDebits struct {
			Lines []struct {
				AccountLineID json.Number `json:"accountline_id"`
				DebitType     string      `json:"debit_type"`
				Description   string      `json:"description"`
				Amount        json.Number `json:"amount"`
				Outstanding   json.Number `json:"amount_outstanding"`
				Date          string      `json:"date"`
				LibraryID     string      `json:"library_id"`
			} `json:"lines"`
		} `json:"outstanding_debits"`
	}
	status, err := d.request(ctx, http.MethodGet, "/v1/patrons/"+url.PathEscape(patron.ID)+"/account", nil, nil, &out)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, ils.BackendRejection(fmt.Sprintf("koha: account fetch failed with status %d", status))
	}

	fines := make([]ils.Fine, 0, len(out.OutstandingDebits.Lines))
	for _, line := range out.OutstandingDebits.Lines {
		created, _ := time.Parse("2006-01-02", line.Date)
		fines = append(fines, ils.Fine{
			ID:           line.AccountLineID.String(),
			Type:         line.DebitType,
			Description:  line.Description,
			Organization: line.LibraryID,
			AmountMinor:  toMinor(line.Amount),
			BalanceMinor: toMinor(line.Outstanding),
			CreatedAt:    created,
			PayableRef:   line.AccountLineID.String(),
		})
	}
	return fines, nil
}

func (d *Driver) MarkFeesPaid(ctx context.Context, patron *ils.Patron, amountMinor int64, transactionID, internalNumber string, fineIDs []string) error {
	body := map[string]any{
		"amount":            float64(amountMinor) / 100,
		"payment_type":      "online",
		"note":              fmt.Sprintf("online payment %s/%s", transactionID, internalNumber),
		"account_lines_ids": fineIDs,
	}
	var out json.RawMessage
	status, err := d.request(ctx, http.MethodPost, "/v1/patrons/"+url.PathEscape(patron.ID)+"/account/credits", nil, body, &out)
	if err != nil {
		return err
	}
	if status >= 300 {
		return ils.BackendRejection(fmt.Sprintf("koha: payment credit rejected with status %d", status))
	}
	return nil
}

func (d *Driver) UpdateProfile(ctx context.Context, patron *ils.Patron, fields map[string]string) error {
	status, err := d.request(ctx, http.MethodPut, "/v1/patrons/"+url.PathEscape(patron.ID), nil, fields, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return ils.BackendRejection(fmt.Sprintf("koha: profile update rejected with status %d", status))
	}
	return nil
}

// request performs one token-guarded API call. Network failures come
// back as transport errors; a 401 from the API triggers the token
// client's single re-authentication.
func (d *Driver) request(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	var status int
	err := d.tokens.Call(ctx, func(ctx context.Context, token string) error {
		endpoint := d.baseURL + path
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}

		var reqBody io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reqBody = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return ils.TransportError("koha: request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return extsvc.ErrInvalidToken
		}

		status = resp.StatusCode
		if out != nil && resp.StatusCode < 300 {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return ils.TransportError("koha: invalid response body", err)
			}
		}
		return nil
	})
	return status, err
}

func (d *Driver) authenticate(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {d.clientID},
		"client_secret": {d.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", ils.TransportError("koha: token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", ils.BackendRejection(fmt.Sprintf("koha: token request rejected with status %d", resp.StatusCode))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", ils.TransportError("koha: invalid token response", err)
	}
	if payload.AccessToken == "" {
		return "", ils.BackendRejection("koha: empty access token")
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

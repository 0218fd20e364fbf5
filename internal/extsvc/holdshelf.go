package extsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
)

// HoldShelfClient resolves the physical hold-shelf location of an item
// from a separate inventory-management service. The service issues
// expiring tokens, so all calls go through the TokenClient.
type HoldShelfClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokens       *TokenClient
	store        cache.Store
	cacheTTL     time.Duration
}

func NewHoldShelfClient(serviceConfig map[string]string, store cache.Store, tokenTTL, cacheTTL time.Duration) (*HoldShelfClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(serviceConfig["url"]), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing hold shelf service url")
	}

	c := &HoldShelfClient{
		baseURL:      baseURL,
		clientID:     strings.TrimSpace(serviceConfig["client_id"]),
		clientSecret: serviceConfig["client_secret"],
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		store:        store,
		cacheTTL:     cacheTTL,
	}
	c.tokens = NewTokenClient(store, AuthenticatorFunc(c.authenticate), serviceConfig, tokenTTL)
	return c, nil
}

func (c *HoldShelfClient) Location(ctx context.Context, location, itemID string) (string, error) {
	key := cache.HoldShelfKey(location, itemID)
	if v, ok := c.store.Get(key); ok {
		if shelf, ok := v.(string); ok {
			return shelf, nil
		}
	}

	var shelf string
	err := c.tokens.Call(ctx, func(ctx context.Context, token string) error {
		q := url.Values{"location": {location}, "item": {itemID}}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/shelf-locations?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			return ErrInvalidToken
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("shelf lookup failed: %d", resp.StatusCode)
		}

		var payload struct {
			ShelfLocation string `json:"shelf_location"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return err
		}
		shelf = payload.ShelfLocation
		return nil
	})
	if err != nil {
		return "", err
	}

	if shelf != "" {
		c.store.Put(key, shelf, c.cacheTTL)
	}
	return shelf, nil
}

func (c *HoldShelfClient) authenticate(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("hold shelf auth failed: %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("hold shelf auth returned empty token")
	}
	return payload.AccessToken, nil
}

package extsvc

import (
	"context"
	"errors"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
)

// ErrInvalidToken is the fault a call func must return when the remote
// service rejected the token specifically. Any other error is terminal.
var ErrInvalidToken = errors.New("invalid or expired token")

type Authenticator interface {
	Authenticate(ctx context.Context) (string, error)
}

type AuthenticatorFunc func(ctx context.Context) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context) (string, error) {
	return f(ctx)
}

// TokenClient performs remote calls that require a previously obtained
// token. The token is cached per service configuration; on an
// invalid-token fault the client re-authenticates once and retries the
// call exactly once more.
type TokenClient struct {
	store cache.Store
	auth  Authenticator
	key   string
	ttl   time.Duration
}

func NewTokenClient(store cache.Store, auth Authenticator, serviceConfig map[string]string, ttl time.Duration) *TokenClient {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenClient{
		store: store,
		auth:  auth,
		key:   cache.TokenKey(serviceConfig),
		ttl:   ttl,
	}
}

func (c *TokenClient) Call(ctx context.Context, call func(ctx context.Context, token string) error) error {
	token, err := c.token(ctx, false)
	if err != nil {
		return err
	}

	err = call(ctx, token)
	if !errors.Is(err, ErrInvalidToken) {
		return err
	}

	token, err = c.token(ctx, true)
	if err != nil {
		return err
	}
	return call(ctx, token)
}

func (c *TokenClient) token(ctx context.Context, force bool) (string, error) {
	if !force {
		if v, ok := c.store.Get(c.key); ok {
			if token, ok := v.(string); ok && token != "" {
				return token, nil
			}
		}
	}

	token, err := c.auth.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.store.Put(c.key, token, c.ttl)
	return token, nil
}

package ils

import (
	"context"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
)

// SessionManager caches patron sessions keyed by the credential pair.
// Any patron-mutating operation must invalidate the entry.
type SessionManager struct {
	store cache.Store
	ttl   time.Duration
}

func NewSessionManager(store cache.Store, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SessionManager{store: store, ttl: ttl}
}

func (m *SessionManager) Login(ctx context.Context, driver Driver, username, password string) (*Patron, error) {
	key := cache.PatronKey(username, password)
	if v, ok := m.store.Get(key); ok {
		if patron, ok := v.(*Patron); ok {
			return patron, nil
		}
	}

	patron, err := driver.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if patron == nil {
		return nil, AuthenticationError("invalid credentials")
	}

	m.store.Put(key, patron, m.ttl)
	return patron, nil
}

func (m *SessionManager) Invalidate(username, password string) {
	m.store.Invalidate(cache.PatronKey(username, password))
}

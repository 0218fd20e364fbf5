package ils

import (
	"context"
	"net/url"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
)

// CachingDriver wraps a Driver and applies the TTL discipline to read
// paths. Writes pass through and invalidate what they may have changed.
// Money decisions must not read through this wrapper; the
// reconciliation engine is handed the inner driver.
type CachingDriver struct {
	inner  Driver
	source string
	store  cache.Store
	ttl    time.Duration
}

func NewCachingDriver(inner Driver, source string, store cache.Store, ttl time.Duration) *CachingDriver {
	return &CachingDriver{inner: inner, source: source, store: store, ttl: ttl}
}

// Inner returns the undecorated driver for callers that must see
// current backend state.
func (d *CachingDriver) Inner() Driver {
	return d.inner
}

func (d *CachingDriver) SupportsLogin() bool {
	return d.inner.SupportsLogin()
}

func (d *CachingDriver) Login(ctx context.Context, username, password string) (*Patron, error) {
	return d.inner.Login(ctx, username, password)
}

func (d *CachingDriver) MyFines(ctx context.Context, patron *Patron) ([]Fine, error) {
	key := d.finesKey(patron)
	if v, ok := d.store.Get(key); ok {
		if fines, ok := v.([]Fine); ok {
			return fines, nil
		}
	}

	fines, err := d.inner.MyFines(ctx, patron)
	if err != nil {
		return nil, err
	}
	d.store.Put(key, fines, d.ttl)
	return fines, nil
}

func (d *CachingDriver) MarkFeesPaid(ctx context.Context, patron *Patron, amountMinor int64, transactionID, internalNumber string, fineIDs []string) error {
	err := d.inner.MarkFeesPaid(ctx, patron, amountMinor, transactionID, internalNumber, fineIDs)
	d.store.Invalidate(d.finesKey(patron))
	return err
}

func (d *CachingDriver) UpdateProfile(ctx context.Context, patron *Patron, fields map[string]string) error {
	if err := d.inner.UpdateProfile(ctx, patron, fields); err != nil {
		return err
	}
	d.store.Invalidate(d.finesKey(patron))
	d.store.Invalidate(cache.PatronKey(patron.CatUsername, patron.CatPassword))
	return nil
}

func (d *CachingDriver) PaymentPolicy() PaymentPolicy {
	return d.inner.PaymentPolicy()
}

func (d *CachingDriver) finesKey(patron *Patron) string {
	return cache.RequestKey("ils/"+d.source+"/fines", url.Values{"patron": {patron.ID}})
}

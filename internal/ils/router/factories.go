package router

import (
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils/koha"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils/sierra"
)

// DefaultFactories is the closed set of backend driver variants.
func DefaultFactories(store cache.Store, tokenTTL, callTimeout time.Duration) map[string]Factory {
	return map[string]Factory{
		"koharest": func(source string, cfg map[string]string) (ils.Driver, error) {
			return koha.New(source, cfg, store, tokenTTL, callTimeout)
		},
		"sierrarest": func(source string, cfg map[string]string) (ils.Driver, error) {
			return sierra.New(source, cfg, store, tokenTTL, callTimeout)
		},
	}
}

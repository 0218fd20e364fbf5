package router

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
)

// legacyAliases maps a driver type to the config name it used before a
// rename. Backend renames must not break already-deployed per-library
// configuration, so config resolution retries with the alias.
var legacyAliases = map[string]string{
	"koharest":   "koha",
	"sierrarest": "sierra",
}

// Factory builds one driver instance from its resolved configuration.
type Factory func(source string, cfg map[string]string) (ils.Driver, error)

type Backend struct {
	SourceID   string
	DriverType string
	Label      string
	Config     map[string]string
	// Driver reads through the TTL cache. Money paths must use Inner.
	Driver *ils.CachingDriver
	// Inner is the undecorated driver for just-in-time reconciliation.
	Inner ils.Driver
}

type Target struct {
	SourceID string `json:"source"`
	Label    string `json:"label"`
}

type Options struct {
	// Sources is the ordered declaration, "sourceId:driverType" pairs
	// separated by commas.
	Sources          string
	ConfigDir        string
	DefaultSource    string
	SortLoginTargets bool
	Locale           string
	RequestCacheTTL  time.Duration
}

// Registry maps source identifiers to configured backends. Built once
// at startup and immutable thereafter.
type Registry struct {
	backends      map[string]*Backend
	order         []string
	defaultSource string
	sortTargets   bool
	collator      *collate.Collator
}

func NewRegistry(opts Options, factories map[string]Factory, store cache.Store) (*Registry, error) {
	r := &Registry{
		backends:    map[string]*Backend{},
		sortTargets: opts.SortLoginTargets,
		collator:    collate.New(language.Make(opts.Locale)),
	}

	for _, pair := range strings.Split(opts.Sources, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, ils.ConfigurationError("invalid source declaration: " + pair)
		}
		sourceID := strings.TrimSpace(parts[0])
		driverType := strings.ToLower(strings.TrimSpace(parts[1]))

		factory, ok := factories[driverType]
		if !ok {
			return nil, ils.ConfigurationError("unknown driver type " + driverType + " for source " + sourceID)
		}

		cfg, err := ResolveDriverConfig(opts.ConfigDir, driverType, sourceID)
		if err != nil {
			return nil, err
		}

		driver, err := factory(sourceID, cfg)
		if err != nil {
			return nil, err
		}

		label := strings.TrimSpace(cfg["label"])
		if label == "" {
			label = sourceID
		}

		r.backends[sourceID] = &Backend{
			SourceID:   sourceID,
			DriverType: driverType,
			Label:      label,
			Config:     cfg,
			Driver:     ils.NewCachingDriver(driver, sourceID, store, opts.RequestCacheTTL),
			Inner:      driver,
		}
		r.order = append(r.order, sourceID)
	}

	if len(r.order) == 0 {
		return nil, ils.ConfigurationError("no backend sources configured")
	}

	r.defaultSource = r.pickDefault(opts.DefaultSource)
	return r, nil
}

// ResolveDriverConfig loads the config file for one backend. It tries
// "{driverType}_{sourceId}.json", then the driver's legacy alias with
// the same source, then the driver type's generic default.
func ResolveDriverConfig(dir, driverType, sourceID string) (map[string]string, error) {
	names := []string{driverType + "_" + sourceID}
	if alias, ok := legacyAliases[driverType]; ok {
		names = append(names, alias+"_"+sourceID)
	}
	names = append(names, driverType)

	for _, name := range names {
		cfg, err := readConfigFile(filepath.Join(dir, name+".json"))
		if err == nil {
			return cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, ils.ConfigurationError(fmt.Sprintf("reading config %s: %v", name, err))
		}
	}
	return nil, ils.ConfigurationError(fmt.Sprintf("no config found for driver %s source %s", driverType, sourceID))
}

func readConfigFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := map[string]string{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid json in %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Resolve returns the backend for a source. An unknown source is a
// configuration error, never a silent default: record-bearing and
// money-moving operations must not land on the wrong backend.
func (r *Registry) Resolve(sourceID string) (*Backend, error) {
	b, ok := r.backends[strings.TrimSpace(sourceID)]
	if !ok {
		return nil, ils.ConfigurationError("unresolvable source " + sourceID)
	}
	return b, nil
}

// DriverFor hands out the undecorated driver for a source. Payment
// registration uses this so money decisions never read stale cache.
func (r *Registry) DriverFor(sourceID string) (ils.Driver, error) {
	b, err := r.Resolve(sourceID)
	if err != nil {
		return nil, err
	}
	return b.Inner, nil
}

// Split parses a composite identifier of the form "sourceId.localId".
func Split(composite string) (sourceID, localID string) {
	parts := strings.SplitN(composite, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", composite
}

// DefaultSource picks the explicitly configured default when it names a
// configured source, else the first login-capable source, else the
// first in declaration order.
func (r *Registry) DefaultSource() string {
	return r.defaultSource
}

func (r *Registry) pickDefault(configured string) string {
	if configured = strings.TrimSpace(configured); configured != "" {
		if _, ok := r.backends[configured]; ok {
			return configured
		}
	}
	for _, id := range r.order {
		if r.backends[id].Driver.SupportsLogin() {
			return id
		}
	}
	return r.order[0]
}

// LoginTargets lists the sources that support patron login. When
// sorting is enabled the list is ordered by display label with a
// locale-aware comparison; the source identifier is not a presentation
// value.
func (r *Registry) LoginTargets() []Target {
	targets := make([]Target, 0, len(r.order))
	for _, id := range r.order {
		b := r.backends[id]
		if !b.Driver.SupportsLogin() {
			continue
		}
		targets = append(targets, Target{SourceID: b.SourceID, Label: b.Label})
	}
	if r.sortTargets {
		sort.SliceStable(targets, func(i, j int) bool {
			return r.collator.CompareString(targets[i].Label, targets[j].Label) < 0
		})
	}
	return targets
}

package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
)

type stubDriver struct {
	source string
	cfg    map[string]string
	login  bool
}

func (d *stubDriver) SupportsLogin() bool { return d.login }

func (d *stubDriver) Login(_ context.Context, username, _ string) (*ils.Patron, error) {
	return &ils.Patron{ID: "p1", Source: d.source, CatUsername: username}, nil
}

func (d *stubDriver) MyFines(_ context.Context, _ *ils.Patron) ([]ils.Fine, error) {
	return nil, nil
}

func (d *stubDriver) MarkFeesPaid(_ context.Context, _ *ils.Patron, _ int64, _, _ string, _ []string) error {
	return nil
}

func (d *stubDriver) UpdateProfile(_ context.Context, _ *ils.Patron, _ map[string]string) error {
	return nil
}

func (d *stubDriver) PaymentPolicy() ils.PaymentPolicy { return ils.PaymentPolicy{} }

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func stubFactories(built map[string]*stubDriver) map[string]Factory {
	factory := func(source string, cfg map[string]string) (ils.Driver, error) {
		d := &stubDriver{source: source, cfg: cfg, login: cfg["login"] != "false"}
		built[source] = d
		return d, nil
	}
	return map[string]Factory{"koharest": factory, "sierrarest": factory}
}

func TestResolveDriverConfigPrefersSourceSpecificFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "koharest_main", `{"url":"https://specific"}`)
	writeConfig(t, dir, "koha_main", `{"url":"https://alias"}`)
	writeConfig(t, dir, "koharest", `{"url":"https://generic"}`)

	cfg, err := ResolveDriverConfig(dir, "koharest", "main")
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg["url"] != "https://specific" {
		t.Fatalf("expected source-specific config, got %s", cfg["url"])
	}
}

func TestResolveDriverConfigFallsBackToLegacyAlias(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "koha_main", `{"url":"https://alias"}`)
	writeConfig(t, dir, "koharest", `{"url":"https://generic"}`)

	cfg, err := ResolveDriverConfig(dir, "koharest", "main")
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg["url"] != "https://alias" {
		t.Fatalf("expected legacy alias config, got %s", cfg["url"])
	}
}

func TestResolveDriverConfigFallsBackToGeneric(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "sierrarest", `{"url":"https://generic"}`)

	cfg, err := ResolveDriverConfig(dir, "sierrarest", "branch")
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg["url"] != "https://generic" {
		t.Fatalf("expected generic config, got %s", cfg["url"])
	}
}

func TestResolveDriverConfigMissingIsConfigurationError(t *testing.T) {
	_, err := ResolveDriverConfig(t.TempDir(), "koharest", "main")
	if !ils.IsKind(err, ils.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, map[string]*stubDriver) {
	t.Helper()
	built := map[string]*stubDriver{}
	registry, err := NewRegistry(opts, stubFactories(built), cache.NewMemoryStore())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry, built
}

func TestRegistryResolveUnknownSource(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "koharest_main", `{"url":"https://main"}`)

	registry, _ := newTestRegistry(t, Options{Sources: "main:koharest", ConfigDir: dir})
	if _, err := registry.Resolve("nowhere"); !ils.IsKind(err, ils.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRegistryDefaultSourcePrefersExplicit(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "koharest_main", `{"url":"https://main"}`)
	writeConfig(t, dir, "koharest_branch", `{"url":"https://branch"}`)

	registry, _ := newTestRegistry(t, Options{
		Sources: "main:koharest,branch:koharest", ConfigDir: dir, DefaultSource: "branch",
	})
	if registry.DefaultSource() != "branch" {
		t.Fatalf("expected explicit default, got %s", registry.DefaultSource())
	}
}

func TestRegistryDefaultSourceSkipsLoginlessBackends(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "koharest_nologin", `{"url":"https://a","login":"false"}`)
	writeConfig(t, dir, "koharest_main", `{"url":"https://b"}`)

	registry, _ := newTestRegistry(t, Options{Sources: "nologin:koharest,main:koharest", ConfigDir: dir})
	if registry.DefaultSource() != "main" {
		t.Fatalf("expected first login-capable source, got %s", registry.DefaultSource())
	}
}

func TestRegistryLoginTargetsSortedByLabel(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "koharest_z", `{"url":"https://z","label":"Ääni Library"}`)
	writeConfig(t, dir, "koharest_a", `{"url":"https://a","label":"Zoo Library"}`)

	registry, _ := newTestRegistry(t, Options{
		Sources: "z:koharest,a:koharest", ConfigDir: dir, SortLoginTargets: true, Locale: "fi",
	})
	targets := registry.LoginTargets()
	if len(targets) != 2 {
		t.Fatalf("expected two targets, got %d", len(targets))
	}
	// Finnish collation sorts Ä after Z.
	if targets[0].Label != "Zoo Library" || targets[1].Label != "Ääni Library" {
		t.Fatalf("unexpected order: %s, %s", targets[0].Label, targets[1].Label)
	}
}

func TestRegistryLoginTargetsKeepDeclarationOrderWhenUnsorted(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "koharest_z", `{"url":"https://z","label":"Beta"}`)
	writeConfig(t, dir, "koharest_a", `{"url":"https://a","label":"Alpha"}`)

	registry, _ := newTestRegistry(t, Options{Sources: "z:koharest,a:koharest", ConfigDir: dir})
	targets := registry.LoginTargets()
	if targets[0].SourceID != "z" || targets[1].SourceID != "a" {
		t.Fatalf("unexpected order: %+v", targets)
	}
}

func TestRegistryDriverForReturnsUndecoratedDriver(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "koharest_main", `{"url":"https://main"}`)

	registry, built := newTestRegistry(t, Options{
		Sources: "main:koharest", ConfigDir: dir, RequestCacheTTL: time.Minute,
	})
	driver, err := registry.DriverFor("main")
	if err != nil {
		t.Fatalf("driver for: %v", err)
	}
	if driver != built["main"] {
		t.Fatalf("expected the inner driver, not the caching wrapper")
	}
}

func TestSplitCompositeID(t *testing.T) {
	source, local := Split("main.12345")
	if source != "main" || local != "12345" {
		t.Fatalf("unexpected split: %s %s", source, local)
	}
	source, local = Split("12345")
	if source != "" || local != "12345" {
		t.Fatalf("expected bare local id, got %s %s", source, local)
	}
}

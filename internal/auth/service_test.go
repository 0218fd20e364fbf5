package auth

import (
	"context"
	"testing"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils/router"
)

type loginDriver struct {
	login bool
	err   error
}

func (d *loginDriver) SupportsLogin() bool { return d.login }

func (d *loginDriver) Login(_ context.Context, username, password string) (*ils.Patron, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &ils.Patron{ID: "patron-1", CatUsername: username, CatPassword: password, FirstName: "Alice"}, nil
}

func (d *loginDriver) MyFines(_ context.Context, _ *ils.Patron) ([]ils.Fine, error) { return nil, nil }

func (d *loginDriver) MarkFeesPaid(_ context.Context, _ *ils.Patron, _ int64, _, _ string, _ []string) error {
	return nil
}

func (d *loginDriver) UpdateProfile(_ context.Context, _ *ils.Patron, _ map[string]string) error {
	return nil
}

func (d *loginDriver) PaymentPolicy() ils.PaymentPolicy { return ils.PaymentPolicy{} }

type fakeRegistry struct {
	backends map[string]*router.Backend
	fallback string
}

func (r *fakeRegistry) Resolve(sourceID string) (*router.Backend, error) {
	b, ok := r.backends[sourceID]
	if !ok {
		return nil, ils.ConfigurationError("unresolvable source " + sourceID)
	}
	return b, nil
}

func (r *fakeRegistry) DefaultSource() string { return r.fallback }

func (r *fakeRegistry) LoginTargets() []router.Target {
	return []router.Target{{SourceID: r.fallback, Label: r.fallback}}
}

type recordingCredentials struct {
	upserts map[string]string
}

func (c *recordingCredentials) Upsert(_ context.Context, userID, _, catUsername, _ string) error {
	if c.upserts == nil {
		c.upserts = map[string]string{}
	}
	c.upserts[userID] = catUsername
	return nil
}

func newBackend(source string, driver ils.Driver) *router.Backend {
	store := cache.NewMemoryStore()
	return &router.Backend{
		SourceID: source,
		Driver:   ils.NewCachingDriver(driver, source, store, time.Minute),
		Inner:    driver,
	}
}

func newLoginService(registry *fakeRegistry, creds *recordingCredentials) *Service {
	sessions := ils.NewSessionManager(cache.NewMemoryStore(), time.Minute)
	jwt := NewJWTManager("iss", "aud", "key")
	return NewService(registry, sessions, creds, jwt, time.Hour)
}

func TestLoginMintsStableUserID(t *testing.T) {
	registry := &fakeRegistry{
		backends: map[string]*router.Backend{"main": newBackend("main", &loginDriver{login: true})},
		fallback: "main",
	}
	creds := &recordingCredentials{}
	svc := newLoginService(registry, creds)

	first, err := svc.Login(context.Background(), "main", "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := svc.Login(context.Background(), "main", "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if first.UserID != second.UserID {
		t.Fatalf("user id must be stable across logins: %s vs %s", first.UserID, second.UserID)
	}
	if first.PatronID != "patron-1" || first.Patron.FirstName != "Alice" {
		t.Fatalf("unexpected session %+v", first)
	}
	if creds.upserts[first.UserID] != "alice" {
		t.Fatalf("credentials must be recorded for the web user")
	}

	claims, err := NewJWTManager("iss", "aud", "key").Parse(first.Token)
	if err != nil {
		t.Fatalf("parse session token: %v", err)
	}
	if claims.UserID != first.UserID || claims.Source != "main" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestLoginEmptySourceUsesDefault(t *testing.T) {
	registry := &fakeRegistry{
		backends: map[string]*router.Backend{"branch": newBackend("branch", &loginDriver{login: true})},
		fallback: "branch",
	}
	svc := newLoginService(registry, &recordingCredentials{})

	session, err := svc.Login(context.Background(), "", "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Source != "branch" {
		t.Fatalf("expected default source, got %s", session.Source)
	}
}

func TestLoginRejectsLoginlessSource(t *testing.T) {
	registry := &fakeRegistry{
		backends: map[string]*router.Backend{"catalog": newBackend("catalog", &loginDriver{login: false})},
		fallback: "catalog",
	}
	svc := newLoginService(registry, &recordingCredentials{})

	_, err := svc.Login(context.Background(), "catalog", "alice", "pw")
	if !ils.IsKind(err, ils.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoginPropagatesBackendRejection(t *testing.T) {
	registry := &fakeRegistry{
		backends: map[string]*router.Backend{"main": newBackend("main", &loginDriver{login: true, err: ils.AuthenticationError("bad pin")})},
		fallback: "main",
	}
	creds := &recordingCredentials{}
	svc := newLoginService(registry, creds)

	_, err := svc.Login(context.Background(), "main", "alice", "wrong")
	if !ils.IsKind(err, ils.KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if len(creds.upserts) != 0 {
		t.Fatalf("failed logins must not record credentials")
	}
}

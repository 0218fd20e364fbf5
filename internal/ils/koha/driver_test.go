package koha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/cache"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/ils"
)

type kohaStub struct {
	tokenSeq    atomic.Int64
	validToken  func() string
	authCalls   atomic.Int64
	loginStatus int
}

func newKohaServer(t *testing.T, stub *kohaStub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		stub.authCalls.Add(1)
		seq := stub.tokenSeq.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": fmt.Sprintf("token-%d", seq)})
	})

	requireToken := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+stub.validToken() {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("/v1/auth/patrons/validation", func(w http.ResponseWriter, r *http.Request) {
		if !requireToken(w, r) {
			return
		}
		if stub.loginStatus != 0 {
			w.WriteHeader(stub.loginStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"patron_id": 42, "firstname": "Alice", "surname": "Archer", "email": "alice@example.org",
		})
	})

	mux.HandleFunc("/v1/patrons/42/account", func(w http.ResponseWriter, r *http.Request) {
		if !requireToken(w, r) {
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"outstanding_debits": map[string]any{
				"lines": []map[string]any{
					{
						"accountline_id": 7, "debit_type": "OVERDUE", "description": "Late return",
						"amount": 3.50, "amount_outstanding": 2.05, "date": "2026-05-01", "library_id": "MAIN",
					},
				},
			},
		})
	})

	mux.HandleFunc("/v1/patrons/42/account/credits", func(w http.ResponseWriter, r *http.Request) {
		if !requireToken(w, r) {
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["amount"].(float64) != 2.05 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"account_line_id": 99})
	})

	return httptest.NewServer(mux)
}

func newTestDriver(t *testing.T, baseURL string) *Driver {
	t.Helper()
	driver, err := New("main", map[string]string{
		"url": baseURL, "client_id": "cid", "client_secret": "cs",
	}, cache.NewMemoryStore(), time.Hour, 5*time.Second)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	return driver
}

func TestLoginAndFines(t *testing.T) {
	stub := &kohaStub{}
	stub.validToken = func() string { return fmt.Sprintf("token-%d", stub.tokenSeq.Load()) }
	server := newKohaServer(t, stub)
	defer server.Close()

	driver := newTestDriver(t, server.URL)
	patron, err := driver.Login(context.Background(), "alice-card", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if patron.ID != "42" || patron.FirstName != "Alice" || patron.LastName != "Archer" {
		t.Fatalf("unexpected patron %+v", patron)
	}

	fines, err := driver.MyFines(context.Background(), patron)
	if err != nil {
		t.Fatalf("my fines: %v", err)
	}
	if len(fines) != 1 {
		t.Fatalf("expected one fine, got %d", len(fines))
	}
	f := fines[0]
	if f.ID != "7" || f.Type != "OVERDUE" || f.AmountMinor != 350 || f.BalanceMinor != 205 {
		t.Fatalf("unexpected fine %+v", f)
	}
	if f.Organization != "MAIN" || f.CreatedAt.Format("2006-01-02") != "2026-05-01" {
		t.Fatalf("unexpected fine metadata %+v", f)
	}

	// Token obtained once and reused across both calls.
	if stub.authCalls.Load() != 1 {
		t.Fatalf("expected one token request, got %d", stub.authCalls.Load())
	}
}

func TestExpiredTokenIsRefreshedOnce(t *testing.T) {
	stub := &kohaStub{}
	// Only the newest token is accepted, so the cached one from login
	// becomes stale as soon as the server rotates.
	stub.validToken = func() string { return fmt.Sprintf("token-%d", stub.tokenSeq.Load()) }
	server := newKohaServer(t, stub)
	defer server.Close()

	driver := newTestDriver(t, server.URL)
	patron, err := driver.Login(context.Background(), "alice-card", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// Simulate server-side expiry of the cached token.
	stub.tokenSeq.Add(1)

	if _, err := driver.MyFines(context.Background(), patron); err != nil {
		t.Fatalf("my fines after expiry: %v", err)
	}
	if stub.authCalls.Load() != 2 {
		t.Fatalf("expected exactly one re-authentication, got %d total", stub.authCalls.Load())
	}
}

func TestLoginRejectedCredentials(t *testing.T) {
	stub := &kohaStub{loginStatus: http.StatusBadRequest}
	stub.validToken = func() string { return fmt.Sprintf("token-%d", stub.tokenSeq.Load()) }
	server := newKohaServer(t, stub)
	defer server.Close()

	driver := newTestDriver(t, server.URL)
	_, err := driver.Login(context.Background(), "alice-card", "wrong")
	if !ils.IsKind(err, ils.KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestUnreachableBackendIsTransportError(t *testing.T) {
	server := newKohaServer(t, &kohaStub{})
	server.Close()

	driver := newTestDriver(t, server.URL)
	_, err := driver.Login(context.Background(), "alice-card", "pw")
	if !ils.IsKind(err, ils.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestMarkFeesPaidSendsMajorUnits(t *testing.T) {
	stub := &kohaStub{}
	stub.validToken = func() string { return fmt.Sprintf("token-%d", stub.tokenSeq.Load()) }
	server := newKohaServer(t, stub)
	defer server.Close()

	driver := newTestDriver(t, server.URL)
	patron := &ils.Patron{ID: "42"}
	if err := driver.MarkFeesPaid(context.Background(), patron, 205, "tx-1", "in-1", []string{"7"}); err != nil {
		t.Fatalf("mark fees paid: %v", err)
	}
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New("main", map[string]string{}, cache.NewMemoryStore(), time.Hour, time.Second)
	if !ils.IsKind(err, ils.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestToMinorRounds(t *testing.T) {
	if got := toMinor(json.Number("2.05")); got != 205 {
		t.Fatalf("expected 205, got %d", got)
	}
	if got := toMinor(json.Number("3.10")); got != 310 {
		t.Fatalf("expected 310, got %d", got)
	}
	if got := toMinor(json.Number("bad")); got != 0 {
		t.Fatalf("expected 0 for invalid number, got %d", got)
	}
}

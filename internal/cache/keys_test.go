package cache

import (
	"net/url"
	"strings"
	"testing"
)

func TestPatronKeyHidesCredentials(t *testing.T) {
	key := PatronKey("alice", "secret-pass")
	if strings.Contains(key, "alice") || strings.Contains(key, "secret-pass") {
		t.Fatalf("credentials must not appear in key: %s", key)
	}
	if key != PatronKey("alice", "secret-pass") {
		t.Fatalf("expected stable key")
	}
	if key == PatronKey("alice", "other-pass") {
		t.Fatalf("different passwords must produce different keys")
	}
}

func TestRequestKeyParameterOrderDoesNotMatter(t *testing.T) {
	a := RequestKey("ils/main/fines", url.Values{"a": {"1"}, "b": {"2"}})
	b := RequestKey("ils/main/fines", url.Values{"b": {"2"}, "a": {"1"}})
	if a != b {
		t.Fatalf("expected identical keys, got %s and %s", a, b)
	}

	c := RequestKey("ils/main/fines", url.Values{"a": {"1"}, "b": {"3"}})
	if a == c {
		t.Fatalf("different parameters must produce different keys")
	}
}

func TestTokenKeyDistinguishesServiceConfigs(t *testing.T) {
	a := TokenKey(map[string]string{"url": "https://koha.example", "client_id": "x"})
	b := TokenKey(map[string]string{"url": "https://koha.example", "client_id": "y"})
	if a == b {
		t.Fatalf("different configs must produce different token keys")
	}
	if a != TokenKey(map[string]string{"client_id": "x", "url": "https://koha.example"}) {
		t.Fatalf("map order must not matter")
	}
}

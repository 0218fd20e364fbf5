package auth

import (
	"testing"
	"time"
)

func TestMintAndParseSessionToken(t *testing.T) {
	manager := NewJWTManager("libpay-backend", "libpay-api", "unit-test-key")

	token, err := manager.Mint("user-1", "main", "alice", "patron-1", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Source != "main" || claims.CatUsername != "alice" || claims.PatronID != "patron-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Type != "session" {
		t.Fatalf("expected session type, got %s", claims.Type)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	manager := NewJWTManager("libpay-backend", "libpay-api", "unit-test-key")

	token, err := manager.Mint("user-1", "main", "alice", "patron-1", -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := manager.Parse(token); err == nil {
		t.Fatalf("expected expired token rejection")
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	minter := NewJWTManager("libpay-backend", "libpay-api", "key-a")
	verifier := NewJWTManager("libpay-backend", "libpay-api", "key-b")

	token, err := minter.Mint("user-1", "main", "alice", "patron-1", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := verifier.Parse(token); err == nil {
		t.Fatalf("expected signature rejection")
	}
}

func TestParseRejectsWrongIssuerOrAudience(t *testing.T) {
	minter := NewJWTManager("someone-else", "libpay-api", "unit-test-key")
	verifier := NewJWTManager("libpay-backend", "libpay-api", "unit-test-key")

	token, err := minter.Mint("user-1", "main", "alice", "patron-1", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := verifier.Parse(token); err == nil {
		t.Fatalf("expected issuer rejection")
	}

	minter = NewJWTManager("libpay-backend", "other-api", "unit-test-key")
	token, err = minter.Mint("user-1", "main", "alice", "patron-1", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := verifier.Parse(token); err == nil {
		t.Fatalf("expected audience rejection")
	}
}

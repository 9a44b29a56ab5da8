package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewTokenManager([]byte("test-secret"), "taskhub-test")

	before := time.Now().Add(-time.Second)
	token, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("wrong subject: %q", claims.UserID)
	}
	if claims.IssuedAt.Before(before) || claims.IssuedAt.After(time.Now().Add(time.Second)) {
		t.Fatalf("implausible issued-at: %v", claims.IssuedAt)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	token, err := NewTokenManager([]byte("secret-a"), "taskhub-test").Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewTokenManager([]byte("secret-b"), "taskhub-test").Verify(token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	token, err := NewTokenManager([]byte("secret"), "someone-else").Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewTokenManager([]byte("secret"), "taskhub-test").Verify(token); err == nil {
		t.Fatal("token from another issuer accepted")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := NewTokenManager([]byte("secret"), "taskhub-test")
	m.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	fresh := NewTokenManager([]byte("secret"), "taskhub-test")
	if _, err := fresh.Verify(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestEmptySecretCannotMintOrVerify(t *testing.T) {
	empty := NewTokenManager(nil, "taskhub-test")
	if _, err := empty.Issue("user-1"); err == nil {
		t.Fatal("token minted with an empty signing key")
	}

	// a token signed with the empty key must not verify either
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "taskhub-test",
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(""))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := empty.Verify(forged); err == nil {
		t.Fatal("empty-key token accepted")
	}
	if _, err := NewTokenManager([]byte(""), "taskhub-test").Verify(forged); err == nil {
		t.Fatal("empty-key token accepted by empty-string manager")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := NewTokenManager([]byte("secret"), "taskhub-test")
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := m.Verify(token); err == nil {
			t.Fatalf("garbage token %q accepted", token)
		}
	}
}

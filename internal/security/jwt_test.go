package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, key []byte, sub, role string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := jwt.MapClaims{"sub": sub, "role": role, "exp": exp.Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestJWTStrategyAcceptsValidToken(t *testing.T) {
	key := []byte("test-signing-key")
	s := NewJWTStrategy(key)
	token := signToken(t, key, "user-42", "admin", false)

	user, ok := s.Authenticate(reqWithHeader("Authorization", "Bearer "+token))
	if !ok {
		t.Fatal("expected authentication to succeed")
	}
	if user.ID != "user-42" || user.Role != "admin" {
		t.Errorf("got %+v", user)
	}
}

func TestJWTStrategyRejectsExpiredToken(t *testing.T) {
	key := []byte("test-signing-key")
	s := NewJWTStrategy(key)
	token := signToken(t, key, "user-42", "admin", true)

	if _, ok := s.Authenticate(reqWithHeader("Authorization", "Bearer "+token)); ok {
		t.Fatal("expired token must not authenticate")
	}
}

func TestJWTStrategyRejectsWrongSigningKey(t *testing.T) {
	s := NewJWTStrategy([]byte("correct-key"))
	token := signToken(t, []byte("wrong-key"), "user-42", "", false)

	if _, ok := s.Authenticate(reqWithHeader("Authorization", "Bearer "+token)); ok {
		t.Fatal("token signed with a different key must not authenticate")
	}
}

func TestJWTStrategyRejectsMissingBearerPrefix(t *testing.T) {
	s := NewJWTStrategy([]byte("key"))
	if _, ok := s.Authenticate(reqWithHeader("Authorization", "not-a-bearer-token")); ok {
		t.Fatal("non-bearer Authorization header must not authenticate")
	}
}

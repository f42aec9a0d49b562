package security

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTStrategy validates a bearer token as a self-contained, HMAC-signed
// JWT, extracting "sub" and "role" claims into the resulting User.
type JWTStrategy struct {
	signingKey []byte
}

// NewJWTStrategy builds a strategy verifying tokens signed with
// signingKey using an HMAC algorithm (HS256/HS384/HS512).
func NewJWTStrategy(signingKey []byte) *JWTStrategy {
	return &JWTStrategy{signingKey: signingKey}
}

func (s *JWTStrategy) Authenticate(req *Request) (*User, bool) {
	token := bearerToken(req)
	if token == "" {
		return nil, false
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, false
	}
	role, _ := claims["role"].(string)

	return &User{ID: sub, Role: role, Extra: map[string]any(claims)}, true
}

// bearerToken extracts the token from a standard "Authorization: Bearer
// <token>" header.
func bearerToken(req *Request) string {
	auth := req.header("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

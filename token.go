package passport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionToken is the access/refresh pair issued by the authentication server.
// It is replaced wholesale on login and refresh.
type SessionToken struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Credentials is the login payload sent to the login endpoint
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// IsZero reports whether the token carries no access token
func (t SessionToken) IsZero() bool {
	return t.Access == ""
}

// ExpiresAt returns the expiry encoded in the access token's exp claim.
//
// Only the payload segment is decoded; the header and signature are NOT
// inspected, so tokens signed with any algorithm are accepted. The server
// remains the only authority on validity. ok is false when the token carries
// no exp claim.
func (t SessionToken) ExpiresAt() (expiresAt time.Time, ok bool, err error) {
	return accessExpiry(t.Access)
}

var unverifiedParser = jwt.NewParser()

type expiryClaims struct {
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

func accessExpiry(access string) (time.Time, bool, error) {
	parts := strings.Split(access, ".")
	if len(parts) != 3 {
		return time.Time{}, false, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	payload, err := unverifiedParser.DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	var claims expiryClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, false, nil
	}

	return claims.ExpiresAt.Time, true, nil
}

func encodeToken(t SessionToken) (string, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode session token: %w", err)
	}
	return string(payload), nil
}

func decodeToken(raw string) (SessionToken, error) {
	var t SessionToken
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return SessionToken{}, fmt.Errorf("failed to decode session token: %w", err)
	}
	return t, nil
}

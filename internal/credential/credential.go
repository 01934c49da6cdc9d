package credential

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the bearer token presented to the chat backend.
//
// ExpiresAt and Subject are read from the token's unverified JWT claims when
// the token is a JWT; both stay zero for opaque tokens. The server remains
// the authority on validity.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	Subject   string
}

// New builds a Credential from a raw token.
func New(token string) Credential {
	token = strings.TrimSpace(token)
	cred := Credential{Token: token}
	if token == "" {
		return cred
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return cred
	}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	cred.Subject = claims.Subject
	return cred
}

func (c Credential) IsZero() bool {
	return c.Token == ""
}

// Expired reports whether the credential carries an expiry that is at or
// before now. Credentials without a known expiry never report expired.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

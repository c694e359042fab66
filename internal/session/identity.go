package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the display-only view of the bearer token's claims. The
// console never verifies the signature; the control plane is the only
// party that validates credentials, and the authenticated predicate
// stays a pure presence check.
type Identity struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

func (m *Manager) Identity() (Identity, bool) {
	token, ok := m.Token()
	if !ok {
		return Identity{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, false
	}

	var id Identity
	if sub, err := claims.GetSubject(); err == nil {
		id.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, true
}

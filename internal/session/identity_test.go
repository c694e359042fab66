package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestIdentityDecodesClaims(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	store := NewMemoryStore()
	_ = store.Save(signedTestToken(t, jwt.MapClaims{
		"sub":   "usr_1",
		"email": "dev@example.com",
		"exp":   exp.Unix(),
	}))
	m := NewManager(store, "http://unused.invalid", nil)

	id, ok := m.Identity()
	if !ok {
		t.Fatalf("expected identity from valid JWT")
	}
	if id.Subject != "usr_1" || id.Email != "dev@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if !id.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected expiry: %v want %v", id.ExpiresAt, exp)
	}
}

func TestIdentityToleratesOpaqueTokens(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_ = store.Save("opaque-session-token")
	m := NewManager(store, "http://unused.invalid", nil)

	if _, ok := m.Identity(); ok {
		t.Fatalf("non-JWT token must yield no identity")
	}
	// But the session is still considered authenticated.
	if !m.IsAuthenticated() {
		t.Fatalf("opaque token still counts as a session")
	}
}

func TestIdentityAbsentWhenLoggedOut(t *testing.T) {
	t.Parallel()

	m := NewManager(NewMemoryStore(), "http://unused.invalid", nil)
	if _, ok := m.Identity(); ok {
		t.Fatalf("no session must yield no identity")
	}
}

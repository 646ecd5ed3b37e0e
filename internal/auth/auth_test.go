package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestParseClaims(t *testing.T) {
	token := signedToken(t, &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_123"},
		Email:            "ops@example.com",
	})

	claims, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", claims.Subject)
	assert.Equal(t, "ops@example.com", claims.Email)
}

func TestParseClaims_Opaque(t *testing.T) {
	_, err := ParseClaims("opaque-api-key")
	assert.ErrorIs(t, err, ErrNotJWT)

	_, err = ParseClaims("a.b.c")
	assert.Error(t, err)
}

func TestExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))})
	future := signedToken(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))})
	noExp := signedToken(t, jwt.RegisteredClaims{Subject: "x"})

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"expired", past, true},
		{"valid", future, false},
		{"no exp claim", noExp, false},
		{"opaque", "static-token", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expired(tt.token, now))
		})
	}

	exp, ok := ExpiresAt(future)
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour).Unix(), exp.Unix())
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		want       string
	}{
		{"empty header", "", ""},
		{"valid bearer token", "Bearer eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.test", "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9.test"},
		{"lowercase bearer", "bearer token123", "token123"},
		{"invalid format - no space", "Bearertoken123", ""},
		{"invalid format - wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"empty token after bearer", "Bearer ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			assert.Equal(t, tt.want, ExtractBearerToken(req))
		})
	}
}

func TestStaticToken(t *testing.T) {
	token, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestSession_Refresh(t *testing.T) {
	calls := 0
	s := NewSession("old", func(context.Context) (string, error) {
		calls++
		return "new", nil
	})

	token, _ := s.Token(context.Background())
	assert.Equal(t, "old", token)

	require.NoError(t, s.Refresh(context.Background()))
	token, _ = s.Token(context.Background())
	assert.Equal(t, "new", token)
	assert.Equal(t, 1, calls)
}

func TestSession_RefreshFailures(t *testing.T) {
	assert.Error(t, NewSession("t", nil).Refresh(context.Background()))

	failing := NewSession("t", func(context.Context) (string, error) { return "", errors.New("denied") })
	assert.ErrorContains(t, failing.Refresh(context.Background()), "denied")

	empty := NewSession("t", func(context.Context) (string, error) { return "", nil })
	assert.Error(t, empty.Refresh(context.Background()))

	token, _ := empty.Token(context.Background())
	assert.Equal(t, "t", token)
}

func TestSession_ContextTokenWins(t *testing.T) {
	s := NewSession("session", nil)
	ctx := WithToken(context.Background(), "caller")

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "caller", token)
	assert.Equal(t, "", FromContext(context.Background()))
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/domain"
)

var testConfig = Config{Secret: "test-secret", Issuer: "fitsync.test"}

func TestParseRoundTrip(t *testing.T) {
	token, err := Sign(testConfig, "user-1", []string{ScopeDataRead, ScopeMigrate}, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeMigrate))
	require.False(t, claims.HasScope(ScopeDataWrite))
}

func TestParseRejectsBadTokens(t *testing.T) {
	_, err := Parse("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	token, err := Sign(Config{Secret: "other", Issuer: testConfig.Issuer}, "user-1", nil, time.Hour)
	require.NoError(t, err)
	_, err = Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := Sign(testConfig, "user-1", nil, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": testConfig.Issuer}).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	_, err = Parse(noSubject, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestOwnerFromContext(t *testing.T) {
	_, err := OwnerFromContext(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	owner, err := OwnerFromContext(WithClaims(context.Background(), &Claims{Subject: "user-1"}))
	require.NoError(t, err)
	require.Equal(t, "user-1", owner)
}

func TestMiddleware(t *testing.T) {
	var seen string
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/progress", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Bearer realm="fitsync"`, rec.Header().Get("WWW-Authenticate"))

	bad := httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
	bad.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bad)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	token, err := Sign(testConfig, "user-9", nil, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user-9", seen)
}

func TestParseAcceptsScopeArray(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeDataRead, ScopeDataWrite},
	}).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeDataWrite))
	require.False(t, claims.HasScope(ScopeMigrate))
}

func TestParseRequiresExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"iss": testConfig.Issuer,
	}).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)

	_, err = Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthorize(t *testing.T) {
	_, err := Authorize(context.Background(), ScopeDataRead)
	require.ErrorIs(t, err, ErrMissingToken)

	ctx := WithClaims(context.Background(), &Claims{Subject: "u", Scopes: map[string]struct{}{ScopeDataWrite: {}}})
	_, err = Authorize(ctx, ScopeMigrate)
	require.ErrorIs(t, err, ErrForbidden)

	claims, err := Authorize(ctx, ScopeDataRead, ScopeDataWrite)
	require.NoError(t, err)
	require.Equal(t, "u", claims.Subject)
}

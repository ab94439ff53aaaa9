package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsearch/pkg/logger"
)

func testTokens(t *testing.T) *TokenStore {
	t.Helper()
	store, err := ParseOperatorTokens([]string{
		"ops=ops-token",
		" ci = ci-token|index:write ",
		"",
	})
	require.NoError(t, err)
	return store
}

func guarded(store *TokenStore, scope string) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, _ := OperatorFromContext(r.Context())
		w.Header().Set("X-Operator", op.Name)
		w.WriteHeader(http.StatusNoContent)
	})
	return Authenticate(store)(RequireScope(scope)(ok))
}

func TestParseOperatorTokens(t *testing.T) {
	store := testTokens(t)
	assert.Equal(t, 2, store.Len())

	op, ok := store.Lookup("ops-token")
	require.True(t, ok)
	assert.Equal(t, "ops", op.Name)
	assert.Equal(t, AllScopes, op.Scopes)

	op, ok = store.Lookup("ci-token")
	require.True(t, ok)
	assert.Equal(t, "ci", op.Name)
	assert.True(t, op.Can(ScopeIndexWrite))
	assert.False(t, op.Can(ScopeIndexRebuild))

	_, ok = store.Lookup("ops-token ")
	assert.False(t, ok)
}

func TestParseOperatorTokens_Errors(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		wantErr string
	}{
		{"missing separator", []string{"secret-only"}, "entry 1: expected name=token"},
		{"empty token", []string{"ops="}, `operator "ops": empty token`},
		{"empty name", []string{"=tok"}, "without operator name"},
		{"unknown scope", []string{"ops=tok|index:drop"}, `unknown scope "index:drop"`},
		{"duplicate token", []string{"a=tok", "b=tok"}, `already assigned to "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOperatorTokens(tt.entries)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.NotContains(t, err.Error(), "secret-only")
		})
	}
}

func TestTokenStore_NilLen(t *testing.T) {
	var store *TokenStore
	assert.Zero(t, store.Len())
	assert.False(t, store.Enabled())
}

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func signOperatorJWT(t *testing.T, secret string, method jwt.SigningMethod, claims operatorClaims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	if claims.Issuer == "" {
		claims.Issuer = "user-service"
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenStore_AcceptJWT(t *testing.T) {
	store := NewTokenStore()
	assert.False(t, store.Enabled())
	assert.ErrorContains(t, store.AcceptJWT("short", ""), "at least 32 bytes")
	require.NoError(t, store.AcceptJWT(testJWTSecret, "user-service"))
	assert.True(t, store.Enabled())
	assert.Zero(t, store.Len())
}

func TestTokenStore_VerifyJWT(t *testing.T) {
	store := testTokens(t)
	require.NoError(t, store.AcceptJWT(testJWTSecret, "user-service"))

	op, err := store.Verify(signOperatorJWT(t, testJWTSecret, jwt.SigningMethodHS256, operatorClaims{
		UserID: "u-17", Role: "admin",
	}))
	require.NoError(t, err)
	assert.Equal(t, "u-17", op.Name)
	assert.Equal(t, AllScopes, op.Scopes)

	op, err = store.Verify(signOperatorJWT(t, testJWTSecret, jwt.SigningMethodHS256, operatorClaims{
		Scope:            "catalog:read index:write",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "merch-bot"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "merch-bot", op.Name)
	assert.Equal(t, []string{ScopeIndexWrite}, op.Scopes, "unknown scopes are dropped")

	op, err = store.Verify("ops-token")
	require.NoError(t, err)
	assert.Equal(t, "ops", op.Name, "static tokens still work")
}

func TestTokenStore_VerifyJWTRejects(t *testing.T) {
	store := NewTokenStore()
	require.NoError(t, store.AcceptJWT(testJWTSecret, "user-service"))
	expired := jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name  string
		token string
	}{
		{"not a jwt", "plain-token"},
		{"wrong secret", signOperatorJWT(t, "ffffffffffffffffffffffffffffffff", jwt.SigningMethodHS256, operatorClaims{Role: "admin", UserID: "u"})},
		{"wrong algorithm", signOperatorJWT(t, testJWTSecret, jwt.SigningMethodHS512, operatorClaims{Role: "admin", UserID: "u"})},
		{"expired", signOperatorJWT(t, testJWTSecret, jwt.SigningMethodHS256, operatorClaims{Role: "admin", UserID: "u", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: expired}})},
		{"wrong issuer", signOperatorJWT(t, testJWTSecret, jwt.SigningMethodHS256, operatorClaims{Role: "admin", UserID: "u", RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"}})},
		{"no subject", signOperatorJWT(t, testJWTSecret, jwt.SigningMethodHS256, operatorClaims{Role: "admin"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Verify(tt.token)
			assert.Error(t, err)
		})
	}

	_, err := NewTokenStore().Verify(signOperatorJWT(t, testJWTSecret, jwt.SigningMethodHS256, operatorClaims{Role: "admin", UserID: "u"}))
	assert.ErrorIs(t, err, ErrUnknownToken, "jwt not accepted unless enabled")
}

func TestAuthenticate_JWTScopes(t *testing.T) {
	store := NewTokenStore()
	require.NoError(t, store.AcceptJWT(testJWTSecret, ""))
	token := signOperatorJWT(t, testJWTSecret, jwt.SigningMethodHS256, operatorClaims{UserID: "u-3", Scope: "index:write"})

	for scope, want := range map[string]int{
		ScopeIndexWrite:   http.StatusNoContent,
		ScopeIndexRebuild: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/search/products/9", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		guarded(store, scope).ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, scope)
	}
}

func TestAuthenticate(t *testing.T) {
	store := testTokens(t)
	tests := []struct {
		name   string
		header string
		scope  string
		want   int
		wantOp string
	}{
		{"full operator rebuild", "Bearer ops-token", ScopeIndexRebuild, http.StatusNoContent, "ops"},
		{"lower case scheme", "bearer ops-token", ScopeIndexWrite, http.StatusNoContent, "ops"},
		{"scoped operator write", "Bearer ci-token", ScopeIndexWrite, http.StatusNoContent, "ci"},
		{"scoped operator rebuild", "Bearer ci-token", ScopeIndexRebuild, http.StatusForbidden, ""},
		{"missing header", "", ScopeIndexWrite, http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic ops-token", ScopeIndexWrite, http.StatusUnauthorized, ""},
		{"scheme only", "Bearer", ScopeIndexWrite, http.StatusUnauthorized, ""},
		{"unknown token", "Bearer nope", ScopeIndexWrite, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/search/reindex", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			guarded(store, tt.scope).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.wantOp, rec.Header().Get("X-Operator"))
		})
	}
}

func TestAuthenticate_AttributesLogs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	h := Authenticate(testTokens(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).InfoContext(r.Context(), "reindex requested")
		assert.Equal(t, "ci", logger.UserIDFromContext(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search/products/7", nil)
	req.Header.Set("Authorization", "Bearer ci-token")
	req = req.WithContext(logger.NewContext(req.Context(), base))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"operator":"ci"`)
	assert.NotContains(t, buf.String(), "ci-token")
}

func TestRequireScope_WithoutAuthenticate(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireScope(ScopeIndexWrite)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticate_ErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	guarded(testTokens(t), ScopeIndexWrite).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	assert.Equal(t, "missing authorization header", body.Error.Message)
}

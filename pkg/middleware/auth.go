package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/catalogsearch/pkg/logger"
)

// Scopes granted to operator tokens.
const (
	// ScopeIndexWrite allows indexing and deleting single products.
	ScopeIndexWrite = "index:write"
	// ScopeIndexRebuild allows full and incremental reindex runs.
	ScopeIndexRebuild = "index:rebuild"
)

// AllScopes is granted to tokens configured without an explicit scope list.
var AllScopes = []string{ScopeIndexWrite, ScopeIndexRebuild}

// Operator is the caller identity behind an admin token.
type Operator struct {
	Name   string
	Scopes []string
}

// Can reports whether the operator holds scope.
func (o Operator) Can(scope string) bool {
	return slices.Contains(o.Scopes, scope)
}

type operatorKey struct{}

type tokenEntry struct {
	digest   [sha256.Size]byte
	operator Operator
}

// ErrUnknownToken is returned by Verify for a token matching no operator.
var ErrUnknownToken = errors.New("unknown operator token")

// TokenStore holds operator tokens by digest. Several tokens may be live
// at once so they can be rotated without downtime. It can also accept
// HS256 access tokens signed by the platform's user service.
type TokenStore struct {
	entries []tokenEntry
	jwtKey  []byte
	jwtOpts []jwt.ParserOption
}

// MinJWTSecretLen is the shortest HMAC secret AcceptJWT takes.
const MinJWTSecretLen = 32

// operatorClaims is the access token payload. Role "admin" grants every
// scope; otherwise Scope lists them, space separated.
type operatorClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

// NewTokenStore creates an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Add registers token for op. An empty op.Scopes grants AllScopes.
func (s *TokenStore) Add(token string, op Operator) error {
	if token == "" {
		return fmt.Errorf("operator %q: empty token", op.Name)
	}
	if op.Name == "" {
		return fmt.Errorf("token without operator name")
	}
	digest := sha256.Sum256([]byte(token))
	for _, e := range s.entries {
		if e.digest == digest {
			return fmt.Errorf("operator %q: token already assigned to %q", op.Name, e.operator.Name)
		}
	}
	if len(op.Scopes) == 0 {
		op.Scopes = AllScopes
	}
	for _, sc := range op.Scopes {
		if !slices.Contains(AllScopes, sc) {
			return fmt.Errorf("operator %q: unknown scope %q", op.Name, sc)
		}
	}
	s.entries = append(s.entries, tokenEntry{digest: digest, operator: op})
	return nil
}

// AcceptJWT makes Verify accept HS256 tokens signed with secret. An empty
// issuer skips the iss check.
func (s *TokenStore) AcceptJWT(secret, issuer string) error {
	if len(secret) < MinJWTSecretLen {
		return fmt.Errorf("jwt secret must be at least %d bytes", MinJWTSecretLen)
	}
	s.jwtKey = []byte(secret)
	s.jwtOpts = []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		s.jwtOpts = append(s.jwtOpts, jwt.WithIssuer(issuer))
	}
	return nil
}

// Len returns the number of registered static tokens.
func (s *TokenStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Enabled reports whether any credential can authenticate.
func (s *TokenStore) Enabled() bool {
	return s.Len() > 0 || (s != nil && s.jwtKey != nil)
}

// Verify resolves token to its operator, trying static tokens first and
// then, when accepted, a signed access token.
func (s *TokenStore) Verify(token string) (Operator, error) {
	if op, ok := s.Lookup(token); ok {
		return op, nil
	}
	if s.jwtKey == nil || strings.Count(token, ".") != 2 {
		return Operator{}, ErrUnknownToken
	}

	var claims operatorClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.jwtKey, nil
	}, s.jwtOpts...)
	if err != nil {
		return Operator{}, fmt.Errorf("operator jwt: %w", err)
	}

	name := claims.UserID
	if name == "" {
		name = claims.Subject
	}
	if name == "" {
		return Operator{}, errors.New("operator jwt: no subject")
	}
	op := Operator{Name: name}
	if claims.Role == "admin" {
		op.Scopes = AllScopes
	} else {
		for _, sc := range strings.Fields(claims.Scope) {
			if slices.Contains(AllScopes, sc) {
				op.Scopes = append(op.Scopes, sc)
			}
		}
	}
	return op, nil
}

// Lookup returns the operator owning token. Every entry is compared so
// the time taken does not depend on which token matched.
func (s *TokenStore) Lookup(token string) (Operator, bool) {
	digest := sha256.Sum256([]byte(token))
	var (
		found Operator
		ok    bool
	)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			found, ok = e.operator, true
		}
	}
	return found, ok
}

// ParseOperatorTokens builds a store from entries of the form
// "name=token" or "name=token|scope|scope".
func ParseOperatorTokens(entries []string) (*TokenStore, error) {
	store := NewTokenStore()
	for i, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, rest, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("operator token entry %d: expected name=token", i+1)
		}
		parts := strings.Split(rest, "|")
		op := Operator{Name: strings.TrimSpace(name)}
		for _, sc := range parts[1:] {
			op.Scopes = append(op.Scopes, strings.TrimSpace(sc))
		}
		if err := store.Add(strings.TrimSpace(parts[0]), op); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Authenticate resolves the bearer token against store and stores the
// operator in the request context.
func Authenticate(store *TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
			switch {
			case scheme == "":
				writeAuthError(w, "missing authorization header")
				return
			case !found || !strings.EqualFold(scheme, "bearer") || token == "":
				writeAuthError(w, "invalid authorization header format")
				return
			}

			op, err := store.Verify(token)
			if err != nil {
				logger.FromContext(r.Context()).WarnContext(r.Context(), "rejected operator token",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("reason", err.Error()))
				writeAuthError(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey{}, op)
			ctx = logger.WithUserID(ctx, op.Name)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("operator", op.Name)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects operators lacking scope with 403.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := OperatorFromContext(r.Context())
			if !ok || !op.Can(scope) {
				writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "token lacks scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OperatorFromContext returns the operator set by Authenticate.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="search-admin"`)
	writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

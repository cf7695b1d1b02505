package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// KindScope marks tokens minted for a UI scope.
const KindScope = "ui_scope"

type ctxKeyScopeID struct{}

func ScopeIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyScopeID{}).(string)
	return v, ok
}

// WithScopeID injects scope_id into context. Useful for testing.
func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, ctxKeyScopeID{}, scopeID)
}

type Claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

type JWTVerifier struct {
	Secret []byte
}

func (v JWTVerifier) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Kind != KindScope {
		return nil, errors.New("unexpected token kind")
	}
	return claims, nil
}

// Issuer mints scope tokens verified by a JWTVerifier with the same secret.
type Issuer struct {
	Secret []byte
	TTL    time.Duration
}

func (i Issuer) Issue(scopeID string, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(scopeID) == "" {
		return "", time.Time{}, errors.New("scope id is required")
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   scopeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Kind: KindScope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// RequireScope validates the Bearer scope token and injects scope_id into context.
func RequireScope(verifier JWTVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if authz == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			claims, err := verifier.Parse(strings.TrimSpace(parts[1]))
			if err != nil || strings.TrimSpace(claims.Subject) == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithScopeID(r.Context(), claims.Subject)))
		})
	}
}

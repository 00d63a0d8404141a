/*
auth.go - JWT bearer authentication and actor resolution

PURPOSE:
  Turns an Authorization: Bearer token into a commission.Actor and puts
  it on the request context. Tokens are HS256 with two custom claims:
  "role" (ADMIN | VENDOR | MECHANIC) and the registered subject holding
  the party id (vendor id for VENDOR, mechanic id for MECHANIC, user id
  for ADMIN).

TRUST BOUNDARY:
  Token issuance lives outside this service. This layer only verifies
  signature and expiry and trusts the subject-to-party mapping the
  issuer encoded.

SEE ALSO:
  - commission/identity.go: Actor and role checks
  - server.go: Where the middleware is mounted
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gearlink/commission-engine/commission"
)

// Claims are the JWT claims this API understands.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type actorContextKey struct{}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (commission.Actor, bool) {
	a, ok := ctx.Value(actorContextKey{}).(commission.Actor)
	return a, ok
}

// ParseToken validates a bearer token and returns its claims.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: missing subject")
	}
	switch commission.Role(claims.Role) {
	case commission.RoleAdmin, commission.RoleVendor, commission.RoleMechanic:
	default:
		return nil, errors.New("auth: invalid role")
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.New("auth: token expired")
	}
	return claims, nil
}

// IssueToken signs a token for the given actor. Used by tests and the
// dev token endpoint; production tokens come from the identity service.
func IssueToken(actor commission.Actor, secret []byte, ttl time.Duration) (string, error) {
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.ID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// RequireAuth rejects requests without a valid bearer token and stores
// the resolved actor on the context.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}

			claims, err := ParseToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token", err)
				return
			}

			id, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid subject", err)
				return
			}

			actor := commission.Actor{ID: id, Role: commission.Role(claims.Role)}
			ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

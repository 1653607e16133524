package httpx

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmehra2102/orderflow/internal/identity"
	"github.com/dmehra2102/orderflow/pkg/apperr"
)

// Authenticate resolves the bearer token into an identity on the request
// context. Requests without a token pass through unauthenticated; the
// operations they reach decide whether that is allowed.
func Authenticate(log *slog.Logger, secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				WriteError(w, r, log, apperr.Unauthenticated("authorization header must be a bearer token"))
				return
			}
			id, err := ParseToken(secret, tokenStr)
			if err != nil {
				log.Debug("token rejected", "request_id", RequestIDFrom(r.Context()), "err", err)
				WriteError(w, r, log, apperr.Unauthenticated("invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}

// ParseToken verifies an HS256 token and reads the caller from its sub and
// role claims.
func ParseToken(secret []byte, tokenStr string) (identity.Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return identity.Identity{}, err
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return identity.Identity{}, err
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return identity.Identity{}, apperr.Unauthenticated("sub claim must be a numeric user id")
	}
	roleClaim, _ := claims["role"].(string)
	role := identity.Role(strings.ToUpper(roleClaim))
	if !role.Valid() {
		return identity.Identity{}, apperr.Unauthenticated("unknown role " + roleClaim)
	}
	return identity.Identity{UserID: userID, Role: role}, nil
}

// SignToken issues an HS256 token for id. Used by tests and local tooling.
func SignToken(secret []byte, id identity.Identity) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatInt(id.UserID, 10),
		"role": string(id.Role),
	}).SignedString(secret)
}

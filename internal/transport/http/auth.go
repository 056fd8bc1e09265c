package httptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the verified user identity. Token issuance lives in the
// auth service; this middleware only verifies and extracts.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type ctxKey string

const userIDKey ctxKey = "user_id"

// Auth validates the Bearer token and stores the caller's user ID in the
// request context. Everything behind it trusts that identity and performs no
// further verification.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErr(w, http.StatusUnauthorized, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErr(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeErr(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				writeErr(w, http.StatusUnauthorized, "invalid user id in token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated user ID stored by Auth.
func UserID(r *http.Request) uuid.UUID {
	if id, ok := r.Context().Value(userIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

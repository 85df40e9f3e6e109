package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"gridward/internal/platform/token"
	"gridward/pkg/domain"
)

// TokenValidator validates an access token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*token.Claims, error)
}

type contextKeyConnectionID struct{}

// GetConnectionID retrieves the authenticated connection id from the
// context.
func GetConnectionID(ctx context.Context) domain.ConnectionID {
	connectionID, ok := ctx.Value(contextKeyConnectionID{}).(domain.ConnectionID)
	if !ok {
		return ""
	}
	return connectionID
}

// RequireAuth rejects requests without a valid bearer token and stores the
// authenticated connection id on the context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access, missing token",
					"request_id", GetRequestID(ctx))
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}
			claims, err := validator.ValidateToken(raw)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token",
					"error", err,
					"request_id", GetRequestID(ctx))
				unauthorized(w, "Invalid or expired token")
				return
			}
			ctx = context.WithValue(ctx, contextKeyConnectionID{}, domain.ConnectionID(claims.ConnectionID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}

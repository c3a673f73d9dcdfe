package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ordd/redash/pkg/jsonutil"
)

// Middleware provides HTTP authentication middleware. It is thin and
// delegates token validation to a TokenValidator.
type Middleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewMiddleware creates an auth middleware with the given validator.
func NewMiddleware(validator TokenValidator, logger *zap.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth validates the bearer token and requires an organization
// claim. Claims are stored in the request context for downstream
// handlers.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "Authentication required")
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			m.logger.Debug("Token validation failed", zap.Error(err))
			unauthorized(w, "Authentication required")
			return
		}

		if claims.OrgID == "" {
			badRequest(w, "Missing organization ID in token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole restricts an endpoint to callers holding at least one of
// the given roles. Must run after RequireAuth so claims are present.
func RequireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok || claims == nil {
				unauthorized(w, "Authentication required")
				return
			}

			for _, required := range roles {
				for _, held := range claims.Roles {
					if held == required {
						next(w, r)
						return
					}
				}
			}

			forbidden(w, "Insufficient role for this operation")
		}
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func unauthorized(w http.ResponseWriter, message string) {
	_ = jsonutil.WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func badRequest(w http.ResponseWriter, message string) {
	_ = jsonutil.WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func forbidden(w http.ResponseWriter, message string) {
	_ = jsonutil.WriteError(w, http.StatusForbidden, "forbidden", message)
}

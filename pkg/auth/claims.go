// Package auth provides JWT-based authentication for the control
// plane. Tokens are validated against configured JWKS endpoints; the
// claims carry the caller's organization scope, group memberships and
// roles, which the capability checks and the visibility resolver
// consume.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ordd/redash/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ClaimsKey is the context key for storing JWT claims.
const ClaimsKey contextKey = "claims"

// Claims is the JWT claims structure issued by the identity provider.
// It embeds RegisteredClaims for standard fields (sub, iss, exp, ...)
// and adds organization context.
type Claims struct {
	jwt.RegisteredClaims
	OrgID          string   `json:"org,omitempty"`   // Organization UUID
	Email          string   `json:"email,omitempty"` // User email address
	Roles          []string `json:"roles,omitempty"` // Roles within the organization
	Groups         []string `json:"grps,omitempty"`  // Group UUIDs the user belongs to
	DefaultGroupID string   `json:"dgrp,omitempty"`  // Organization default group UUID
}

// IsAdmin reports whether the claims carry the admin role. Admins
// bypass group-based visibility entirely.
func (c *Claims) IsAdmin() bool {
	for _, r := range c.Roles {
		if r == models.RoleAdmin {
			return true
		}
	}
	return false
}

// GroupIDs parses the group claims into UUIDs, skipping malformed
// entries rather than failing the whole request.
func (c *Claims) GroupIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Groups))
	for _, g := range c.Groups {
		id, err := uuid.Parse(g)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetUserIDFromContext extracts the user ID (subject) from JWT claims.
// Returns empty string if not authenticated.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrgScope wraps a connection with organization context. The
// connection has app.current_org_id set for RLS policy evaluation.
type OrgScope struct {
	Conn *pgxpool.Conn
}

// Close resets the organization context and releases the connection.
// This MUST be called to prevent scope from leaking to the next
// request.
func (s *OrgScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_org_id")
	s.Conn.Release()
}

// WithOrg acquires a connection and sets the organization context for
// RLS. The returned OrgScope MUST be closed with defer scope.Close().
func (db *DB) WithOrg(ctx context.Context, orgID uuid.UUID) (*OrgScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_org_id', $1, false)", orgID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &OrgScope{Conn: conn}, nil
}

type contextKey string

// OrgScopeKey is the context key for the org-scoped connection.
const OrgScopeKey contextKey = "orgScope"

// GetOrgScope retrieves the org-scoped database connection from
// context. Returns nil and false if not present.
func GetOrgScope(ctx context.Context) (*OrgScope, bool) {
	scope, ok := ctx.Value(OrgScopeKey).(*OrgScope)
	return scope, ok
}

// SetOrgScope stores the org-scoped database connection in context.
func SetOrgScope(ctx context.Context, scope *OrgScope) context.Context {
	return context.WithValue(ctx, OrgScopeKey, scope)
}

// OrgScopeProvider creates org-scoped contexts for database work.
type OrgScopeProvider struct {
	db *DB
}

// NewOrgScopeProvider creates an OrgScopeProvider for the given
// database.
func NewOrgScopeProvider(db *DB) *OrgScopeProvider {
	return &OrgScopeProvider{db: db}
}

// WithOrgScope returns a context with organization scope set. The
// cleanup function must be called when the scope is no longer needed.
func (p *OrgScopeProvider) WithOrgScope(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithOrg(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	orgCtx := SetOrgScope(ctx, scope)
	return orgCtx, func() { scope.Close() }, nil
}

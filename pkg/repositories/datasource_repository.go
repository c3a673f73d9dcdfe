// Package repositories implements data access for the control plane.
// Options are stored as encrypted TEXT; encryption is handled by the
// service layer. All queries run on an org-scoped connection so RLS
// policies see app.current_org_id.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ordd/redash/pkg/apperrors"
	"github.com/ordd/redash/pkg/database"
	"github.com/ordd/redash/pkg/models"
)

// DataSourceRepository defines data access for data sources.
type DataSourceRepository interface {
	// Create inserts a new data source and its group grants in one
	// transaction. The generated id is written back to ds.
	Create(ctx context.Context, ds *models.DataSource, encryptedOptions string) error

	// GetByID retrieves a data source by id within an organization,
	// with its group grants attached. Returns the model and the
	// encrypted options blob.
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.DataSource, string, error)

	// List retrieves all data sources for an organization.
	List(ctx context.Context, orgID uuid.UUID) ([]*models.DataSource, []string, error)

	// ListForGroups retrieves data sources visible to any of the given
	// groups. A data source granted to several of the groups appears
	// once per matching grant; de-duplication is the caller's concern.
	ListForGroups(ctx context.Context, orgID uuid.UUID, groupIDs []uuid.UUID) ([]*models.DataSource, []string, error)

	// Update replaces name, connector type and encrypted options.
	Update(ctx context.Context, id uuid.UUID, name, connectorType, encryptedOptions string) error

	// UpdateState persists the pause flag and reason.
	UpdateState(ctx context.Context, id uuid.UUID, paused bool, reason string) error

	// Delete removes a data source. Group grants and dependent records
	// cascade at the storage level.
	Delete(ctx context.Context, id uuid.UUID) error
}

// dataSourceRepository implements DataSourceRepository using PostgreSQL.
type dataSourceRepository struct{}

// NewDataSourceRepository creates a new data source repository.
func NewDataSourceRepository() DataSourceRepository {
	return &dataSourceRepository{}
}

const dataSourceColumns = `id, org_id, name, connector_type, options, paused, pause_reason, created_at, updated_at`

// Create inserts a new data source and its group grants.
func (r *dataSourceRepository) Create(ctx context.Context, ds *models.DataSource, encryptedOptions string) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	query := `
		INSERT INTO data_sources (org_id, name, connector_type, options, paused, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, $5, $6)
		RETURNING id`

	err = tx.QueryRow(ctx, query,
		ds.OrgID,
		ds.Name,
		ds.Type,
		encryptedOptions,
		ds.CreatedAt,
		ds.UpdatedAt,
	).Scan(&ds.ID)
	if err != nil {
		return fmt.Errorf("failed to create data source: %w", err)
	}

	for groupID, permission := range ds.Groups {
		_, err = tx.Exec(ctx,
			`INSERT INTO data_source_groups (data_source_id, group_id, permission) VALUES ($1, $2, $3)`,
			ds.ID, groupID, string(permission))
		if err != nil {
			return fmt.Errorf("failed to grant group access: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a data source by id within an organization.
func (r *dataSourceRepository) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.DataSource, string, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, "", fmt.Errorf("no org scope in context")
	}

	query := `
		SELECT ` + dataSourceColumns + `
		FROM data_sources
		WHERE org_id = $1 AND id = $2`

	ds, encryptedOptions, err := scanDataSource(scope.Conn.QueryRow(ctx, query, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get data source: %w", err)
	}

	groups, err := r.loadGroups(ctx, []uuid.UUID{ds.ID})
	if err != nil {
		return nil, "", err
	}
	ds.Groups = groups[ds.ID]
	if ds.Groups == nil {
		ds.Groups = map[uuid.UUID]models.Permission{}
	}

	return ds, encryptedOptions, nil
}

// List retrieves all data sources for an organization.
func (r *dataSourceRepository) List(ctx context.Context, orgID uuid.UUID) ([]*models.DataSource, []string, error) {
	query := `
		SELECT ` + dataSourceColumns + `
		FROM data_sources
		WHERE org_id = $1
		ORDER BY id`

	return r.list(ctx, query, orgID)
}

// ListForGroups retrieves data sources granted to any of the given
// groups. The join yields one row per matching grant, mirroring how
// overlapping memberships surface duplicates upstream.
func (r *dataSourceRepository) ListForGroups(ctx context.Context, orgID uuid.UUID, groupIDs []uuid.UUID) ([]*models.DataSource, []string, error) {
	query := `
		SELECT ds.id, ds.org_id, ds.name, ds.connector_type, ds.options,
		       ds.paused, ds.pause_reason, ds.created_at, ds.updated_at
		FROM data_sources ds
		JOIN data_source_groups dsg ON dsg.data_source_id = ds.id
		WHERE ds.org_id = $1 AND dsg.group_id = ANY($2)
		ORDER BY ds.id`

	return r.list(ctx, query, orgID, groupIDs)
}

func (r *dataSourceRepository) list(ctx context.Context, query string, args ...any) ([]*models.DataSource, []string, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, nil, fmt.Errorf("no org scope in context")
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.DataSource
	var encryptedOptions []string
	for rows.Next() {
		ds, enc, err := scanDataSource(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, ds)
		encryptedOptions = append(encryptedOptions, enc)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating data sources: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(sources))
	seen := make(map[uuid.UUID]bool, len(sources))
	for _, ds := range sources {
		if !seen[ds.ID] {
			seen[ds.ID] = true
			ids = append(ids, ds.ID)
		}
	}

	groups, err := r.loadGroups(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	for _, ds := range sources {
		ds.Groups = groups[ds.ID]
		if ds.Groups == nil {
			ds.Groups = map[uuid.UUID]models.Permission{}
		}
	}

	return sources, encryptedOptions, nil
}

// loadGroups fetches the full group-permission mapping for each of the
// given data sources in one query.
func (r *dataSourceRepository) loadGroups(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]map[uuid.UUID]models.Permission, error) {
	result := make(map[uuid.UUID]map[uuid.UUID]models.Permission, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT data_source_id, group_id, permission FROM data_source_groups WHERE data_source_id = ANY($1)`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load group grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dsID, groupID uuid.UUID
		var permission string
		if err := rows.Scan(&dsID, &groupID, &permission); err != nil {
			return nil, fmt.Errorf("failed to scan group grant: %w", err)
		}
		if result[dsID] == nil {
			result[dsID] = make(map[uuid.UUID]models.Permission)
		}
		result[dsID][groupID] = models.Permission(permission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group grants: %w", err)
	}

	return result, nil
}

// Update replaces name, connector type and encrypted options.
func (r *dataSourceRepository) Update(ctx context.Context, id uuid.UUID, name, connectorType, encryptedOptions string) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	query := `
		UPDATE data_sources
		SET name = $2, connector_type = $3, options = $4, updated_at = $5
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, id, name, connectorType, encryptedOptions, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update data source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// UpdateState persists the pause flag and reason. The reason column is
// NULL whenever it is empty, so a resumed source never carries a stale
// reason.
func (r *dataSourceRepository) UpdateState(ctx context.Context, id uuid.UUID, paused bool, reason string) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	query := `
		UPDATE data_sources
		SET paused = $2, pause_reason = NULLIF($3, ''), updated_at = $4
		WHERE id = $1`

	result, err := scope.Conn.Exec(ctx, query, id, paused, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update pause state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// Delete removes a data source by id.
func (r *dataSourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return fmt.Errorf("no org scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM data_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// scanDataSource scans one data_sources row. The options blob is
// returned separately; it stays encrypted until the service layer
// decrypts it.
func scanDataSource(row pgx.Row) (*models.DataSource, string, error) {
	var ds models.DataSource
	var encryptedOptions string
	var pauseReason *string
	err := row.Scan(
		&ds.ID,
		&ds.OrgID,
		&ds.Name,
		&ds.Type,
		&encryptedOptions,
		&ds.Paused,
		&pauseReason,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		return nil, "", err
	}
	if pauseReason != nil {
		ds.PauseReason = *pauseReason
	}
	return &ds, encryptedOptions, nil
}

// Ensure dataSourceRepository implements DataSourceRepository at compile time.
var _ DataSourceRepository = (*dataSourceRepository)(nil)

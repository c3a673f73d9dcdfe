package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ordd/redash/pkg/apperrors"
	"github.com/ordd/redash/pkg/audit"
	"github.com/ordd/redash/pkg/auth"
	"github.com/ordd/redash/pkg/configuration"
	"github.com/ordd/redash/pkg/connectors"
	"github.com/ordd/redash/pkg/crypto"
	"github.com/ordd/redash/pkg/logging"
	"github.com/ordd/redash/pkg/metrics"
	"github.com/ordd/redash/pkg/models"
	"github.com/ordd/redash/pkg/repositories"
)

// OrgScoper provides org-scoped database contexts. Implemented by
// database.OrgScopeProvider; faked in tests.
type OrgScoper interface {
	WithOrgScope(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error)
}

// DataSourceService defines the administrative operations on data
// sources. Callers pass the authenticated claims; role checks beyond
// group visibility are enforced at the routing layer.
type DataSourceService interface {
	// Types enumerates the registered connector types.
	Types() []connectors.TypeInfo

	// List returns the data sources visible to the caller, one entry
	// per data source id in ascending id order.
	List(ctx context.Context, claims *auth.Claims) ([]models.DataSourceListEntry, error)

	// Get retrieves a single data source with decrypted options.
	Get(ctx context.Context, claims *auth.Claims, id uuid.UUID) (*models.DataSource, error)

	// Create registers a new data source. Options are validated against
	// the connector type's schema before anything is persisted.
	Create(ctx context.Context, claims *auth.Claims, name, dsType string, options map[string]any) (*models.DataSource, error)

	// Update replaces name and connector type and merges the given
	// options into the stored ones. Validation failure leaves the
	// stored record untouched.
	Update(ctx context.Context, claims *auth.Claims, id uuid.UUID, name, dsType string, options map[string]any) (*models.DataSource, error)

	// Delete removes a data source and its group grants.
	Delete(ctx context.Context, claims *auth.Claims, id uuid.UUID) error

	// Pause suspends execution against the data source, recording an
	// optional reason. Pausing a paused source overwrites the reason.
	Pause(ctx context.Context, claims *auth.Claims, id uuid.UUID, reason string) (*models.DataSource, error)

	// Resume restores execution. Resuming an active source is a no-op.
	Resume(ctx context.Context, claims *auth.Claims, id uuid.UUID) (*models.DataSource, error)

	// LiveSchema introspects the upstream system for its current
	// table layout. Requires at least read visibility on the source.
	LiveSchema(ctx context.Context, claims *auth.Claims, id uuid.UUID) ([]connectors.TableSchema, error)

	// TestConnection validates options against the type's schema and
	// probes connectivity without persisting anything.
	TestConnection(ctx context.Context, dsType string, options map[string]any) error
}

// dataSourceService implements DataSourceService.
type dataSourceService struct {
	repo      repositories.DataSourceRepository
	scopes    OrgScoper
	encryptor *crypto.OptionsEncryptor
	recorder  *audit.Recorder
	logger    *zap.Logger
}

// NewDataSourceService creates a new data source service.
func NewDataSourceService(
	repo repositories.DataSourceRepository,
	scopes OrgScoper,
	encryptor *crypto.OptionsEncryptor,
	recorder *audit.Recorder,
	logger *zap.Logger,
) DataSourceService {
	return &dataSourceService{
		repo:      repo,
		scopes:    scopes,
		encryptor: encryptor,
		recorder:  recorder,
		logger:    logger,
	}
}

// Types enumerates the registered connector types.
func (s *dataSourceService) Types() []connectors.TypeInfo {
	return connectors.Types()
}

// List returns the data sources visible to the caller. Admins see
// every source in the organization; members see sources shared with at
// least one of their groups. Options are decrypted so the handler can
// serialize the masked view.
func (s *dataSourceService) List(ctx context.Context, claims *auth.Claims) ([]models.DataSourceListEntry, error) {
	orgID, err := orgIDFromClaims(claims)
	if err != nil {
		return nil, err
	}

	orgCtx, cleanup, err := s.scopes.WithOrgScope(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire org scope: %w", err)
	}
	defer cleanup()

	var sources []*models.DataSource
	var encryptedOptions []string
	if claims.IsAdmin() {
		sources, encryptedOptions, err = s.repo.List(orgCtx, orgID)
	} else {
		sources, encryptedOptions, err = s.repo.ListForGroups(orgCtx, orgID, claims.GroupIDs())
	}
	if err != nil {
		return nil, err
	}

	for i, ds := range sources {
		if err := s.attachOptions(ds, encryptedOptions[i]); err != nil {
			return nil, err
		}
	}

	return buildListing(sources, claims), nil
}

// Get retrieves a single data source with decrypted options.
func (s *dataSourceService) Get(ctx context.Context, claims *auth.Claims, id uuid.UUID) (*models.DataSource, error) {
	orgID, err := orgIDFromClaims(claims)
	if err != nil {
		return nil, err
	}

	orgCtx, cleanup, err := s.scopes.WithOrgScope(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire org scope: %w", err)
	}
	defer cleanup()

	return s.load(orgCtx, orgID, id)
}

// Create registers a new data source. The connector type must be
// registered and the options must satisfy its schema; nothing is
// persisted otherwise. When the caller's token carries a default group,
// that group is granted write access.
func (s *dataSourceService) Create(ctx context.Context, claims *auth.Claims, name, dsType string, options map[string]any) (*models.DataSource, error) {
	orgID, err := orgIDFromClaims(claims)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apperrors.NewValidationError("name", "required field is missing")
	}

	registration, ok := connectors.Lookup(dsType)
	if !ok {
		return nil, apperrors.NewValidationError("type", fmt.Sprintf("unknown connector type %q", dsType))
	}

	container, err := configuration.New(options, registration.ConfigSchema)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.encryptOptions(container)
	if err != nil {
		return nil, err
	}

	ds := &models.DataSource{
		OrgID:   orgID,
		Name:    name,
		Type:    dsType,
		Options: container,
		Groups:  map[uuid.UUID]models.Permission{},
	}
	if groupID, err := uuid.Parse(claims.DefaultGroupID); err == nil {
		ds.Groups[groupID] = models.PermissionWrite
	}

	orgCtx, cleanup, err := s.scopes.WithOrgScope(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire org scope: %w", err)
	}
	defer cleanup()

	if err := s.repo.Create(orgCtx, ds, encrypted); err != nil {
		metrics.ObserveOperation("create", err)
		return nil, err
	}
	metrics.ObserveOperation("create", nil)

	s.recorder.Record(ctx, audit.EventDataSourceCreated, orgID, ds.ID, map[string]string{
		"name": name,
		"type": dsType,
	})
	s.logger.Info("Created data source",
		zap.String("id", ds.ID.String()),
		zap.String("org_id", orgID.String()),
		zap.String("name", name),
		zap.String("type", dsType),
	)

	return ds, nil
}

// Update replaces name and connector type, and merges the given
// options into the stored mapping. The merged result is validated
// against the (possibly new) type's schema as a whole before anything
// is written, so a failed update leaves the record exactly as it was.
func (s *dataSourceService) Update(ctx context.Context, claims *auth.Claims, id uuid.UUID, name, dsType string, options map[string]any) (*models.DataSource, error) {
	orgID, err := orgIDFromClaims(claims)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apperrors.NewValidationError("name", "required field is missing")
	}

	registration, ok := connectors.Lookup(dsType)
	if !ok {
		return nil, apperrors.NewValidationError("type", fmt.Sprintf("unknown connector type %q", dsType))
	}

	orgCtx, cleanup, err := s.scopes.WithOrgScope(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire org scope: %w", err)
	}
	defer cleanup()

	ds, err := s.load(orgCtx, orgID, id)
	if err != nil {
		return nil, err
	}

	// Schema swap and option merge land as one validation pass.
	ds.Options.SetSchema(registration.ConfigSchema)
	if err := ds.Options.Update(options); err != nil {
		return nil, err
	}

	encrypted, err := s.encryptOptions(ds.Options)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Update(orgCtx, id, name, dsType, encrypted); err != nil {
		metrics.ObserveOperation("update", err)
		return nil, err
	}
	metrics.ObserveOperation("update", nil)

	ds.Name = name
	ds.Type = dsType
	ds.UpdatedAt = time.Now()

	s.recorder.Record(ctx, audit.EventDataSourceUpdated, orgID, id, map[string]string{
		"name": name,
		"type": dsType,
	})

	return ds, nil
}

// Delete removes a data source.
func (s *dataSourceService) Delete(ctx context.Context, claims *auth.Claims, id uuid.UUID) error {
	orgID, err := orgIDFromClaims(claims)
	if err != nil {
		return err
	}

	orgCtx, cleanup, err := s.scopes.WithOrgScope(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to acquire org scope: %w", err)
	}
	defer cleanup()

	// Scope the delete to the org before touching anything.
	if _, _, err := s.repo.GetByID(orgCtx, orgID, id); err != nil {
		return err
	}

	if err := s.repo.Delete(orgCtx, id); err != nil {
		metrics.ObserveOperation("delete", err)
		return err
	}
	metrics.ObserveOperation("delete", nil)

	s.recorder.Record(ctx, audit.EventDataSourceDeleted, orgID, id, nil)
	s.logger.Info("Deleted data source",
		zap.String("id", id.String()),
		zap.String("org_id", orgID.String()),
	)

	return nil
}

// Pause suspends execution against the data source. Re-pausing
// overwrites the recorded reason, making the operation safe to replay.
func (s *dataSourceService) Pause(ctx context.Context, claims *auth.Claims, id uuid.UUID, reason string) (*models.DataSource, error) {
	orgID, err := orgIDFromClaims(claims)
	if err != nil {
		return nil, err
	}

	orgCtx, cleanup, err := s.scopes.WithOrgScope(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire org scope: %w", err)
	}
	defer cleanup()

	ds, err := s.load(orgCtx, orgID, id)
	if err != nil {
		return nil, err
	}

	ds.Pause(reason)
	if err := s.repo.UpdateState(orgCtx, id, ds.Paused, ds.PauseReason); err != nil {
		metrics.ObserveOperation("pause", err)
		return nil, err
	}
	metrics.ObserveOperation("pause", nil)

	s.recorder.Record(ctx, audit.EventDataSourcePaused, orgID, id, map[string]string{
		"reason": reason,
	})

	return ds, nil
}

// Resume restores execution against the data source and clears any
// recorded pause reason. Resuming an active source is a no-op.
func (s *dataSourceService) Resume(ctx context.Context, claims *auth.Claims, id uuid.UUID) (*models.DataSource, error) {
	orgID, err := orgIDFromClaims(claims)
	if err != nil {
		return nil, err
	}

	orgCtx, cleanup, err := s.scopes.WithOrgScope(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire org scope: %w", err)
	}
	defer cleanup()

	ds, err := s.load(orgCtx, orgID, id)
	if err != nil {
		return nil, err
	}

	ds.Resume()
	if err := s.repo.UpdateState(orgCtx, id, ds.Paused, ds.PauseReason); err != nil {
		metrics.ObserveOperation("resume", err)
		return nil, err
	}
	metrics.ObserveOperation("resume", nil)

	s.recorder.Record(ctx, audit.EventDataSourceResumed, orgID, id, nil)

	return ds, nil
}

// LiveSchema introspects the upstream system. The caller's context
// bounds the probe; there is no internal retry. Upstream failures are
// reported as such rather than as validation or server errors.
func (s *dataSourceService) LiveSchema(ctx context.Context, claims *auth.Claims, id uuid.UUID) ([]connectors.TableSchema, error) {
	orgID, err := orgIDFromClaims(claims)
	if err != nil {
		return nil, err
	}

	orgCtx, cleanup, err := s.scopes.WithOrgScope(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire org scope: %w", err)
	}
	defer cleanup()

	ds, err := s.load(orgCtx, orgID, id)
	if err != nil {
		return nil, err
	}

	if !claims.IsAdmin() && !hasGroupAccess(claims.GroupIDs(), ds.Groups) {
		return nil, apperrors.ErrPermissionDenied
	}

	registration, ok := connectors.Lookup(ds.Type)
	if !ok {
		return nil, fmt.Errorf("connector type %q is no longer registered", ds.Type)
	}

	conn, err := registration.Factory(ctx, ds.Options.Map(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUpstream, err)
	}
	defer conn.Close()

	start := time.Now()
	tables, err := conn.Schema(ctx)
	metrics.SchemaFetchDuration.WithLabelValues(ds.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("Live schema fetch failed",
			zap.String("id", ds.ID.String()),
			zap.String("type", ds.Type),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUpstream, err)
	}

	return tables, nil
}

// TestConnection validates options against the type's schema and
// probes connectivity. Nothing is persisted.
func (s *dataSourceService) TestConnection(ctx context.Context, dsType string, options map[string]any) error {
	registration, ok := connectors.Lookup(dsType)
	if !ok {
		return apperrors.NewValidationError("type", fmt.Sprintf("unknown connector type %q", dsType))
	}

	container, err := configuration.New(options, registration.ConfigSchema)
	if err != nil {
		return err
	}

	conn, err := registration.Factory(ctx, container.Map(true))
	if err != nil {
		metrics.ConnectionTests.WithLabelValues(dsType, "error").Inc()
		s.logProbeFailure(dsType, container, registration, err)
		return fmt.Errorf("%w: %v", apperrors.ErrUpstream, err)
	}
	defer conn.Close()

	if err := conn.TestConnection(ctx); err != nil {
		metrics.ConnectionTests.WithLabelValues(dsType, "error").Inc()
		s.logProbeFailure(dsType, container, registration, err)
		return fmt.Errorf("%w: %v", apperrors.ErrUpstream, err)
	}

	metrics.ConnectionTests.WithLabelValues(dsType, "ok").Inc()
	return nil
}

// logProbeFailure records a failed connection probe. Both the option
// mapping and the driver error can carry credentials, so they pass
// through redaction before hitting the log.
func (s *dataSourceService) logProbeFailure(dsType string, container *configuration.Container, registration connectors.Registration, err error) {
	s.logger.Warn("Connection test failed",
		zap.String("type", dsType),
		zap.Any("options", logging.RedactOptions(container.Map(true), registration.ConfigSchema)),
		zap.String("error", logging.SanitizeError(err)))
}

// load fetches one data source and attaches decrypted options.
func (s *dataSourceService) load(ctx context.Context, orgID, id uuid.UUID) (*models.DataSource, error) {
	ds, encrypted, err := s.repo.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachOptions(ds, encrypted); err != nil {
		return nil, err
	}
	return ds, nil
}

// encryptOptions serializes the full (secrets included) value mapping
// and encrypts it for storage.
func (s *dataSourceService) encryptOptions(container *configuration.Container) (string, error) {
	plaintext, err := json.Marshal(container.Map(true))
	if err != nil {
		return "", fmt.Errorf("failed to serialize options: %w", err)
	}
	encrypted, err := s.encryptor.Encrypt(string(plaintext))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt options: %w", err)
	}
	return encrypted, nil
}

// attachOptions decrypts the stored blob and rebuilds the container
// against the connector type's current schema. A decryption failure
// means the secrets key changed since the record was written.
func (s *dataSourceService) attachOptions(ds *models.DataSource, encrypted string) error {
	plaintext, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return fmt.Errorf("%w: data source %s", apperrors.ErrSecretsKeyMismatch, ds.ID)
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(plaintext), &values); err != nil {
		return fmt.Errorf("failed to parse stored options for %s: %w", ds.ID, err)
	}

	// A type no longer registered yields an empty schema; masked
	// serialization then reveals nothing, since no field can be shown
	// to be non-secret.
	schema := configuration.Schema{}
	if registration, ok := connectors.Lookup(ds.Type); ok {
		schema = registration.ConfigSchema
	}

	// Stored values predate any schema change, so rebuild the container
	// without re-validating; IsValid reports drift on demand.
	ds.Options = configuration.Rehydrate(values, schema)

	return nil
}

// orgIDFromClaims parses the organization id from the token claims.
func orgIDFromClaims(claims *auth.Claims) (uuid.UUID, error) {
	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid org claim: %w", err)
	}
	return orgID, nil
}

// Ensure dataSourceService implements DataSourceService at compile time.
var _ DataSourceService = (*dataSourceService)(nil)

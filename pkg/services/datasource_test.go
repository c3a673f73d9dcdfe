package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ordd/redash/pkg/apperrors"
	"github.com/ordd/redash/pkg/audit"
	"github.com/ordd/redash/pkg/auth"
	"github.com/ordd/redash/pkg/configuration"
	"github.com/ordd/redash/pkg/connectors"
	"github.com/ordd/redash/pkg/crypto"
	"github.com/ordd/redash/pkg/logging"
	"github.com/ordd/redash/pkg/models"
)

const testSecretsKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM="

// stubConnector is registered under the "stub" type for service tests.
type stubConnector struct {
	testErr   error
	schemaErr error
	tables    []connectors.TableSchema
}

func (c *stubConnector) TestConnection(ctx context.Context) error { return c.testErr }
func (c *stubConnector) Schema(ctx context.Context) ([]connectors.TableSchema, error) {
	return c.tables, c.schemaErr
}
func (c *stubConnector) Close() error { return nil }

// stubFactory is swapped per test to control connector behavior.
var stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
	return &stubConnector{}, nil
}

func init() {
	connectors.Register(connectors.Registration{
		Type:        "stub",
		DisplayName: "Stub",
		ConfigSchema: configuration.Schema{Fields: []configuration.Field{
			{Name: "host", Type: configuration.TypeString, Required: true},
			{Name: "port", Type: configuration.TypeNumber, Required: true},
			{Name: "password", Type: configuration.TypeSecret, Required: true},
			{Name: "sslmode", Type: configuration.TypeString},
		}},
		Factory: func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
			return stubFactory(ctx, options)
		},
	})
}

// mockDataSourceRepo is a hand-written in-memory repository.
type mockDataSourceRepo struct {
	sources map[uuid.UUID]*models.DataSource
	blobs   map[uuid.UUID]string

	createErr error
	updateErr error
}

func newMockRepo() *mockDataSourceRepo {
	return &mockDataSourceRepo{
		sources: make(map[uuid.UUID]*models.DataSource),
		blobs:   make(map[uuid.UUID]string),
	}
}

func (m *mockDataSourceRepo) Create(ctx context.Context, ds *models.DataSource, encryptedOptions string) error {
	if m.createErr != nil {
		return m.createErr
	}
	ds.ID = uuid.New()
	copied := *ds
	m.sources[ds.ID] = &copied
	m.blobs[ds.ID] = encryptedOptions
	return nil
}

func (m *mockDataSourceRepo) GetByID(ctx context.Context, orgID, id uuid.UUID) (*models.DataSource, string, error) {
	ds, ok := m.sources[id]
	if !ok || ds.OrgID != orgID {
		return nil, "", apperrors.ErrNotFound
	}
	copied := *ds
	return &copied, m.blobs[id], nil
}

func (m *mockDataSourceRepo) List(ctx context.Context, orgID uuid.UUID) ([]*models.DataSource, []string, error) {
	var sources []*models.DataSource
	var blobs []string
	for id, ds := range m.sources {
		if ds.OrgID != orgID {
			continue
		}
		copied := *ds
		sources = append(sources, &copied)
		blobs = append(blobs, m.blobs[id])
	}
	return sources, blobs, nil
}

func (m *mockDataSourceRepo) ListForGroups(ctx context.Context, orgID uuid.UUID, groupIDs []uuid.UUID) ([]*models.DataSource, []string, error) {
	var sources []*models.DataSource
	var blobs []string
	for id, ds := range m.sources {
		if ds.OrgID != orgID {
			continue
		}
		// One row per matching grant, as the SQL join produces.
		for _, g := range groupIDs {
			if _, ok := ds.Groups[g]; ok {
				copied := *ds
				sources = append(sources, &copied)
				blobs = append(blobs, m.blobs[id])
			}
		}
	}
	return sources, blobs, nil
}

func (m *mockDataSourceRepo) Update(ctx context.Context, id uuid.UUID, name, connectorType, encryptedOptions string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	ds, ok := m.sources[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ds.Name = name
	ds.Type = connectorType
	m.blobs[id] = encryptedOptions
	return nil
}

func (m *mockDataSourceRepo) UpdateState(ctx context.Context, id uuid.UUID, paused bool, reason string) error {
	ds, ok := m.sources[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ds.Paused = paused
	ds.PauseReason = reason
	return nil
}

func (m *mockDataSourceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.sources[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.sources, id)
	delete(m.blobs, id)
	return nil
}

// fakeScoper skips database scoping for unit tests.
type fakeScoper struct {
	err error
}

func (f *fakeScoper) WithOrgScope(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return ctx, func() {}, nil
}

func newTestService(t *testing.T, repo *mockDataSourceRepo) DataSourceService {
	t.Helper()
	encryptor, err := crypto.NewOptionsEncryptor(testSecretsKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	return NewDataSourceService(repo, &fakeScoper{}, encryptor, audit.NewRecorder(zap.NewNop()), zap.NewNop())
}

func adminClaims(orgID uuid.UUID) *auth.Claims {
	return &auth.Claims{OrgID: orgID.String(), Roles: []string{"admin"}}
}

func memberClaims(orgID uuid.UUID, groups ...uuid.UUID) *auth.Claims {
	c := &auth.Claims{OrgID: orgID.String(), Roles: []string{"member"}}
	for _, g := range groups {
		c.Groups = append(c.Groups, g.String())
	}
	return c
}

func validOptions() map[string]any {
	return map[string]any{"host": "db.internal", "port": 5432, "password": "hunter2"}
}

func TestCreate_StoresEncryptedOptions(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ds.ID == uuid.Nil {
		t.Error("expected generated id")
	}

	blob := repo.blobs[ds.ID]
	if blob == "" {
		t.Fatal("expected encrypted options in storage")
	}
	var leaked map[string]any
	if json.Unmarshal([]byte(blob), &leaked) == nil {
		t.Error("stored options are plaintext JSON, expected ciphertext")
	}

	// Round-trip through Get restores the full mapping.
	got, err := svc.Get(context.Background(), adminClaims(orgID), ds.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v, _ := got.Options.Get("password"); v != "hunter2" {
		t.Errorf("expected decrypted password, got %v", v)
	}
}

func TestCreate_UnknownTypeFailsBeforePersistence(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)

	_, err := svc.Create(context.Background(), adminClaims(uuid.New()), "x", "mongodb", validOptions())
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var verr *apperrors.ValidationError
	errors.As(err, &verr)
	if verr.Field != "type" {
		t.Errorf("expected violation on 'type', got %q", verr.Field)
	}
	if len(repo.sources) != 0 {
		t.Error("nothing should be persisted for an unknown type")
	}
}

func TestCreate_InvalidOptionsFailBeforePersistence(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)

	_, err := svc.Create(context.Background(), adminClaims(uuid.New()), "x", "stub", map[string]any{"host": "h"})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(repo.sources) != 0 {
		t.Error("nothing should be persisted for invalid options")
	}
}

func TestCreate_GrantsDefaultGroupWrite(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()
	defaultGroup := uuid.New()

	claims := adminClaims(orgID)
	claims.DefaultGroupID = defaultGroup.String()

	ds, err := svc.Create(context.Background(), claims, "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ds.Groups[defaultGroup] != models.PermissionWrite {
		t.Errorf("expected write grant for default group, got %v", ds.Groups)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := newTestService(t, newMockRepo())

	_, err := svc.Get(context.Background(), adminClaims(uuid.New()), uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_OtherOrgIsNotFound(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.Get(context.Background(), adminClaims(uuid.New()), ds.ID)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound across org boundary, got %v", err)
	}
}

func TestUpdate_MergesOptions(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Partial update: password omitted, must survive the merge.
	updated, err := svc.Update(context.Background(), adminClaims(orgID), ds.ID, "Warehouse v2", "stub",
		map[string]any{"host": "replica.internal"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Name != "Warehouse v2" {
		t.Errorf("expected updated name, got %q", updated.Name)
	}
	if v, _ := updated.Options.Get("host"); v != "replica.internal" {
		t.Errorf("expected merged host, got %v", v)
	}
	if v, _ := updated.Options.Get("password"); v != "hunter2" {
		t.Errorf("expected retained password, got %v", v)
	}

	got, err := svc.Get(context.Background(), adminClaims(orgID), ds.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v, _ := got.Options.Get("password"); v != "hunter2" {
		t.Errorf("expected persisted password after merge, got %v", v)
	}
}

func TestUpdate_InvalidMergeLeavesRecordUntouched(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.Update(context.Background(), adminClaims(orgID), ds.ID, "Warehouse", "stub",
		map[string]any{"port": "not-a-number"})
	if !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	got, err := svc.Get(context.Background(), adminClaims(orgID), ds.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v, _ := got.Options.Get("port"); v != float64(5432) {
		t.Errorf("expected stored port unchanged, got %v", v)
	}
}

func TestUpdate_UnknownTypeRejected(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.Update(context.Background(), adminClaims(orgID), ds.ID, "Warehouse", "nope", nil)
	if !apperrors.IsValidation(err) {
		t.Errorf("expected validation error for unknown type, got %v", err)
	}
}

func TestDelete_RemovesRecord(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := svc.Delete(context.Background(), adminClaims(orgID), ds.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(context.Background(), adminClaims(orgID), ds.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDelete_OtherOrgIsNotFound(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err = svc.Delete(context.Background(), adminClaims(uuid.New()), ds.ID)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound across org boundary, got %v", err)
	}
	if len(repo.sources) != 1 {
		t.Error("record should still exist")
	}
}

func TestPauseResume_Lifecycle(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	paused, err := svc.Pause(context.Background(), adminClaims(orgID), ds.ID, "maintenance")
	if err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if !paused.Paused || paused.PauseReason != "maintenance" {
		t.Errorf("expected paused with reason, got paused=%v reason=%q", paused.Paused, paused.PauseReason)
	}

	// Re-pause overwrites the reason.
	paused, err = svc.Pause(context.Background(), adminClaims(orgID), ds.ID, "migration")
	if err != nil {
		t.Fatalf("second Pause failed: %v", err)
	}
	if paused.PauseReason != "migration" {
		t.Errorf("expected reason overwritten, got %q", paused.PauseReason)
	}

	resumed, err := svc.Resume(context.Background(), adminClaims(orgID), ds.ID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.Paused || resumed.PauseReason != "" {
		t.Errorf("expected active with cleared reason, got paused=%v reason=%q", resumed.Paused, resumed.PauseReason)
	}

	// Resume on an active source is a no-op, not an error.
	if _, err := svc.Resume(context.Background(), adminClaims(orgID), ds.ID); err != nil {
		t.Errorf("Resume on active source failed: %v", err)
	}
}

func TestList_AdminSeesAll(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), adminClaims(orgID), fmt.Sprintf("ds-%d", i), "stub", validOptions()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	entries, err := svc.List(context.Background(), adminClaims(orgID))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.ViewOnly {
			t.Error("admin entries must not be view-only")
		}
	}
}

func TestList_MemberSeesSharedOnly(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()
	group := uuid.New()

	shared, err := svc.Create(context.Background(), adminClaims(orgID), "shared", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	repo.sources[shared.ID].Groups = map[uuid.UUID]models.Permission{group: models.PermissionRead}

	if _, err := svc.Create(context.Background(), adminClaims(orgID), "private", "stub", validOptions()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	entries, err := svc.List(context.Background(), memberClaims(orgID, group))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].DataSource.ID != shared.ID {
		t.Error("expected the shared source")
	}
	if !entries[0].ViewOnly {
		t.Error("read-only grant must yield view-only entry")
	}
}

func TestList_OverlappingGroupsYieldOneEntry(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()
	g1, g2 := uuid.New(), uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "shared", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	repo.sources[ds.ID].Groups = map[uuid.UUID]models.Permission{
		g1: models.PermissionRead,
		g2: models.PermissionWrite,
	}

	entries, err := svc.List(context.Background(), memberClaims(orgID, g1, g2))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected deduplicated listing, got %d entries", len(entries))
	}
	// Write via any shared group clears the flag.
	if entries[0].ViewOnly {
		t.Error("write grant in one shared group must clear view-only")
	}
}

func TestList_AscendingIDOrder(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	for i := 0; i < 5; i++ {
		if _, err := svc.Create(context.Background(), adminClaims(orgID), fmt.Sprintf("ds-%d", i), "stub", validOptions()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	// The in-memory repository iterates a map, so row order is
	// unpredictable; the listing must sort regardless.
	entries, err := svc.List(context.Background(), adminClaims(orgID))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1].DataSource.ID, entries[i].DataSource.ID
		if bytes.Compare(prev[:], cur[:]) >= 0 {
			t.Fatalf("entries not in ascending id order: %s before %s", prev, cur)
		}
	}
}

func TestList_RetiredConnectorTypeStaysMasked(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Simulate the connector type disappearing from the build after the
	// record was stored. With no schema left, no field can be proven
	// non-secret, so the masked view must reveal nothing.
	repo.sources[ds.ID].Type = "retired"

	entries, err := svc.List(context.Background(), adminClaims(orgID))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	masked := entries[0].DataSource.Options.Map(false)
	if len(masked) != 0 {
		t.Errorf("masked options for a retired type must be empty, got %v", masked)
	}

	// The stored values themselves survive for admin-only views.
	full := entries[0].DataSource.Options.Map(true)
	if full["password"] != "hunter2" {
		t.Errorf("expected stored password intact, got %v", full["password"])
	}
}

func TestLiveSchema_ReturnsTables(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
		if options["password"] != "hunter2" {
			t.Errorf("factory must receive secrets, got %v", options["password"])
		}
		return &stubConnector{tables: []connectors.TableSchema{
			{Name: "orders", Columns: []string{"id", "total"}},
		}}, nil
	}
	defer func() {
		stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
			return &stubConnector{}, nil
		}
	}()

	tables, err := svc.LiveSchema(context.Background(), adminClaims(orgID), ds.ID)
	if err != nil {
		t.Fatalf("LiveSchema failed: %v", err)
	}
	if len(tables) != 1 || tables[0].Name != "orders" {
		t.Errorf("unexpected schema: %+v", tables)
	}
}

func TestLiveSchema_UpstreamFailure(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
		return &stubConnector{schemaErr: errors.New("connection refused")}, nil
	}
	defer func() {
		stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
			return &stubConnector{}, nil
		}
	}()

	_, err = svc.LiveSchema(context.Background(), adminClaims(orgID), ds.ID)
	if !errors.Is(err, apperrors.ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestLiveSchema_MemberWithoutAccessDenied(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(t, repo)
	orgID := uuid.New()

	ds, err := svc.Create(context.Background(), adminClaims(orgID), "Warehouse", "stub", validOptions())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = svc.LiveSchema(context.Background(), memberClaims(orgID, uuid.New()), ds.ID)
	if !errors.Is(err, apperrors.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestTestConnection_Success(t *testing.T) {
	svc := newTestService(t, newMockRepo())

	if err := svc.TestConnection(context.Background(), "stub", validOptions()); err != nil {
		t.Errorf("TestConnection failed: %v", err)
	}
}

func TestTestConnection_ProbeFailure(t *testing.T) {
	svc := newTestService(t, newMockRepo())

	stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
		return &stubConnector{testErr: errors.New("auth failed")}, nil
	}
	defer func() {
		stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
			return &stubConnector{}, nil
		}
	}()

	err := svc.TestConnection(context.Background(), "stub", validOptions())
	if !errors.Is(err, apperrors.ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestTestConnection_FailureLogsRedactedOptions(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	encryptor, err := crypto.NewOptionsEncryptor(testSecretsKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	svc := NewDataSourceService(newMockRepo(), &fakeScoper{}, encryptor, audit.NewRecorder(zap.NewNop()), zap.New(core))

	stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
		return &stubConnector{testErr: errors.New("dial postgresql://svc:hunter2@db:5432/x: refused")}, nil
	}
	defer func() {
		stubFactory = func(ctx context.Context, options map[string]any) (connectors.Connector, error) {
			return &stubConnector{}, nil
		}
	}()

	if err := svc.TestConnection(context.Background(), "stub", validOptions()); !errors.Is(err, apperrors.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	entries := logs.FilterMessage("Connection test failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	fields := entries[0].ContextMap()
	options, ok := fields["options"].(map[string]any)
	if !ok {
		t.Fatalf("expected options field, got %v", fields["options"])
	}
	if options["password"] != logging.RedactedText {
		t.Errorf("expected redacted password in log, got %v", options["password"])
	}
	if options["host"] != "db.internal" {
		t.Errorf("expected non-secret host to survive, got %v", options["host"])
	}
	if msg, _ := fields["error"].(string); msg == "" || bytes.Contains([]byte(msg), []byte("hunter2")) {
		t.Errorf("expected sanitized error message, got %q", msg)
	}
}

func TestTestConnection_InvalidOptions(t *testing.T) {
	svc := newTestService(t, newMockRepo())

	err := svc.TestConnection(context.Background(), "stub", map[string]any{"host": "h"})
	if !apperrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTypes_IncludesRegisteredConnectors(t *testing.T) {
	svc := newTestService(t, newMockRepo())

	var found bool
	for _, info := range svc.Types() {
		if info.Type == "stub" && info.DisplayName == "Stub" {
			found = true
		}
	}
	if !found {
		t.Error("expected stub connector in type listing")
	}
}

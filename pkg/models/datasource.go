package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ordd/redash/pkg/configuration"
)

// Permission is the access level a group holds on a data source.
type Permission string

const (
	// PermissionRead allows using the data source but not modifying it.
	PermissionRead Permission = "read"
	// PermissionWrite allows full use and modification.
	PermissionWrite Permission = "write"
)

// DataSource is a named instance of a connector type registered by an
// organization. Options are encrypted at rest by the service layer;
// the in-memory container always holds decrypted values.
type DataSource struct {
	ID      uuid.UUID `json:"id"`
	OrgID   uuid.UUID `json:"org_id"`
	Name    string    `json:"name"`
	Type    string    `json:"type"` // connector type, e.g. "pg", "sqlserver"
	Options *configuration.Container

	// Groups maps group id to the permission that group holds.
	// Insertion order is irrelevant; listings aggregate across all
	// entries shared with the requester.
	Groups map[uuid.UUID]Permission `json:"groups"`

	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pause marks the data source inoperative, recording an optional
// reason. Re-pausing is not an error: the reason is overwritten, which
// makes the operation safe to replay under concurrent administration.
func (ds *DataSource) Pause(reason string) {
	ds.Paused = true
	ds.PauseReason = reason
}

// Resume returns the data source to active use. Resuming an active
// source is a no-op. The pause reason is meaningful only while paused
// and is always cleared here.
func (ds *DataSource) Resume() {
	ds.Paused = false
	ds.PauseReason = ""
}

// DataSourceListEntry is one row of a listing response: the data
// source plus the computed view-only flag for the requesting identity.
// Entries are unique per data source id.
type DataSourceListEntry struct {
	DataSource *DataSource
	ViewOnly   bool
}

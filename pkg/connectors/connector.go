// Package connectors holds the process-wide registry of connector
// types. Each connector declares its configuration schema and a display
// name at init time; the registry is read-only afterwards.
package connectors

import "context"

// Connector is a live handle to the underlying system a data source
// points at. Each implementation owns its connection and must be
// closed when done. Calls propagate the caller-supplied context, so a
// deadline set by the caller bounds any network I/O here.
type Connector interface {
	// TestConnection verifies the underlying system is reachable with
	// the configured credentials.
	TestConnection(ctx context.Context) error

	// Schema returns the addressable objects for query authoring:
	// table names with their column names. No retry is attempted on
	// failure; retry policy belongs to the caller.
	Schema(ctx context.Context) ([]TableSchema, error)

	// Close releases the connection.
	Close() error
}

// TableSchema is one addressable object in a connector's live schema.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

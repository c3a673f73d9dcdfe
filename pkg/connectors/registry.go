package connectors

import (
	"context"
	"sort"
	"sync"

	"github.com/ordd/redash/pkg/configuration"
)

// TypeInfo describes a registered connector type for discovery.
type TypeInfo struct {
	Type        string `json:"type"` // "pg", "sqlserver"
	DisplayName string `json:"name"` // "PostgreSQL", "Microsoft SQL Server"
}

// Registration binds a connector type to its configuration schema and
// factory. The schema is immutable once registered.
type Registration struct {
	Type         string
	DisplayName  string
	ConfigSchema configuration.Schema

	// Factory opens a live connector from validated option values.
	Factory func(ctx context.Context, options map[string]any) (Connector, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each connector's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Type] = reg
}

// Lookup returns the registration for a connector type. A missing type
// is a caller error, not a registry fault.
func Lookup(connectorType string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[connectorType]
	return reg, ok
}

// SchemaFor returns the configuration schema for a connector type.
func SchemaFor(connectorType string) (configuration.Schema, bool) {
	reg, ok := Lookup(connectorType)
	return reg.ConfigSchema, ok
}

// Types returns all registered connector types sorted by display name
// ascending, tie-broken by type identifier so the order is stable.
func Types() []TypeInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]TypeInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, TypeInfo{Type: reg.Type, DisplayName: reg.DisplayName})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayName != result[j].DisplayName {
			return result[i].DisplayName < result[j].DisplayName
		}
		return result[i].Type < result[j].Type
	})
	return result
}

// Package postgres implements the PostgreSQL connector.
package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ordd/redash/pkg/connectors"
)

// Connector provides PostgreSQL connectivity for connection testing
// and live schema introspection.
type Connector struct {
	cfg  *Config
	pool *pgxpool.Pool
}

// New opens a PostgreSQL connector from validated option values.
func New(ctx context.Context, options map[string]any) (connectors.Connector, error) {
	cfg, err := configFromMap(options)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.connectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &Connector{cfg: cfg, pool: pool}, nil
}

// TestConnection verifies the database is reachable with the
// configured credentials.
func (c *Connector) TestConnection(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Schema returns all user tables with their column names. Tables in
// the public schema are reported bare; other schemas are prefixed.
func (c *Connector) Schema(ctx context.Context) ([]connectors.TableSchema, error) {
	const query = `
		SELECT table_schema, table_name, column_name
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name, ordinal_position`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("introspect schema: %w", err)
	}
	defer rows.Close()

	byTable := make(map[string][]string)
	for rows.Next() {
		var schemaName, tableName, columnName string
		if err := rows.Scan(&schemaName, &tableName, &columnName); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		name := tableName
		if schemaName != "public" {
			name = schemaName + "." + tableName
		}
		byTable[name] = append(byTable[name], columnName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}

	tables := make([]connectors.TableSchema, 0, len(byTable))
	for name, columns := range byTable {
		tables = append(tables, connectors.TableSchema{Name: name, Columns: columns})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}

// Close releases the connection pool.
func (c *Connector) Close() error {
	c.pool.Close()
	return nil
}

// Package sqlserver implements the Microsoft SQL Server connector.
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/ordd/redash/pkg/connectors"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  bool
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

func configFromMap(options map[string]any) (*Config, error) {
	cfg := &Config{Port: DefaultPort(), Encrypt: true}

	host, ok := options["host"].(string)
	if !ok || host == "" {
		return nil, fmt.Errorf("host is required")
	}
	cfg.Host = host

	switch port := options["port"].(type) {
	case float64:
		cfg.Port = int(port)
	case int:
		cfg.Port = port
	}

	if user, ok := options["user"].(string); ok {
		cfg.User = user
	}
	if password, ok := options["password"].(string); ok {
		cfg.Password = password
	}
	if dbname, ok := options["dbname"].(string); ok {
		cfg.Database = dbname
	}
	if encrypt, ok := options["encrypt"].(bool); ok {
		cfg.Encrypt = encrypt
	}

	return cfg, nil
}

// connectionString builds a sqlserver URL. url.URL handles escaping of
// user-provided credentials.
func (cfg *Config) connectionString() string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	if cfg.Encrypt {
		query.Set("encrypt", "true")
	} else {
		query.Set("encrypt", "disable")
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// Connector provides SQL Server connectivity for connection testing
// and live schema introspection.
type Connector struct {
	cfg *Config
	db  *sql.DB
}

// New opens a SQL Server connector from validated option values.
func New(ctx context.Context, options map[string]any) (connectors.Connector, error) {
	cfg, err := configFromMap(options)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", cfg.connectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to sqlserver: %w", err)
	}

	return &Connector{cfg: cfg, db: db}, nil
}

// TestConnection verifies the database is reachable with the
// configured credentials.
func (c *Connector) TestConnection(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Schema returns all user tables with their column names. Tables in
// the dbo schema are reported bare; other schemas are prefixed.
func (c *Connector) Schema(ctx context.Context) ([]connectors.TableSchema, error) {
	const query = `
		SELECT TABLE_SCHEMA, TABLE_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
		ORDER BY TABLE_SCHEMA, TABLE_NAME, ORDINAL_POSITION`

	rows, err := c.db.QueryContext(ctx, query)
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
		if schemaName != "dbo" {
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

// Close releases the database handle.
func (c *Connector) Close() error {
	return c.db.Close()
}

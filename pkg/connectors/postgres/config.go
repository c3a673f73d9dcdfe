package postgres

import (
	"fmt"
	"net/url"
)

// Config contains PostgreSQL-specific connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// configFromMap builds a Config from validated option values. Numbers
// arrive as float64 when the options travelled through JSON and as int
// when constructed natively.
func configFromMap(options map[string]any) (*Config, error) {
	cfg := &Config{Port: DefaultPort(), SSLMode: "prefer"}

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
	if sslmode, ok := options["sslmode"].(string); ok && sslmode != "" {
		cfg.SSLMode = sslmode
	}

	return cfg, nil
}

// connectionString builds a PostgreSQL URL with proper escaping.
// User-provided fields must be URL-escaped to handle special
// characters in passwords (e.g. @, /, #, ?) that would otherwise break
// URL parsing.
func (cfg *Config) connectionString() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		cfg.SSLMode,
	)
}

package postgres

import (
	"github.com/ordd/redash/pkg/configuration"
	"github.com/ordd/redash/pkg/connectors"
)

func init() {
	connectors.Register(connectors.Registration{
		Type:        "pg",
		DisplayName: "PostgreSQL",
		ConfigSchema: configuration.Schema{Fields: []configuration.Field{
			{Name: "host", Type: configuration.TypeString, Required: true},
			{Name: "port", Type: configuration.TypeNumber, Required: true},
			{Name: "user", Type: configuration.TypeString, Required: true},
			{Name: "password", Type: configuration.TypeSecret},
			{Name: "dbname", Type: configuration.TypeString, Required: true},
			{Name: "sslmode", Type: configuration.TypeString},
		}},
		Factory: New,
	})
}

package sqlserver

import (
	"github.com/ordd/redash/pkg/configuration"
	"github.com/ordd/redash/pkg/connectors"
)

func init() {
	connectors.Register(connectors.Registration{
		Type:        "sqlserver",
		DisplayName: "Microsoft SQL Server",
		ConfigSchema: configuration.Schema{Fields: []configuration.Field{
			{Name: "host", Type: configuration.TypeString, Required: true},
			{Name: "port", Type: configuration.TypeNumber},
			{Name: "user", Type: configuration.TypeString, Required: true},
			{Name: "password", Type: configuration.TypeSecret, Required: true},
			{Name: "dbname", Type: configuration.TypeString, Required: true},
			{Name: "encrypt", Type: configuration.TypeBoolean},
		}},
		Factory: New,
	})
}

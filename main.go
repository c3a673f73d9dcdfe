package main

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ordd/redash/pkg/audit"
	"github.com/ordd/redash/pkg/auth"
	"github.com/ordd/redash/pkg/config"
	"github.com/ordd/redash/pkg/crypto"
	"github.com/ordd/redash/pkg/database"
	"github.com/ordd/redash/pkg/handlers"
	"github.com/ordd/redash/pkg/logging"
	"github.com/ordd/redash/pkg/middleware"
	"github.com/ordd/redash/pkg/repositories"
	"github.com/ordd/redash/pkg/services"

	// Connector registrations.
	_ "github.com/ordd/redash/pkg/connectors/postgres"
	_ "github.com/ordd/redash/pkg/connectors/sqlserver"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
	)

	encryptor, err := crypto.NewOptionsEncryptor(cfg.SecretsKey)
	if err != nil {
		logger.Fatal("Failed to initialize options encryptor", zap.Error(err))
	}

	ctx := context.Background()

	if err := database.RunMigrations(cfg.Database.ConnectionString(), cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	validator, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		Endpoints:          cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(validator, logger)

	repo := repositories.NewDataSourceRepository()
	scopes := database.NewOrgScopeProvider(db)
	recorder := audit.NewRecorder(logger)
	dataSourceService := services.NewDataSourceService(repo, scopes, encryptor, recorder, logger)

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewDataSourceHandler(dataSourceService, logger).RegisterRoutes(mux, authMiddleware)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting datasource-admin",
		zap.String("addr", addr),
		zap.String("version", cfg.Version),
	)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

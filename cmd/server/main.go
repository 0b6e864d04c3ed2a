package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/episurv-server/internal/analytics"
	"github.com/episurv-server/internal/api"
	"github.com/episurv-server/internal/bulletin"
	"github.com/episurv-server/internal/config"
	"github.com/episurv-server/internal/database"
	"github.com/episurv-server/internal/datamart"
	"github.com/episurv-server/internal/grouping"
	"github.com/episurv-server/internal/refdata"
	"github.com/episurv-server/internal/repository"
	"github.com/episurv-server/internal/store"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting epidemiological surveillance server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run migrations before opening the pools.
	runner, err := database.NewMigrationRunner(
		configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := runner.Up(); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	runner.Close()

	// pgx pool serves the catalog repositories.
	db, err := database.NewConnection(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    int32(cfg.Database.MaxOpenConns),
		MinConns:    int32(cfg.Database.MaxIdleConns),
		MaxConnLife: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// database/sql connection serves the aggregate and bulletin stores.
	sqlDB, err := sql.Open("postgres", configManager.GetDatabaseConnectionString())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open aggregate connection")
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	defer sqlDB.Close()

	aggregates := store.NewAggregateStore(sqlDB, logger)
	engine := analytics.NewEngine(aggregates, logger)

	catalog := repository.NewCatalogRepository(db.Pool, logger)
	groups := grouping.NewResolver(catalog, logger)

	population, err := refdata.NewPopulationService(
		cfg.Cache, repository.NewPopulationRepository(db.Pool, logger), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create population service")
	}
	defer population.Close()

	bulletinStore, err := bulletin.NewPostgresStore(sqlDB)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create bulletin store")
	}
	generator := bulletin.NewGenerator(engine, bulletinStore, logger)

	refresher := datamart.NewRefresher(aggregates, cfg.Datamart, logger)
	if err := refresher.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start datamart refresher")
	}
	defer refresher.Stop()

	server := api.NewServer(configManager, api.Dependencies{
		Engine:        engine,
		Groups:        groups,
		GroupRepo:     catalog,
		Generator:     generator,
		BulletinStore: bulletinStore,
		Population:    population,
		Logger:        logger,
	})

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

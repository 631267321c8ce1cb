// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/chain-indexer/internal/config"
	"github.com/chain-indexer/internal/logging"
	"github.com/chain-indexer/internal/storage"
)

type options struct {
	DB     string `long:"db" description:"database to migrate" choice:"postgres" choice:"clickhouse" default:"postgres"`
	Action string `long:"action" description:"migration action" choice:"up" choice:"down" choice:"version" default:"up"`
	Dir    string `long:"dir" description:"migrations root directory" default:"migrations"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("db", opts.DB), zap.String("action", opts.Action))

	switch opts.DB {
	case "postgres":
		err = runPostgresMigrations(cfg, opts, logger)
	case "clickhouse":
		err = runClickHouseMigrations(cfg, opts, logger)
	}
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
}

func runPostgresMigrations(cfg *config.Config, opts options, logger *zap.Logger) error {
	databaseURL := storage.PostgresURL(&cfg.Database.Postgres)
	migrationsPath := opts.Dir + "/postgres"

	switch opts.Action {
	case "up":
		if err := storage.RunMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		logger.Info("postgres migrations completed")

	case "down":
		if err := storage.RollbackMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		logger.Info("postgres migration rolled back")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, migrationsPath)
		if err != nil {
			return err
		}
		logger.Info("postgres migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	return nil
}

func runClickHouseMigrations(cfg *config.Config, opts options, logger *zap.Logger) error {
	if opts.Action != "up" {
		return fmt.Errorf("clickhouse migrations only support the up action")
	}

	migrationsPath := opts.Dir + "/clickhouse"
	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", migrationsPath)
	}

	ctx := context.Background()
	db, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close clickhouse connection", zap.Error(err))
		}
	}()

	if err := storage.RunClickHouseMigrations(ctx, db, migrationsPath, logger); err != nil {
		return err
	}
	logger.Info("clickhouse migrations completed")
	return nil
}

// Package database owns the gorm connection and the persistent models.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fabrica-io/fabrica/internal/config"
)

var db *gorm.DB

// Initialize opens the database described by cfg and migrates the schema.
func Initialize(cfg *config.DatabaseConfig) error {
	var (
		conn *gorm.DB
		err  error
	)

	logMode := gormlogger.Default.LogMode(gormlogger.Warn)
	if cfg.LogQueries {
		logMode = gormlogger.Default.LogMode(gormlogger.Info)
	}

	switch cfg.Type {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port)
		conn, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logMode})
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		// Foreign keys must be switched on for the delete cascades to work.
		conn, err = gorm.Open(sqlite.Open(cfg.DatabasePath+"?_foreign_keys=on"), &gorm.Config{Logger: logMode})
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(conn); err != nil {
		return err
	}

	db = conn
	return nil
}

// Migrate applies the schema to conn. Exposed so tests can run against an
// in-memory database.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&Site{},
		&Page{},
		&PageVersion{},
		&ComponentRegistration{},
		&PluginRecord{},
		&EventLog{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// GetDB returns the process database handle.
func GetDB() *gorm.DB {
	return db
}

// SetDB installs a database handle. Intended for tests.
func SetDB(conn *gorm.DB) {
	db = conn
}

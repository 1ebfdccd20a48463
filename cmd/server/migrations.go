package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/sjtutim/hrdb-sub001/migrations"
)

// migrationTableName is the table goose uses to record applied versions.
const migrationTableName = "schema_migrations"

// slogGooseLogger adapts goose's logger interface to slog.
type slogGooseLogger struct{}

func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	slog.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrations")
	os.Exit(1)
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	slog.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrations")
}

// runMigrations executes a goose command against the embedded migration
// files. Supported commands are up, down, reset, status and version.
func runMigrations(db *sql.DB, logger *slog.Logger, command string) error {
	migrationLogger := logger.With("component", "migrations", "command", command)
	start := time.Now()

	goose.SetLogger(&slogGooseLogger{})
	goose.SetBaseFS(migrations.FS)
	goose.SetTableName(migrationTableName)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	migrationLogger.Info("Starting migration operation")

	var err error
	switch command {
	case "up":
		err = goose.Up(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	default:
		return fmt.Errorf("unknown migration command: %s (expected up, down, reset, status or version)", command)
	}

	if err != nil {
		return fmt.Errorf("migration command %q failed: %w", command, err)
	}

	migrationLogger.Info("Migration command executed successfully",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

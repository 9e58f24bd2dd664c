// Package migrate applies the embedded database schema.
package migrate

import (
	"database/sql"
	"embed"
	"flag"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
)

const migrationTable = "migration_info"

//go:embed sql/*
var sqlMigrateFS embed.FS

// Dialects understood by Up, keyed by the database/sql driver name.
var dialects = map[string]string{
	"pgx":    "postgres",
	"sqlite": "sqlite3",
}

func init() {
	migrate.SetTable(migrationTable)
}

func source(driver string) (*migrate.EmbedFileSystemMigrationSource, string, error) {
	dialect, ok := dialects[driver]
	if !ok {
		return nil, "", fmt.Errorf("unsupported database driver %q", driver)
	}
	root := "sql/postgres"
	if dialect == "sqlite3" {
		root = "sql/sqlite"
	}
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: sqlMigrateFS,
		Root:       root,
	}, dialect, nil
}

// Up applies every pending migration and returns how many ran.
func Up(logger *zap.Logger, db *sql.DB, driver string) (int, error) {
	src, dialect, err := source(driver)
	if err != nil {
		return 0, err
	}
	n, err := migrate.Exec(db, dialect, src, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("migrate up: %w", err)
	}
	logger.Info("Database migrations applied", zap.Int("count", n), zap.String("dialect", dialect))
	return n, nil
}

// Down rolls back at most limit migrations. A limit of 0 rolls back everything.
func Down(logger *zap.Logger, db *sql.DB, driver string, limit int) (int, error) {
	src, dialect, err := source(driver)
	if err != nil {
		return 0, err
	}
	n, err := migrate.ExecMax(db, dialect, src, migrate.Down, limit)
	if err != nil {
		return n, fmt.Errorf("migrate down: %w", err)
	}
	logger.Info("Database migrations rolled back", zap.Int("count", n), zap.String("dialect", dialect))
	return n, nil
}

// Pending returns the ids of the migrations not yet applied.
func Pending(db *sql.DB, driver string) ([]string, error) {
	src, dialect, err := source(driver)
	if err != nil {
		return nil, err
	}
	planned, _, err := migrate.PlanMigration(db, dialect, src, migrate.Up, 0)
	if err != nil {
		return nil, fmt.Errorf("plan migrations: %w", err)
	}
	ids := make([]string, 0, len(planned))
	for _, m := range planned {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// RunCmd executes a migrate subcommand: "up", "down [-limit n]" or "status".
func RunCmd(logger *zap.Logger, db *sql.DB, driver string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("migrate: missing subcommand, expected up, down or status")
	}

	switch args[0] {
	case "up":
		_, err := Up(logger, db, driver)
		return err
	case "down":
		flags := flag.NewFlagSet("migrate down", flag.ContinueOnError)
		limit := flags.Int("limit", 1, "Number of migrations to roll back. 0 rolls back everything.")
		if err := flags.Parse(args[1:]); err != nil {
			return err
		}
		_, err := Down(logger, db, driver, *limit)
		return err
	case "status":
		pending, err := Pending(db, driver)
		if err != nil {
			return err
		}
		logger.Info("Database migration status", zap.Int("pending", len(pending)), zap.Strings("ids", pending))
		return nil
	}
	return fmt.Errorf("migrate: unknown subcommand %q", args[0])
}

package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/erp/fiscal/internal/infrastructure/config"
	"github.com/erp/fiscal/internal/infrastructure/logger"
	"github.com/erp/fiscal/internal/infrastructure/migration"
)

const defaultMigrationsDir = "migrations"

func main() {
	var (
		migrationsPath string
		logLevel       string
	)
	flag.StringVar(&migrationsPath, "path", "", "Migrations directory (default: embedded schema; ./migrations for create/list)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(log, migrationsPath, args); err != nil {
		log.Error("Migration command failed", zap.String("command", args[0]), zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(log *zap.Logger, migrationsPath string, args []string) error {
	command := args[0]

	switch command {
	case "create", "list":
		return runFileCommand(log, resolveDir(migrationsPath), args)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	source := "embedded"
	if migrationsPath != "" {
		abs, err := filepath.Abs(migrationsPath)
		if err != nil {
			return fmt.Errorf("resolve migrations path: %w", err)
		}
		migrationsPath = abs
		source = abs
	}
	log.Info("Migration CLI started",
		zap.String("command", command),
		zap.String("source", source),
	)

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := migration.New(db, migrationsPath, log)
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		return m.Up()

	case "down":
		if !confirmed(args[1:]) {
			return errors.New("down drops every fiscal table; rerun with -confirm")
		}
		return m.Down()

	case "step":
		if len(args) < 2 {
			return errors.New("step count required: migrate step <n>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		return m.Steps(n)

	case "goto":
		if len(args) < 2 {
			return errors.New("version required: migrate goto <version>")
		}
		version, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		return m.GoTo(uint(version))

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		if version == 0 {
			log.Info("No migrations applied")
			return nil
		}
		log.Info("Current migration version",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)
		return nil

	case "force":
		if len(args) < 2 {
			return errors.New("version required: migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		return m.Force(version)

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runFileCommand(log *zap.Logger, dir string, args []string) error {
	if args[0] == "list" {
		names, err := migration.ListMigrations(dir)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			log.Info("No migrations found", zap.String("dir", dir))
			return nil
		}
		log.Info("Available migrations", zap.Int("count", len(names)))
		for _, n := range names {
			fmt.Println("  -", n)
		}
		return nil
	}

	if len(args) < 2 {
		return errors.New("migration name required: migrate create <name> [description]")
	}
	description := ""
	if len(args) > 2 {
		description = args[2]
	}
	mf, err := migration.CreateMigration(dir, args[1], description)
	if err != nil {
		return err
	}
	log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func resolveDir(path string) string {
	if path != "" {
		return path
	}
	return defaultMigrationsDir
}

func confirmed(args []string) bool {
	for _, a := range args {
		if a == "-confirm" || a == "--confirm" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Println(`Fiscal Database Migration Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down -confirm         Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  goto <version>        Migrate to a specific version
  version               Show current migration version
  force <version>       Force set migration version after a failed run
  create <name> [desc]  Create the next numbered migration file pair
  list                  List migrations in the migrations directory

Flags:
  -path string          Migrations directory; the embedded schema is used when empty
  -log-level string     Log level: debug, info, warn, error (default: info)

Environment Variables:
  FISCAL_DATABASE_HOST, FISCAL_DATABASE_PORT, FISCAL_DATABASE_USER,
  FISCAL_DATABASE_PASSWORD, FISCAL_DATABASE_NAME, FISCAL_DATABASE_SSLMODE

Examples:
  migrate up
  migrate step -1
  migrate create add_batch_notes "Free-text notes on payment batches"
  migrate version`)
}

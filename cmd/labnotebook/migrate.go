package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/BaSui01/labnotebook/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  labnotebook migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration (--all rolls back everything)
  steps <n>   Apply n migrations (negative n rolls back)
  force <v>   Force set migration version (use with caution)
  status      Show migration status
  version     Show current migration version

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: sqlite, postgres, mysql (default: from config)
  --db-url <url>      Database connection URL (default: from config)`)
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printMigrateUsage(stderr)
		return errUsage
	}
	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(stdout)
		return nil
	}

	fs := newFlagSet("migrate "+sub, stderr)
	configPath := configFlag(fs)
	dbType := fs.String("db-type", "", "Database type (sqlite, postgres, mysql)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	all := fs.Bool("all", false, "With down: rollback all migrations")
	pos, err := parse(fs, args[1:])
	if err != nil {
		return err
	}

	var arg int
	switch sub {
	case "steps", "force":
		if err := requireArgs(fs, pos, 1, "migrate "+sub+" <n>"); err != nil {
			return err
		}
		arg, err = strconv.Atoi(pos[0])
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", pos[0], errUsage)
		}
	case "up", "down", "status", "version":
	default:
		fmt.Fprintf(stderr, "Unknown migrate subcommand: %s\n", sub)
		printMigrateUsage(stderr)
		return errUsage
	}

	m, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	switch sub {
	case "up":
		if err := m.Up(ctx); err != nil {
			return err
		}
		return printMigrateVersion(ctx, m, stdout)
	case "down":
		if *all {
			v, _, err := m.Version(ctx)
			if err != nil {
				return err
			}
			if v > 0 {
				if err := m.Steps(ctx, -int(v)); err != nil {
					return err
				}
			}
		} else if err := m.Down(ctx); err != nil {
			return err
		}
		return printMigrateVersion(ctx, m, stdout)
	case "steps":
		if err := m.Steps(ctx, arg); err != nil {
			return err
		}
		return printMigrateVersion(ctx, m, stdout)
	case "force":
		if err := m.Force(ctx, arg); err != nil {
			return err
		}
		return printMigrateVersion(ctx, m, stdout)
	case "status":
		return printMigrateStatus(ctx, m, stdout)
	default:
		return printMigrateVersion(ctx, m, stdout)
	}
}

// createMigrator prefers explicit --db-type/--db-url over the config file
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func printMigrateVersion(ctx context.Context, m migration.Migrator, w io.Writer) error {
	v, dirty, err := m.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "version: %d dirty: %t\n", v, dirty)
	return nil
}

func printMigrateStatus(ctx context.Context, m migration.Migrator, w io.Writer) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED\tDIRTY")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%t\n", s.Version, s.Name, s.Applied, s.Dirty)
	}
	return tw.Flush()
}

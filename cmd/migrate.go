package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/golang-migrate/migrate/v4"
	migratedatabase "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/porthorian/consoleauth/pkg/storage/postgres/migrations"
)

const (
	defaultMigrationsTable = "consoleauth.schema_migrations"
	embeddedSourceLabel    = "embedded pkg/storage/postgres/migrations"
)

type migrateConfig struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

type migrateEnv struct {
	DatabaseURL     string `env:"MIGRATE_DATABASE_URL"`
	PostgresDSN     string `env:"POSTGRES_DSN"`
	MigrationsTable string `env:"MIGRATE_MIGRATIONS_TABLE"`
}

type migrationRunner struct {
	*migrate.Migrate
	source string
	table  string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	var cfg migrateConfig

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres session storage schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", "", "Database connection URL. Can also be set via CONSOLEAUTH_MIGRATE_DATABASE_URL or CONSOLEAUTH_POSTGRES_DSN.")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsTable, "migrations-table", "", "Migrations version table, table or schema.table. Defaults to "+defaultMigrationsTable+".")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files. Defaults to the schema built into the binary.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, hasSteps, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner migrationRunner) error {
				if hasSteps {
					err = runner.Steps(steps)
				} else {
					err = runner.Up()
				}

				switch applied, done := settleSteps(err, steps, hasSteps); {
				case done && applied == 0:
					cmd.Println("No schema changes to apply.")
				case done && applied < steps:
					cmd.Printf("Applied %d migration step(s) from %s (requested %d, reached migration boundary)\n", applied, runner.source, steps)
				case done:
					cmd.Printf("Applied %d migration step(s) from %s\n", applied, runner.source)
				case err != nil:
					return fmt.Errorf("apply migrations: %w", err)
				default:
					cmd.Printf("Applied all pending migrations from %s\n", runner.source)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner migrationRunner) error {
				err := runner.Steps(-steps)
				if isDroppedMigrationsTableError(err, runner.table) {
					cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, runner.source)
					cmd.Println("Migration tracking table was removed by rollback and will be recreated on the next run.")
					return nil
				}

				switch rolledBack, done := settleSteps(err, steps, true); {
				case done && rolledBack == 0:
					cmd.Println("No schema changes to roll back.")
				case done && rolledBack < steps:
					cmd.Printf("Rolled back %d migration step(s) from %s (requested %d, reached migration boundary)\n", rolledBack, runner.source, steps)
				case done:
					cmd.Printf("Rolled back %d migration step(s) from %s\n", rolledBack, runner.source)
				default:
					return fmt.Errorf("roll back migrations: %w", err)
				}
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set migration version (-1 for nil version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner migrationRunner) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force migration version: %w", err)
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	return migrateCmd
}

// settleSteps interprets the result of a step run. done is true when the
// run finished, either fully or by hitting the first or last migration;
// applied is the number of steps that took effect. A full Up reports done
// false with a nil error.
func settleSteps(err error, steps int, hasSteps bool) (applied int, done bool) {
	if err == nil {
		return steps, hasSteps
	}
	if isNoChangeBoundaryError(err) {
		return 0, true
	}

	var shortLimit migrate.ErrShortLimit
	if hasSteps && errors.As(err, &shortLimit) {
		return max(steps-int(shortLimit.Short), 0), true
	}
	return 0, false
}

func withMigrationRunner(cmd *cobra.Command, cfg migrateConfig, fn func(runner migrationRunner) error) error {
	runner, err := newMigrationRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return fn(runner)
}

func resolveMigrateConfig(cfg migrateConfig) (migrateConfig, error) {
	var fromEnv migrateEnv
	if err := env.ParseWithOptions(&fromEnv, env.Options{Prefix: envPrefix}); err != nil {
		return migrateConfig{}, fmt.Errorf("parse %s environment: %w", envPrefix, err)
	}

	resolved := migrateConfig{
		DatabaseURL:     firstNonEmpty(cfg.DatabaseURL, fromEnv.DatabaseURL, fromEnv.PostgresDSN),
		MigrationsTable: firstNonEmpty(cfg.MigrationsTable, fromEnv.MigrationsTable, defaultMigrationsTable),
		MigrationsPath:  strings.TrimSpace(cfg.MigrationsPath),
	}
	if resolved.DatabaseURL == "" {
		return migrateConfig{}, errors.New("missing database URL: set --database-url or CONSOLEAUTH_MIGRATE_DATABASE_URL")
	}
	return resolved, nil
}

func newMigrationRunner(cfg migrateConfig) (migrationRunner, error) {
	cfg, err := resolveMigrateConfig(cfg)
	if err != nil {
		return migrationRunner{}, err
	}

	if err := ensureMigrationsSchemaExists(cfg.DatabaseURL, cfg.MigrationsTable); err != nil {
		return migrationRunner{}, err
	}
	databaseURL, err := applyMigrationsTable(cfg.DatabaseURL, cfg.MigrationsTable)
	if err != nil {
		return migrationRunner{}, err
	}

	if cfg.MigrationsPath == "" {
		source, err := iofs.New(migrations.FS, ".")
		if err != nil {
			return migrationRunner{}, fmt.Errorf("open embedded migrations: %w", err)
		}
		m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
		if err != nil {
			return migrationRunner{}, fmt.Errorf("create migrate runner: %w", err)
		}
		return migrationRunner{Migrate: m, source: embeddedSourceLabel, table: cfg.MigrationsTable}, nil
	}

	sourceURL, err := resolveMigrationsSourceURL(cfg.MigrationsPath)
	if err != nil {
		return migrationRunner{}, err
	}
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return migrationRunner{}, fmt.Errorf("create migrate runner: %w", err)
	}
	return migrationRunner{Migrate: m, source: sourceURL, table: cfg.MigrationsTable}, nil
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

type migrationsTableSpec struct {
	Schema string
	Table  string
}

// qualified renders the table the way postgres prints it in queries.
func (s migrationsTableSpec) qualified() string {
	if s.Schema == "" {
		return pq.QuoteIdentifier(s.Table)
	}
	return pq.QuoteIdentifier(s.Schema) + "." + pq.QuoteIdentifier(s.Table)
}

var quotedIdentifierRegexp = regexp.MustCompile(`"(.*?)"`)

// parseMigrationsTableSpec accepts table, schema.table or their
// double-quoted forms.
func parseMigrationsTableSpec(value string) (migrationsTableSpec, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return migrationsTableSpec{}, nil
	}

	var parts []string
	if strings.Contains(raw, `"`) {
		for _, match := range quotedIdentifierRegexp.FindAllStringSubmatch(raw, -1) {
			parts = append(parts, match[1])
		}
	} else {
		parts = strings.Split(raw, ".")
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q", value)
		}
	}

	switch len(parts) {
	case 1:
		return migrationsTableSpec{Table: parts[0]}, nil
	case 2:
		return migrationsTableSpec{Schema: parts[0], Table: parts[1]}, nil
	default:
		return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
}

// applyMigrationsTable points golang-migrate at table through the
// x-migrations-table query parameter unless the URL already sets one.
func applyMigrationsTable(databaseURL string, table string) (string, error) {
	spec, err := parseMigrationsTableSpec(table)
	if err != nil {
		return "", err
	}
	if spec.Table == "" {
		return databaseURL, nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse --database-url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if spec.Schema != "" {
		query.Set("x-migrations-table", spec.qualified())
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", spec.Table)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func ensureMigrationsSchemaExists(databaseURL string, table string) error {
	spec, err := parseMigrationsTableSpec(table)
	if err != nil {
		return err
	}
	if spec.Schema == "" {
		return nil
	}

	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse --database-url: %w", err)
	}

	db, err := sql.Open("postgres", migrate.FilterCustomQuery(parsedURL).String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(spec.Schema)); err != nil {
		return fmt.Errorf("ensure migrations schema %q exists: %w", spec.Schema, err)
	}
	return nil
}

func resolveMigrationsSourceURL(pathOrURL string) (string, error) {
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

func isNoChangeBoundaryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}
	// Steps returns a bare os.ErrNotExist at the first or last migration.
	return err == os.ErrNotExist
}

// isDroppedMigrationsTableError matches the TRUNCATE failure seen when the
// last down migration drops the schema holding the version table.
func isDroppedMigrationsTableError(err error, migrationsTable string) bool {
	var dbErr *migratedatabase.Error
	if !errors.As(err, &dbErr) || dbErr == nil {
		return false
	}

	query := strings.TrimSpace(string(dbErr.Query))
	if !strings.HasPrefix(strings.ToUpper(query), "TRUNCATE ") {
		return false
	}

	spec, parseErr := parseMigrationsTableSpec(migrationsTable)
	if parseErr != nil || spec.Table == "" || !strings.Contains(query, spec.qualified()) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(dbErr.OrigErr, &pqErr) && string(pqErr.Code) == "3F000" {
		return true
	}

	message := strings.ToLower(dbErr.Error())
	return strings.Contains(message, "schema") && strings.Contains(message, "does not exist")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}

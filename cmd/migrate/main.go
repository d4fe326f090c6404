package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"go-leaf-doctor/internal/config"
	"go-leaf-doctor/internal/database"
	"go-leaf-doctor/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

var (
	flagDriver string
	flagDSN    string
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the leaf doctor database schema",
	Long: `Apply or revert the embedded schema migrations.

The driver and connection string default to DB_DRIVER and DATABASE_URL.`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, _ []string) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run up migrations: %w", err)
		}
		cmd.Println("migrations applied successfully")
		return nil
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, _ []string) error {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run down migrations: %w", err)
		}
		cmd.Println("migrations reverted successfully")
		return nil
	}),
}

var stepsCmd = &cobra.Command{
	Use:   "steps N",
	Short: "Apply N migrations (negative N reverts)",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
		}
		if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		cmd.Printf("applied %d migration steps\n", n)
		return nil
	}),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, _ []string) error {
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			cmd.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		cmd.Printf("version: %d, dirty: %v\n", v, dirty)
		return nil
	}),
}

var forceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Force the schema version without running migrations",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrator(func(cmd *cobra.Command, m *migrate.Migrate, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("version must be an integer, got %q", args[0])
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
		cmd.Printf("forced to version %d\n", v)
		return nil
	}),
}

func init() {
	defaults := config.Default()
	driver := os.Getenv("DB_DRIVER")
	if driver == "" {
		driver = defaults.Database.Driver
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = defaults.Database.URL
	}

	rootCmd.PersistentFlags().StringVar(&flagDriver, "driver", driver, "database driver (postgres or sqlite)")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", dsn, "database connection string")

	rootCmd.AddCommand(upCmd, downCmd, stepsCmd, versionCmd, forceCmd)
}

// withMigrator opens the database, hands a migrator to fn and closes it afterwards.
func withMigrator(fn func(*cobra.Command, *migrate.Migrate, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dbCfg := config.Default().Database
		dbCfg.Driver = flagDriver
		dbCfg.URL = flagDSN

		db, err := database.Open(context.Background(), dbCfg)
		if err != nil {
			return err
		}

		m, err := migrations.New(db, flagDriver)
		if err != nil {
			db.Close()
			return err
		}
		// Closing the migrator also closes db.
		defer m.Close()

		return fn(cmd, m, args)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

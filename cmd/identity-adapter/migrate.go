package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	identity "github.com/giantswarm/identity-adapter"
	"github.com/giantswarm/identity-adapter/storage/sqlite"
)

// databasePath overrides DATABASE_PATH for the admin commands.
var databasePath string

// resolveDatabasePath returns the --db flag or DATABASE_PATH. The admin
// commands skip full validation since they never issue tokens.
func resolveDatabasePath() (string, error) {
	if databasePath != "" {
		return databasePath, nil
	}
	cfg, err := identity.LoadConfig(envFiles...)
	if err != nil {
		return "", &configError{err: err}
	}
	return cfg.DatabasePath, nil
}

func openDatabase() (*sql.DB, error) {
	path, err := resolveDatabasePath()
	if err != nil {
		return nil, err
	}
	db, err := sqlite.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return db, nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect the sqlite schema migrations.`,
	}
	cmd.PersistentFlags().StringVar(&databasePath, "db", "", "sqlite database file (default DATABASE_PATH)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(func(db *sql.DB) error {
				if err := sqlite.MigrateUp(db); err != nil {
					return err
				}
				return printVersion(cmd, db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(func(db *sql.DB) error {
				if err := sqlite.MigrateDown(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all migrations rolled back")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(func(db *sql.DB) error {
				return printVersion(cmd, db)
			})
		},
	})

	return cmd
}

func withDatabase(fn func(*sql.DB) error) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	version, dirty, err := sqlite.MigrateVersion(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

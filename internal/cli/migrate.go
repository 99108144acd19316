package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/curbwatch/internal/db"
)

func newMigrateCmd(g *globals) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the state database schema",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "curbwatch.db", "state database")

	open := func() (*db.DB, error) { return db.OpenDB(dbPath) }

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := open()
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.MigrateUp(); err != nil {
				return err
			}
			return printMigrationStatus(cmd, g, database)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := open()
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.MigrateDown(); err != nil {
				return err
			}
			return printMigrationStatus(cmd, g, database)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current and latest schema versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := open()
			if err != nil {
				return err
			}
			defer database.Close()
			return printMigrationStatus(cmd, g, database)
		},
	}

	to := &cobra.Command{
		Use:   "to <version>",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			database, err := open()
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.MigrateTo(uint(v)); err != nil {
				return err
			}
			return printMigrationStatus(cmd, g, database)
		},
	}

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			database, err := open()
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.MigrateForce(v); err != nil {
				return err
			}
			return printMigrationStatus(cmd, g, database)
		},
	}

	cmd.AddCommand(up, down, to, status, force)
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, g *globals, database *db.DB) error {
	st, err := database.GetMigrationStatus()
	if err != nil {
		return err
	}
	if g.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Schema version: %d (latest %d)\n", st.CurrentVersion, st.LatestVersion)
	if st.Dirty {
		fmt.Fprintln(w, "  dirty: a migration failed part way; fix the schema and run 'migrate force'")
	}
	if st.Pending {
		fmt.Fprintln(w, "  migrations pending: run 'migrate up'")
	}
	return nil
}

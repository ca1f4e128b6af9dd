package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nitwit45/stream/storage"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the cache database schema",
	}

	migrations := func(run func(cmd *cobra.Command, m *storage.MigrationManager) error) func(*cobra.Command, []string) error {
		return withSchema(ctx, func(cmd *cobra.Command) error {
			m, err := ctx.store.Migrations()
			if err != nil {
				return err
			}
			return run(cmd, m)
		})
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
	}
	up.RunE = migrations(func(cmd *cobra.Command, m *storage.MigrationManager) error {
		applied, err := m.Up(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d migrations applied\n", applied)
		return nil
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
	}
	down.RunE = migrations(func(cmd *cobra.Command, m *storage.MigrationManager) error {
		if err := m.Down(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migration rolled back")
		return nil
	})

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
	}
	status.RunE = migrations(func(cmd *cobra.Command, m *storage.MigrationManager) error {
		statuses, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderMigrations(statuses))
		return nil
	})

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the schema version",
	}
	version.RunE = migrations(func(cmd *cobra.Command, m *storage.MigrationManager) error {
		v, err := m.Version(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database version: %d\n", v)
		return nil
	})

	var confirm bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Roll back every migration, dropping all cached content",
	}
	reset.Flags().BoolVar(&confirm, "yes", false, "confirm dropping the cache tables")
	reset.RunE = migrations(func(cmd *cobra.Command, m *storage.MigrationManager) error {
		if !confirm {
			return errors.New("reset drops all cached content, rerun with --yes")
		}
		if err := m.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset")
		return nil
	})

	cmd.AddCommand(up, down, status, version, reset)
	return cmd
}

func renderMigrations(statuses []storage.MigrationStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state, applied := "pending", "-"
		if st.Applied {
			state, applied = "applied", humanize.Time(st.AppliedAt)
		}
		rows = append(rows, []string{strconv.FormatInt(st.Version, 10), st.Name, state, applied})
	}
	return renderTable("Migrations", []string{"Version", "File", "State", "Applied"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft})
}

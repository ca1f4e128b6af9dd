package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "maintain",
		Short:         "Stream cache maintenance",
		Long:          "Populate, refresh and inspect the content availability cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newFetchAllCommand(ctx),
		newInitCacheCommand(ctx),
		newInitDBCommand(ctx),
		newUpdateEpisodesCommand(ctx),
		newCheckDBCommand(ctx),
		newTestEmailCommand(ctx),
		newMigrateCommand(ctx),
	)
	return rootCmd
}

// withStore wraps a command body so it runs with the store open and the
// maintenance lock held
func withStore(ctx *commandContext, run func(cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := ctx.open(); err != nil {
			ctx.close()
			return err
		}
		defer ctx.close()
		return run(cmd)
	}
}

// withSchema is withStore for commands that only touch the schema and need
// no catalog credentials
func withSchema(ctx *commandContext, run func(cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if err := ctx.openStore(false); err != nil {
			ctx.close()
			return err
		}
		defer ctx.close()
		return run(cmd)
	}
}

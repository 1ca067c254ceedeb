package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dancesync/dancesync-agent/internal/config"
)

func newRootCommand() *cobra.Command {
	var envFile string
	var jsonFlag bool

	ctx := newCommandContext(&envFile, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "dancesync",
		Short:         "Compare dance videos against a reference",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file seeding the environment")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Write JSON even when stdout is a terminal")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newScoreCommand(ctx))
	rootCmd.AddCommand(newCompareCommand(ctx))
	rootCmd.AddCommand(newAlignCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "dancesync %s (commit %s, built %s)\n",
				config.Version, config.GitCommit, config.BuildTime)
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CommonSenseMachines/blender-mcp/cli"
	"github.com/CommonSenseMachines/blender-mcp/logger"
)

func newDoctorCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check settings, the addon socket and optional integrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogging(cfg, logger.DefaultLogPath); err != nil {
				return err
			}
			defer logger.Close()

			results := cli.CheckAll(cmd.Context(), cli.DefaultPrerequisites(cfg))
			out := cmd.OutOrStdout()
			fmt.Fprint(out, cli.FormatCheckResults(results))
			fmt.Fprintf(out, "\nLog file: %s\n", logger.Path())
			return cli.ValidateRequired(results)
		},
	}
}

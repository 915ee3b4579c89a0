package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CommonSenseMachines/blender-mcp/logger"
	"github.com/CommonSenseMachines/blender-mcp/paths"
)

func newLogsCmd() *cobra.Command {
	var clearLogs bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show or clear the log files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if clearLogs {
				n, err := logger.ClearLogs()
				if err != nil {
					return fmt.Errorf("failed to clear logs: %w", err)
				}
				fmt.Fprintf(out, "Removed %d log file(s)\n", n)
				return nil
			}

			server, err := logger.DefaultLogPath()
			if err != nil {
				return err
			}
			addon, err := logger.AddonLogPath()
			if err != nil {
				return err
			}
			layout := "xdg"
			if paths.IsFlatLayout() {
				layout = "flat"
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "layout:\t%s\n", layout)
			fmt.Fprintf(tw, "serve:\t%s\n", server)
			fmt.Fprintf(tw, "addon:\t%s\n", addon)
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&clearLogs, "clear", false, "remove every log file")
	return cmd
}

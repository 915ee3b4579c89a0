package main

import (
	"os"
	"os/signal"
	"syscall"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/CommonSenseMachines/blender-mcp/connection"
	"github.com/CommonSenseMachines/blender-mcp/logger"
	"github.com/CommonSenseMachines/blender-mcp/mcp"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Start an MCP server on stdin/stdout. Every tool call is forwarded to the
addon host over its TCP socket; the connection is dialed lazily, probed
before each call and redialed after a failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogging(cfg, logger.DefaultLogPath); err != nil {
				return err
			}
			defer logger.Close()
			log := logger.WithComponent("serve")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn := connection.NewManager(cfg.Address())
			defer conn.Close()

			if err := conn.GetConnection(ctx); err != nil {
				log.Warn("could not connect to addon on startup; will retry on first tool call", "addr", cfg.Address(), "error", err)
			} else {
				log.Info("connected to addon on startup", "addr", cfg.Address(), "csm_enabled", conn.CSMEnabled())
			}

			return mcp.NewServer(conn, version).Run(ctx, &sdkmcp.StdioTransport{})
		},
	}
}

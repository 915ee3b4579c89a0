package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CommonSenseMachines/blender-mcp/config"
	"github.com/CommonSenseMachines/blender-mcp/logger"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	host       string
	port       int
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "blender-mcp",
		Short: "MCP bridge between AI agents and a live 3D scene",
		Long: `blender-mcp connects MCP-speaking agents to a 3D scene host:
  • serve   runs the MCP server on stdio and forwards tool calls to the host
  • addon   runs the scene host socket server with the in-memory engine
  • tools   spawns the MCP server and lists or calls its tools
  • doctor  checks settings, the host socket and optional integrations
  • logs    shows or clears the log files`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "settings file (default is <config dir>/settings.yaml)")
	pf.StringVar(&flags.host, "host", "", "addon host address (overrides settings)")
	pf.IntVar(&flags.port, "port", 0, "addon port (overrides settings)")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(flags),
		newAddonCmd(flags),
		newToolsCmd(flags),
		newDoctorCmd(flags),
		newLogsCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves settings from the file, .env, the environment and
// finally command-line flags.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configFile == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFile(f.configFile)
		if err == nil {
			err = config.LoadEnvFiles(".env")
		}
		if err == nil {
			err = cfg.ApplyEnv(os.Getenv)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if f.host != "" {
		cfg.Host = f.host
	}
	if f.port != 0 {
		if err := cfg.SetPort(f.port); err != nil {
			return nil, err
		}
	}
	if f.debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

// initLogging opens the log file returned by pathFn. Stdout is reserved for
// the MCP transport, so nothing is logged to the terminal.
func initLogging(cfg *config.Config, pathFn func() (string, error)) error {
	path, err := pathFn()
	if err != nil {
		return err
	}
	if err := logger.Init(path); err != nil {
		return err
	}
	logger.SetDebug(cfg.Debug)
	return nil
}

// childArgs forwards the global flags to a spawned subprocess.
func (f *globalFlags) childArgs(sub string) []string {
	args := []string{sub}
	if f.configFile != "" {
		args = append(args, "--config", f.configFile)
	}
	if f.host != "" {
		args = append(args, "--host", f.host)
	}
	if f.port != 0 {
		args = append(args, "--port", fmt.Sprint(f.port))
	}
	if f.debug {
		args = append(args, "--debug")
	}
	return args
}

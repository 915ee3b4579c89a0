package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func newToolsCmd(flags *globalFlags) *cobra.Command {
	var (
		call    string
		rawArgs string
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List or call the MCP server's tools",
		Long: `Spawn "blender-mcp serve" as a subprocess, connect to it as an MCP client
and list its tools. With --call, invoke one tool with JSON arguments and
print the result.`,
		Example: `  blender-mcp tools
  blender-mcp tools --call create_object --args '{"type": "SPHERE", "name": "Ball"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to locate executable: %w", err)
			}
			transport := &sdkmcp.CommandTransport{Command: exec.Command(exe, flags.childArgs("serve")...)}

			client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "blender-mcp-tools", Version: version}, nil)
			session, err := client.Connect(ctx, transport, nil)
			if err != nil {
				return fmt.Errorf("failed to start MCP server: %w", err)
			}
			defer session.Close()

			if call == "" {
				res, err := session.ListTools(ctx, nil)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, tool := range res.Tools {
					fmt.Fprintf(tw, "%s\t%s\n", tool.Name, tool.Description)
				}
				return tw.Flush()
			}

			args := map[string]any{}
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
					return fmt.Errorf("invalid --args: %w", err)
				}
			}
			res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: call, Arguments: args})
			if err != nil {
				return err
			}
			for _, c := range res.Content {
				if text, ok := c.(*sdkmcp.TextContent); ok {
					fmt.Fprintln(out, text.Text)
				}
			}
			if res.IsError {
				return fmt.Errorf("tool %s failed", call)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&call, "call", "", "tool to call instead of listing")
	cmd.Flags().StringVar(&rawArgs, "args", "", "JSON object of tool arguments for --call")
	return cmd
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/CommonSenseMachines/blender-mcp/logger"
)

// ServerName is reported to MCP clients during initialization.
const ServerName = "BlenderMCP"

// Sender forwards commands to the scene host. *connection.Manager
// implements it.
type Sender interface {
	GetConnection(ctx context.Context) error
	SendCommand(ctx context.Context, cmdType string, params map[string]any) (any, error)
}

// Server is the MCP tool surface.
type Server struct {
	conn   Sender
	server *sdkmcp.Server
	log    *slog.Logger
}

// NewServer creates a server that forwards every tool call through conn.
func NewServer(conn Sender, version string) *Server {
	s := &Server{
		conn: conn,
		server: sdkmcp.NewServer(&sdkmcp.Implementation{
			Name:    ServerName,
			Version: version,
		}, nil),
		log: logger.WithComponent("mcp"),
	}
	s.registerTools()
	s.registerPrompts()
	return s
}

// Run serves MCP on t until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, t sdkmcp.Transport) error {
	s.log.Info("MCP server starting")
	err := s.server.Run(ctx, t)
	s.log.Info("MCP server stopped", "error", err)
	return err
}

// Connect serves a single session on t without blocking. Used by embedders
// and tests that wire an in-memory transport.
func (s *Server) Connect(ctx context.Context, t sdkmcp.Transport) (*sdkmcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// send validates the connection and forwards one command.
func (s *Server) send(ctx context.Context, cmdType string, params map[string]any) (any, error) {
	if err := s.conn.GetConnection(ctx); err != nil {
		return nil, err
	}
	return s.conn.SendCommand(ctx, cmdType, params)
}

// formatter renders a successful command result as tool text.
type formatter func(result any) (string, error)

// call runs one command and renders the outcome. Every failure becomes an
// IsError result prefixed with "Error <doing>".
func (s *Server) call(ctx context.Context, doing, cmdType string, params map[string]any, format formatter) (*sdkmcp.CallToolResult, any, error) {
	log := s.log.With("command", cmdType)
	result, err := s.send(ctx, cmdType, params)
	if err != nil {
		log.Error("command failed", "error", err)
		return errorResult("Error %s: %v", doing, err), nil, nil
	}
	text, err := format(result)
	if err != nil {
		log.Error("failed to format result", "error", err)
		return errorResult("Error %s: %v", doing, err), nil, nil
	}
	return textResult(text), nil, nil
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}

func errorResult(format string, args ...any) *sdkmcp.CallToolResult {
	res := textResult(fmt.Sprintf(format, args...))
	res.IsError = true
	return res
}

// prettyJSON renders the result indented by two spaces.
func prettyJSON(result any) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// field reads a string field from an object result.
func field(result any, key string) string {
	doc, _ := result.(map[string]any)
	v, _ := doc[key].(string)
	return v
}

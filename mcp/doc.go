// Package mcp exposes the scene host as Model Context Protocol tools.
//
// # Overview
//
// The MCP server runs as a stdio subprocess of the agent. Each tool call is
// translated into one socket command and forwarded to the addon host
// through a connection manager:
//
//	Agent
//	    ↓ (MCP tools/call over stdio)
//	Server tool handler
//	    ↓ GetConnection (probe with get_csm_status, redial once)
//	    ↓ SendCommand (one command, one envelope)
//	addon.Server session
//	    ↓ main loop
//	executor.Executor
//
// # Results
//
// Successful calls return text: either a short confirmation such as
// "Created CUBE object: Cube.001" or the command result as indented JSON.
// Failures never surface as protocol errors. They come back as a tool result
// with IsError set and a message of the form "Error <doing X>: <reason>".
//
// # Timeouts
//
// There is no timeout on a tool call. Animation requests wait on a remote
// service and may take minutes; the agent's own cancellation is honored.
package mcp

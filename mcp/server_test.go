package mcp

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CommonSenseMachines/blender-mcp/addon"
	"github.com/CommonSenseMachines/blender-mcp/config"
	"github.com/CommonSenseMachines/blender-mcp/connection"
	"github.com/CommonSenseMachines/blender-mcp/csm"
	"github.com/CommonSenseMachines/blender-mcp/executor"
	"github.com/CommonSenseMachines/blender-mcp/mainloop"
	"github.com/CommonSenseMachines/blender-mcp/scene"
	"github.com/CommonSenseMachines/blender-mcp/wire"
)

// fakeSender records commands and answers from a table.
type fakeSender struct {
	mu       sync.Mutex
	sent     []wire.Command
	results  map[string]any
	errs     map[string]error
	probeErr error
}

func (f *fakeSender) GetConnection(context.Context) error { return f.probeErr }

func (f *fakeSender) SendCommand(_ context.Context, cmdType string, params map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, wire.NewCommand(cmdType, params))
	if err := f.errs[cmdType]; err != nil {
		return nil, err
	}
	return f.results[cmdType], nil
}

func (f *fakeSender) last() wire.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func connect(t *testing.T, sender Sender) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientT, serverT := sdkmcp.NewInMemoryTransports()

	ss, err := NewServer(sender, "test").Connect(ctx, serverT)
	require.NoError(t, err)

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		cs.Close()
		ss.Wait()
	})
	return cs
}

func callTool(t *testing.T, cs *sdkmcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	res, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text, res.IsError
}

type disabledCSM struct{}

func (disabledCSM) CSM() config.CSMSettings { return config.CSMSettings{} }

// startHost runs a real scene host on an ephemeral port and returns a
// connection manager pointed at it.
func startHost(t *testing.T) *connection.Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := mainloop.New()
	go loop.Run(ctx)

	exec, err := executor.New(scene.NewDefaultMemory(), csm.New(disabledCSM{}),
		executor.WithScheduler(loop), executor.WithTempRoot(t.TempDir()))
	require.NoError(t, err)

	srv := addon.NewServer("127.0.0.1:0", exec, loop, addon.WithPollInterval(50*time.Millisecond))
	require.NoError(t, srv.Start(ctx))
	srv.WaitReady()

	m := connection.NewManager(srv.Addr().String())
	t.Cleanup(func() {
		m.Close()
		srv.Stop()
		cancel()
		<-loop.Done()
	})
	return m
}

func TestListTools(t *testing.T) {
	cs := connect(t, &fakeSender{})

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"get_scene_info", "get_object_info", "create_object", "modify_object",
		"delete_object", "set_material", "execute_blender_code", "get_csm_status",
		"get_correct_tier", "search_csm_models", "import_csm_model", "animate_object",
		"import_file",
	}, names)
}

func TestAssetCreationPrompt(t *testing.T) {
	cs := connect(t, &fakeSender{})

	res, err := cs.GetPrompt(context.Background(), &sdkmcp.GetPromptParams{Name: "asset_creation_strategy"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	text := res.Messages[0].Content.(*sdkmcp.TextContent).Text
	assert.Contains(t, text, "get_scene_info()")
	assert.Contains(t, text, "animate_object()")
}

func TestCreateObject_Defaults(t *testing.T) {
	f := &fakeSender{results: map[string]any{"create_object": map[string]any{"name": "Cube.001"}}}
	cs := connect(t, f)

	text, isErr := callTool(t, cs, "create_object", nil)
	assert.False(t, isErr)
	assert.Equal(t, "Created CUBE object: Cube.001", text)

	cmd := f.last()
	assert.Equal(t, "create_object", cmd.Type)
	assert.Equal(t, map[string]any{
		"type":     "CUBE",
		"location": []float64{0, 0, 0},
		"rotation": []float64{0, 0, 0},
		"scale":    []float64{1, 1, 1},
	}, cmd.Params)
}

func TestCreateObject_TorusSkipsScale(t *testing.T) {
	f := &fakeSender{results: map[string]any{"create_object": map[string]any{"name": "Ring"}}}
	cs := connect(t, f)

	text, _ := callTool(t, cs, "create_object", map[string]any{
		"type":         "TORUS",
		"name":         "Ring",
		"major_radius": 2.0,
		"scale":        []any{3, 3, 3},
	})
	assert.Equal(t, "Created TORUS object: Ring", text)

	params := f.last().Params
	assert.NotContains(t, params, "scale")
	assert.Equal(t, 2.0, params["major_radius"])
	assert.NotContains(t, params, "minor_radius")
}

func TestModifyObject_OnlySetFields(t *testing.T) {
	f := &fakeSender{results: map[string]any{"modify_object": map[string]any{"name": "Cube"}}}
	cs := connect(t, f)

	text, _ := callTool(t, cs, "modify_object", map[string]any{"name": "Cube", "visible": false})
	assert.Equal(t, "Modified object: Cube", text)
	assert.Equal(t, map[string]any{"name": "Cube", "visible": false}, f.last().Params)
}

func TestErrorResults(t *testing.T) {
	f := &fakeSender{errs: map[string]error{
		"set_material":      &wire.RemoteError{Message: "Object not found: Ghost"},
		"search_csm_models": &connection.ConnectionLostError{Err: wire.ErrNoData},
		"import_file":       &wire.RemoteError{Message: "File not found: /tmp/x.obj"},
	}}
	cs := connect(t, f)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"set_material", map[string]any{"object_name": "Ghost"}, "Error setting material: Object not found: Ghost"},
		{"search_csm_models", map[string]any{"search_text": "chair"}, "Error searching CSM models: Connection to Blender lost: connection closed before receiving any data"},
		{"import_file", map[string]any{"filepath": "/tmp/x.obj"}, "Error importing file: File not found: /tmp/x.obj"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			text, isErr := callTool(t, cs, tt.tool, tt.args)
			assert.True(t, isErr)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestProbeFailureIsToolError(t *testing.T) {
	f := &fakeSender{probeErr: connection.ErrNotConnected}
	cs := connect(t, f)

	text, isErr := callTool(t, cs, "get_scene_info", nil)
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "Error getting scene info: Could not connect to Blender"), text)
	assert.Empty(t, f.sent)
}

func TestSearchDefaultsLimit(t *testing.T) {
	f := &fakeSender{results: map[string]any{"search_csm_models": map[string]any{"status": "success", "models": []any{}}}}
	cs := connect(t, f)

	text, isErr := callTool(t, cs, "search_csm_models", map[string]any{"search_text": "chair"})
	assert.False(t, isErr)
	assert.Contains(t, text, "\n  \"status\": \"success\"")
	assert.Equal(t, 20, f.last().Params["limit"])
}

func TestAnimateFailurePayloadIsError(t *testing.T) {
	f := &fakeSender{results: map[string]any{"animate_object": map[string]any{
		"succeed": false,
		"error":   "Animation service request timed out",
		"reason":  "timeout",
		"state":   "CALL_REMOTE_SERVICE",
	}}}
	cs := connect(t, f)

	text, isErr := callTool(t, cs, "animate_object", map[string]any{
		"object_name":      "Hero",
		"animation_prompt": "walk forward",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, `"state": "CALL_REMOTE_SERVICE"`)
	assert.Equal(t, map[string]any{"object_name": "Hero", "animation_prompt": "walk forward"}, f.last().Params)
}

func TestAnimateSuccess(t *testing.T) {
	f := &fakeSender{results: map[string]any{"animate_object": map[string]any{"succeed": true, "message": "ok"}}}
	cs := connect(t, f)

	text, isErr := callTool(t, cs, "animate_object", map[string]any{
		"object_name":        "Hero",
		"animation_fbx_path": "/tmp/walk.fbx",
		"handle_original":    "keep",
	})
	assert.False(t, isErr)
	assert.Contains(t, text, `"succeed": true`)
}

func TestEndToEnd(t *testing.T) {
	cs := connect(t, startHost(t))

	text, isErr := callTool(t, cs, "create_object", map[string]any{"type": "SPHERE", "name": "Ball"})
	require.False(t, isErr, text)
	assert.Equal(t, "Created SPHERE object: Ball", text)

	text, isErr = callTool(t, cs, "get_object_info", map[string]any{"object_name": "Ball"})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"name": "Ball"`)
	assert.Contains(t, text, `"world_bounding_box"`)

	text, isErr = callTool(t, cs, "set_material", map[string]any{"object_name": "Ball", "color": []any{1, 0, 0}})
	require.False(t, isErr, text)
	assert.Equal(t, "Applied material to Ball: Ball_material", text)

	text, isErr = callTool(t, cs, "execute_blender_code", map[string]any{"code": "count"})
	require.False(t, isErr, text)
	assert.Equal(t, "Code executed successfully: 4", text)

	text, isErr = callTool(t, cs, "delete_object", map[string]any{"name": "Ball"})
	require.False(t, isErr, text)
	assert.Equal(t, "Deleted object: Ball", text)

	text, isErr = callTool(t, cs, "get_object_info", map[string]any{"object_name": "Ball"})
	assert.True(t, isErr)
	assert.Equal(t, "Error getting object info: Object not found: Ball", text)

	text, isErr = callTool(t, cs, "get_csm_status", nil)
	assert.False(t, isErr)
	assert.Equal(t, "CSM.ai integration is disabled", text)
}

func TestEndToEnd_HostDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cs := connect(t, connection.NewManager(addr, connection.WithDialTimeout(time.Second)))
	text, isErr := callTool(t, cs, "get_scene_info", nil)
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, "Error getting scene info: Could not connect to Blender."), text)
}

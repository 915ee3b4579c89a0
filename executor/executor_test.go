package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CommonSenseMachines/blender-mcp/config"
	"github.com/CommonSenseMachines/blender-mcp/csm"
	"github.com/CommonSenseMachines/blender-mcp/mainloop"
	"github.com/CommonSenseMachines/blender-mcp/scene"
	"github.com/CommonSenseMachines/blender-mcp/wire"
)

type staticSettings config.CSMSettings

func (s staticSettings) CSM() config.CSMSettings { return config.CSMSettings(s) }

func newTestExecutor(t *testing.T, sc scene.Capabilities, settings staticSettings, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{WithTempRoot(t.TempDir())}, opts...)
	e, err := New(sc, csm.New(settings), opts...)
	require.NoError(t, err)
	return e
}

// roundTrip encodes the envelope the way the socket does and decodes it
// into a generic document.
func roundTrip(t *testing.T, env wire.Envelope) map[string]any {
	t.Helper()
	data, err := wire.Encode(env)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func result(t *testing.T, env wire.Envelope) map[string]any {
	t.Helper()
	require.Equal(t, wire.StatusSuccess, env.Status, "message: %s", env.Message)
	doc := roundTrip(t, env)
	res, ok := doc["result"].(map[string]any)
	require.True(t, ok, "result is not an object: %v", doc["result"])
	return res
}

func cmd(t string, params map[string]any) wire.Command {
	return wire.NewCommand(t, params)
}

func TestRegistryIsComplete(t *testing.T) {
	e := newTestExecutor(t, scene.NewMemory(), staticSettings{})
	assert.Len(t, e.handlers, len(CommandTypes))
	for _, ct := range CommandTypes {
		assert.Contains(t, e.handlers, ct)
		_, err := Lookup(string(ct))
		assert.NoError(t, err)
	}
	_, err := Lookup("render_scene")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCreateObject_CubeWithBoundingBox(t *testing.T) {
	e := newTestExecutor(t, scene.NewMemory(), staticSettings{})

	env := e.Execute(context.Background(), cmd("create_object", map[string]any{
		"type":     "CUBE",
		"name":     "T1",
		"location": []any{0.0, 0.0, 0.0},
		"scale":    []any{1.0, 1.0, 1.0},
	}))
	res := result(t, env)

	assert.Equal(t, "T1", res["name"])
	assert.Equal(t, "MESH", res["type"])
	assert.Equal(t, []any{0.0, 0.0, 0.0}, res["location"])
	assert.Equal(t, []any{1.0, 1.0, 1.0}, res["scale"])
	assert.Equal(t, []any{
		[]any{-1.0, -1.0, -1.0},
		[]any{1.0, 1.0, 1.0},
	}, res["world_bounding_box"])
	assert.NotContains(t, res, "visible")
}

func TestCreateObject_Defaults(t *testing.T) {
	mem := scene.NewMemory()
	e := newTestExecutor(t, mem, staticSettings{})

	res := result(t, e.Execute(context.Background(), cmd("create_object", nil)))
	assert.Equal(t, "Cube", res["name"])
	assert.Equal(t, []any{1.0, 1.0, 1.0}, res["scale"])

	res = result(t, e.Execute(context.Background(), cmd("create_object", map[string]any{
		"type": "TORUS",
		"mode": "EXT_INT",
	})))
	assert.Equal(t, "Torus", res["name"])

	res = result(t, e.Execute(context.Background(), cmd("create_object", map[string]any{"type": "CAMERA"})))
	assert.Equal(t, "CAMERA", res["type"])
	assert.NotContains(t, res, "world_bounding_box")
}

func TestCreateObject_UnsupportedType(t *testing.T) {
	mem := scene.NewMemory()
	e := newTestExecutor(t, mem, staticSettings{})

	env := e.Execute(context.Background(), cmd("create_object", map[string]any{"type": "PYRAMID"}))
	assert.Equal(t, wire.StatusError, env.Status)
	assert.Equal(t, "Unsupported object type: PYRAMID", env.Message)
	assert.Empty(t, mem.Objects())
}

func TestGetObjectInfo_NotFound(t *testing.T) {
	e := newTestExecutor(t, scene.NewDefaultMemory(), staticSettings{})

	env := e.Execute(context.Background(), cmd("get_object_info", map[string]any{"name": "does_not_exist"}))
	doc := roundTrip(t, env)
	assert.Equal(t, map[string]any{
		"status":  "error",
		"message": "Object not found: does_not_exist",
	}, doc)
}

func TestGetObjectInfo_Mesh(t *testing.T) {
	mem := scene.NewDefaultMemory()
	e := newTestExecutor(t, mem, staticSettings{})
	_, err := mem.SetMaterial("Cube", "Steel", true, nil)
	require.NoError(t, err)

	res := result(t, e.Execute(context.Background(), cmd("get_object_info", map[string]any{"name": "Cube"})))
	assert.Equal(t, true, res["visible"])
	assert.Equal(t, []any{"Steel"}, res["materials"])
	assert.Equal(t, map[string]any{"vertices": 8.0, "edges": 12.0, "polygons": 6.0}, res["mesh"])
	assert.Contains(t, res, "world_bounding_box")

	res = result(t, e.Execute(context.Background(), cmd("get_object_info", map[string]any{"name": "Light"})))
	assert.Equal(t, []any{}, res["materials"])
	assert.NotContains(t, res, "mesh")
}

func TestUnknownCommand_NoMutation(t *testing.T) {
	mem := scene.NewDefaultMemory()
	e := newTestExecutor(t, mem, staticSettings{})
	before := mem.Objects()

	env := e.Execute(context.Background(), cmd("render_scene", map[string]any{"output_path": "/tmp/x.png"}))
	assert.Equal(t, wire.StatusError, env.Status)
	assert.Equal(t, "Unknown command type: render_scene", env.Message)
	assert.Equal(t, before, mem.Objects())
}

func TestInvalidParams(t *testing.T) {
	mem := scene.NewDefaultMemory()
	e := newTestExecutor(t, mem, staticSettings{})
	before := mem.Objects()

	tests := []struct {
		name   string
		cmd    wire.Command
		expect string
	}{
		{"missing required", cmd("modify_object", map[string]any{"location": []any{1.0, 2.0, 3.0}}), "name"},
		{"short vector", cmd("modify_object", map[string]any{"name": "Cube", "location": []any{1.0, 2.0}}), "location"},
		{"wrong type", cmd("delete_object", map[string]any{"name": 42.0}), "name"},
		{"bad policy", cmd("animate_object", map[string]any{"object_name": "Cube", "animation_prompt": "x", "handle_original": "archive"}), "handle_original"},
		{"fractional limit", cmd("search_csm_models", map[string]any{"search_text": "tree", "limit": 2.5}), "limit"},
		{"misspelled key", cmd("modify_object", map[string]any{"name": "Cube", "locaton": []any{1.0, 2.0, 3.0}}), "locaton"},
		{"key on no-arg command", cmd("get_scene_info", map[string]any{"verbose": true}), "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := e.Execute(context.Background(), tt.cmd)
			assert.Equal(t, wire.StatusError, env.Status)
			assert.Contains(t, env.Message, "Invalid parameters for "+tt.cmd.Type)
			assert.Contains(t, env.Message, tt.expect)
		})
	}
	assert.Equal(t, before, mem.Objects())
}

func TestGetSceneInfo_CapsListing(t *testing.T) {
	mem := scene.NewMemory()
	e := newTestExecutor(t, mem, staticSettings{})
	for i := range 12 {
		env := e.Execute(context.Background(), cmd("create_object", map[string]any{
			"location": []any{float64(i) + 0.123456, 0.0, 0.0},
		}))
		require.Equal(t, wire.StatusSuccess, env.Status)
	}

	res := result(t, e.Execute(context.Background(), cmd("get_scene_info", nil)))
	assert.Equal(t, "Scene", res["name"])
	assert.Equal(t, 12.0, res["object_count"])
	assert.Equal(t, 0.0, res["materials_count"])
	objs := res["objects"].([]any)
	require.Len(t, objs, maxListedObjects)
	first := objs[0].(map[string]any)
	assert.Equal(t, "Cube", first["name"])
	assert.Equal(t, []any{0.12, 0.0, 0.0}, first["location"])
}

func TestModifyAndDelete(t *testing.T) {
	mem := scene.NewDefaultMemory()
	e := newTestExecutor(t, mem, staticSettings{})
	ctx := context.Background()

	res := result(t, e.Execute(ctx, cmd("modify_object", map[string]any{
		"name":     "Cube",
		"location": []any{1.0, 2.0, 3.0},
		"visible":  false,
	})))
	assert.Equal(t, []any{1.0, 2.0, 3.0}, res["location"])
	assert.Equal(t, false, res["visible"])
	assert.Equal(t, []any{
		[]any{0.0, 1.0, 2.0},
		[]any{2.0, 3.0, 4.0},
	}, res["world_bounding_box"])

	res = result(t, e.Execute(ctx, cmd("delete_object", map[string]any{"name": "Cube"})))
	assert.Equal(t, map[string]any{"deleted": "Cube"}, res)

	env := e.Execute(ctx, cmd("delete_object", map[string]any{"name": "Cube"}))
	assert.Equal(t, "Object not found: Cube", env.Message)
}

func TestExecuteCode(t *testing.T) {
	mem := scene.NewDefaultMemory()
	e := newTestExecutor(t, mem, staticSettings{})
	ctx := context.Background()

	res := result(t, e.Execute(ctx, cmd("execute_code", map[string]any{"code": "count"})))
	assert.Equal(t, map[string]any{"executed": true, "result": 3.0}, res)

	res = result(t, e.Execute(ctx, cmd("execute_code", map[string]any{"code": "hide Cube; set Cube location 0 0 5"})))
	assert.Equal(t, map[string]any{"executed": true}, res)
	cube, err := mem.Object("Cube")
	require.NoError(t, err)
	assert.True(t, cube.Hidden)

	env := e.Execute(ctx, cmd("execute_code", map[string]any{"code": "explode Cube"}))
	assert.Equal(t, wire.StatusError, env.Status)
	assert.Contains(t, env.Message, "Code execution error: ")
}

func TestSetMaterial(t *testing.T) {
	mem := scene.NewDefaultMemory()
	e := newTestExecutor(t, mem, staticSettings{})
	ctx := context.Background()

	res := result(t, e.Execute(ctx, cmd("set_material", map[string]any{"object_name": "Cube"})))
	assert.Equal(t, map[string]any{
		"status":   "success",
		"object":   "Cube",
		"material": "Cube_material",
		"color":    nil,
	}, res)

	res = result(t, e.Execute(ctx, cmd("set_material", map[string]any{
		"object_name":   "Cube",
		"material_name": "Red",
		"color":         []any{1.0, 0.0, 0.0},
	})))
	assert.Equal(t, "Red", res["material"])
	assert.Equal(t, []any{1.0, 0.0, 0.0}, res["color"])
	color, ok := mem.MaterialColor("Red")
	require.True(t, ok)
	assert.Equal(t, [4]float64{1, 0, 0, 1}, color)

	env := e.Execute(ctx, cmd("set_material", map[string]any{
		"object_name":       "Cube",
		"material_name":     "Gold",
		"create_if_missing": false,
	}))
	assert.Equal(t, "Material not found: Gold", env.Message)
}

type panickyScene struct {
	*scene.Memory
}

func (panickyScene) SceneName() string { panic("scene unavailable") }

func TestExecute_RecoversPanics(t *testing.T) {
	e := newTestExecutor(t, panickyScene{scene.NewMemory()}, staticSettings{})

	env := e.Execute(context.Background(), cmd("get_scene_info", nil))
	assert.Equal(t, wire.StatusError, env.Status)
	assert.Equal(t, "Error executing get_scene_info: scene unavailable", env.Message)
}

func TestSearch_DisabledMakesNoRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newTestExecutor(t, scene.NewMemory(), staticSettings{
		Enabled:          false,
		APIKey:           "secret-key",
		APIBase:          srv.URL,
		AnimationAPIBase: srv.URL,
	})
	ctx := context.Background()

	env := e.Execute(ctx, cmd("search_csm_models", map[string]any{"search_text": "chair"}))
	assert.Equal(t, wire.StatusError, env.Status)
	assert.Contains(t, env.Message, "disabled")

	env = e.Execute(ctx, cmd("get_correct_tier", nil))
	assert.Contains(t, env.Message, "disabled")

	res := result(t, e.Execute(ctx, cmd("get_csm_status", nil)))
	assert.Equal(t, false, res["enabled"])

	assert.Zero(t, hits.Load())
}

func TestSearch_Enabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/userdata":
			io.WriteString(w, `{"data": {"tier": "pro"}}`)
		default:
			io.WriteString(w, `{"data": [
				{"_id": "m1", "mesh_url_glb": "https://cdn/m1.glb", "tier_at_creation": "pro"},
				{"_id": "m2", "tier_at_creation": "free"}
			]}`)
		}
	}))
	defer srv.Close()

	e := newTestExecutor(t, scene.NewMemory(), staticSettings{
		Enabled:          true,
		APIKey:           "secret-key",
		UsePrivateAssets: true,
		APIBase:          srv.URL,
	})

	res := result(t, e.Execute(context.Background(), cmd("search_csm_models", map[string]any{"search_text": "chair", "limit": 5.0})))
	assert.Equal(t, "pro", res["tier_used"])
	assert.Equal(t, 2.0, res["total_found"])
	assert.Equal(t, 1.0, res["available_models"])

	res = result(t, e.Execute(context.Background(), cmd("get_correct_tier", nil)))
	assert.Equal(t, map[string]any{"tier": "pro"}, res)
}

func TestAnimateObject_RequiresOneSource(t *testing.T) {
	e := newTestExecutor(t, scene.NewDefaultMemory(), staticSettings{Enabled: true, APIKey: "k"})
	ctx := context.Background()

	env := e.Execute(ctx, cmd("animate_object", map[string]any{"object_name": "Cube"}))
	assert.Equal(t, "Either animation_prompt or animation_fbx_path is required", env.Message)

	env = e.Execute(ctx, cmd("animate_object", map[string]any{
		"object_name":        "Cube",
		"animation_prompt":   "walk",
		"animation_fbx_path": "/tmp/walk.fbx",
	}))
	assert.Equal(t, "Provide only one of animation_prompt or animation_fbx_path", env.Message)
}

func TestAnimateObject_FailureIsStructured(t *testing.T) {
	e := newTestExecutor(t, scene.NewDefaultMemory(), staticSettings{Enabled: true, APIKey: "k"})

	res := result(t, e.Execute(context.Background(), cmd("animate_object", map[string]any{
		"object_name":      "Ghost",
		"animation_prompt": "walk",
	})))
	assert.Equal(t, false, res["succeed"])
	assert.Equal(t, "Object not found: Ghost", res["error"])
	assert.Equal(t, "CHECK_TARGET_EXISTS", res["state"])
	assert.Equal(t, "operation", res["reason"])
}

func riggedAsset(t *testing.T) []byte {
	t.Helper()
	data, err := scene.EncodeAsset(scene.Asset{Format: "fbx", Objects: []scene.AssetObject{
		{Name: "Armature", Kind: scene.KindArmature, Scale: scene.Vec3{1, 1, 1}},
		{
			Name:   "Body",
			Kind:   scene.KindMesh,
			Parent: "Armature",
			Scale:  scene.Vec3{1, 1, 1},
			Mesh:   &scene.AssetMesh{Name: "Body", Min: scene.Vec3{-1, -1, -1}, Max: scene.Vec3{1, 1, 1}},
		},
	}})
	require.NoError(t, err)
	return data
}

func TestDispatch_AnimationDoesNotBlockLoop(t *testing.T) {
	release := make(chan struct{})
	asset := riggedAsset(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write(asset)
	}))
	defer srv.Close()

	loop := mainloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	mem := scene.NewDefaultMemory()
	e := newTestExecutor(t, mem, staticSettings{
		Enabled:          true,
		APIKey:           "k",
		AnimationAPIBase: srv.URL,
	}, WithScheduler(loop))

	dispatch := func(c wire.Command) <-chan wire.Envelope {
		replies := make(chan wire.Envelope, 1)
		require.NoError(t, loop.Submit(func() {
			e.Dispatch(ctx, c, func(env wire.Envelope) { replies <- env })
		}))
		return replies
	}

	animated := dispatch(cmd("animate_object", map[string]any{
		"object_name":      "Cube",
		"animation_prompt": "Wave",
		"handle_original":  "keep",
	}))

	select {
	case env := <-dispatch(cmd("get_scene_info", nil)):
		assert.Equal(t, wire.StatusSuccess, env.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("scene command blocked behind animation")
	}

	close(release)
	select {
	case env := <-animated:
		res := result(t, env)
		assert.Equal(t, true, res["succeed"])
		assert.Equal(t, "Cube_wave", res["mesh_object"])
		assert.Equal(t, "Cube_wave_armature", res["armature_object"])
	case <-time.After(10 * time.Second):
		t.Fatal("animation never replied")
	}
}

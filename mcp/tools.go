package mcp

import (
	"context"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type noInput struct{}

type objectNameInput struct {
	ObjectName string `json:"object_name" jsonschema:"name of the object"`
}

type nameInput struct {
	Name string `json:"name" jsonschema:"name of the object"`
}

type createObjectInput struct {
	Type     string    `json:"type,omitempty" jsonschema:"object type: CUBE, SPHERE, CYLINDER, PLANE, CONE, TORUS, EMPTY, CAMERA or LIGHT (default CUBE)"`
	Name     string    `json:"name,omitempty" jsonschema:"optional name for the object"`
	Location []float64 `json:"location,omitempty" jsonschema:"[x, y, z] location"`
	Rotation []float64 `json:"rotation,omitempty" jsonschema:"[x, y, z] rotation in radians"`
	Scale    []float64 `json:"scale,omitempty" jsonschema:"[x, y, z] scale factors, ignored for TORUS"`

	Align         string  `json:"align,omitempty" jsonschema:"torus only: WORLD, VIEW or CURSOR"`
	MajorSegments int     `json:"major_segments,omitempty" jsonschema:"torus only: segments of the main ring"`
	MinorSegments int     `json:"minor_segments,omitempty" jsonschema:"torus only: segments of the cross-section"`
	Mode          string  `json:"mode,omitempty" jsonschema:"torus only: MAJOR_MINOR or EXT_INT"`
	MajorRadius   float64 `json:"major_radius,omitempty" jsonschema:"torus only: radius from the origin to the cross-section centers"`
	MinorRadius   float64 `json:"minor_radius,omitempty" jsonschema:"torus only: radius of the cross-section"`
	AbsoMajorRad  float64 `json:"abso_major_rad,omitempty" jsonschema:"torus only: total exterior radius"`
	AbsoMinorRad  float64 `json:"abso_minor_rad,omitempty" jsonschema:"torus only: total interior radius"`
	GenerateUVs   *bool   `json:"generate_uvs,omitempty" jsonschema:"torus only: generate a default UV map"`
}

type modifyObjectInput struct {
	Name     string    `json:"name" jsonschema:"name of the object to modify"`
	Location []float64 `json:"location,omitempty" jsonschema:"[x, y, z] location"`
	Rotation []float64 `json:"rotation,omitempty" jsonschema:"[x, y, z] rotation in radians"`
	Scale    []float64 `json:"scale,omitempty" jsonschema:"[x, y, z] scale factors"`
	Visible  *bool     `json:"visible,omitempty" jsonschema:"set visibility"`
}

type setMaterialInput struct {
	ObjectName   string    `json:"object_name" jsonschema:"object to apply the material to"`
	MaterialName string    `json:"material_name,omitempty" jsonschema:"material to use or create"`
	Color        []float64 `json:"color,omitempty" jsonschema:"[r, g, b] or [r, g, b, a] in 0.0-1.0"`
}

type codeInput struct {
	Code string `json:"code" jsonschema:"script to run in the scene host"`
}

type searchInput struct {
	SearchText string `json:"search_text" jsonschema:"text query describing the model"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 20)"`
}

type importModelInput struct {
	ModelID    string `json:"model_id" jsonschema:"id of the model to import"`
	MeshURLGLB string `json:"mesh_url_glb" jsonschema:"URL of the GLB file"`
	Name       string `json:"name,omitempty" jsonschema:"optional name for the imported object"`
}

type animateInput struct {
	ObjectName       string `json:"object_name" jsonschema:"mesh object to animate"`
	AnimationPrompt  string `json:"animation_prompt,omitempty" jsonschema:"text describing the motion"`
	AnimationFBXPath string `json:"animation_fbx_path,omitempty" jsonschema:"path to a driver FBX animation on the host machine"`
	TempFormat       string `json:"temp_format,omitempty" jsonschema:"mesh export format: glb (default) or fbx"`
	HandleOriginal   string `json:"handle_original,omitempty" jsonschema:"what to do with the original: keep, hide (default) or delete"`
	CollectionName   string `json:"collection_name,omitempty" jsonschema:"collection for the result (default <object>_Animations)"`
}

type importFileInput struct {
	Filepath string `json:"filepath" jsonschema:"path to a glb, gltf, fbx, obj or blend file on the host machine"`
	Name     string `json:"name,omitempty" jsonschema:"optional name for the imported object"`
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "get_scene_info",
		Description: "Get detailed information about the current scene.",
	}, s.getSceneInfo)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "get_object_info",
		Description: "Get detailed information about one object, including its world bounding box.",
	}, s.getObjectInfo)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "create_object",
		Description: "Create a primitive object in the scene.",
	}, s.createObject)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "modify_object",
		Description: "Change the location, rotation, scale or visibility of an object.",
	}, s.modifyObject)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "delete_object",
		Description: "Delete an object from the scene.",
	}, s.deleteObject)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "set_material",
		Description: "Apply a material to an object, creating it if needed.",
	}, s.setMaterial)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "execute_blender_code",
		Description: "Run a script in the scene host. Expressions return a value; statements change the scene.",
	}, s.executeCode)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "get_csm_status",
		Description: "Check whether the CSM.ai integration is enabled in the scene host.",
	}, s.getCSMStatus)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "get_correct_tier",
		Description: "Resolve the CSM.ai account tier used for searches.",
	}, s.getCorrectTier)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "search_csm_models",
		Description: "Search CSM.ai for 3D models by text. Only models with a GLB download are returned.",
	}, s.searchCSMModels)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "import_csm_model",
		Description: "Download a CSM.ai model and import it into the scene.",
	}, s.importCSMModel)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name: "animate_object",
		Description: "Rig and animate a mesh with the CSM.ai animation service, from a text prompt or a driver FBX file. " +
			"This can take a minute or more.",
	}, s.animateObject)
	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "import_file",
		Description: "Import a local 3D file into the scene.",
	}, s.importFile)
}

func (s *Server) getSceneInfo(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, any, error) {
	return s.call(ctx, "getting scene info", "get_scene_info", nil, prettyJSON)
}

func (s *Server) getObjectInfo(ctx context.Context, _ *sdkmcp.CallToolRequest, in objectNameInput) (*sdkmcp.CallToolResult, any, error) {
	return s.call(ctx, "getting object info", "get_object_info",
		map[string]any{"name": in.ObjectName}, prettyJSON)
}

func (s *Server) createObject(ctx context.Context, _ *sdkmcp.CallToolRequest, in createObjectInput) (*sdkmcp.CallToolResult, any, error) {
	if in.Type == "" {
		in.Type = "CUBE"
	}
	params := map[string]any{
		"type":     in.Type,
		"location": vec3OrDefault(in.Location, 0),
		"rotation": vec3OrDefault(in.Rotation, 0),
	}
	if in.Name != "" {
		params["name"] = in.Name
	}
	if in.Type == "TORUS" {
		setIf(params, "align", in.Align, in.Align != "")
		setIf(params, "major_segments", in.MajorSegments, in.MajorSegments != 0)
		setIf(params, "minor_segments", in.MinorSegments, in.MinorSegments != 0)
		setIf(params, "mode", in.Mode, in.Mode != "")
		setIf(params, "major_radius", in.MajorRadius, in.MajorRadius != 0)
		setIf(params, "minor_radius", in.MinorRadius, in.MinorRadius != 0)
		setIf(params, "abso_major_rad", in.AbsoMajorRad, in.AbsoMajorRad != 0)
		setIf(params, "abso_minor_rad", in.AbsoMinorRad, in.AbsoMinorRad != 0)
		if in.GenerateUVs != nil {
			params["generate_uvs"] = *in.GenerateUVs
		}
	} else {
		params["scale"] = vec3OrDefault(in.Scale, 1)
	}

	return s.call(ctx, "creating object", "create_object", params, func(result any) (string, error) {
		return fmt.Sprintf("Created %s object: %s", in.Type, field(result, "name")), nil
	})
}

func (s *Server) modifyObject(ctx context.Context, _ *sdkmcp.CallToolRequest, in modifyObjectInput) (*sdkmcp.CallToolResult, any, error) {
	params := map[string]any{"name": in.Name}
	setIf(params, "location", in.Location, in.Location != nil)
	setIf(params, "rotation", in.Rotation, in.Rotation != nil)
	setIf(params, "scale", in.Scale, in.Scale != nil)
	if in.Visible != nil {
		params["visible"] = *in.Visible
	}
	return s.call(ctx, "modifying object", "modify_object", params, func(result any) (string, error) {
		return "Modified object: " + field(result, "name"), nil
	})
}

func (s *Server) deleteObject(ctx context.Context, _ *sdkmcp.CallToolRequest, in nameInput) (*sdkmcp.CallToolResult, any, error) {
	return s.call(ctx, "deleting object", "delete_object", map[string]any{"name": in.Name}, func(any) (string, error) {
		return "Deleted object: " + in.Name, nil
	})
}

func (s *Server) setMaterial(ctx context.Context, _ *sdkmcp.CallToolRequest, in setMaterialInput) (*sdkmcp.CallToolResult, any, error) {
	params := map[string]any{"object_name": in.ObjectName}
	setIf(params, "material_name", in.MaterialName, in.MaterialName != "")
	setIf(params, "color", in.Color, len(in.Color) > 0)
	return s.call(ctx, "setting material", "set_material", params, func(result any) (string, error) {
		material := field(result, "material")
		if material == "" {
			material = "unknown"
		}
		return fmt.Sprintf("Applied material to %s: %s", in.ObjectName, material), nil
	})
}

func (s *Server) executeCode(ctx context.Context, _ *sdkmcp.CallToolRequest, in codeInput) (*sdkmcp.CallToolResult, any, error) {
	return s.call(ctx, "executing code", "execute_code", map[string]any{"code": in.Code}, func(result any) (string, error) {
		doc, _ := result.(map[string]any)
		out, ok := doc["result"]
		if !ok {
			return "Code executed successfully", nil
		}
		return fmt.Sprintf("Code executed successfully: %v", out), nil
	})
}

func (s *Server) getCSMStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, any, error) {
	return s.call(ctx, "checking CSM.ai status", "get_csm_status", nil, func(result any) (string, error) {
		doc, _ := result.(map[string]any)
		if enabled, _ := doc["enabled"].(bool); enabled {
			return "CSM.ai integration is enabled", nil
		}
		const disabled = "CSM.ai integration is disabled"
		if msg, _ := doc["message"].(string); msg != "" && msg != disabled {
			return disabled + ": " + msg, nil
		}
		return disabled, nil
	})
}

func (s *Server) getCorrectTier(ctx context.Context, _ *sdkmcp.CallToolRequest, _ noInput) (*sdkmcp.CallToolResult, any, error) {
	return s.call(ctx, "getting correct tier", "get_correct_tier", nil, prettyJSON)
}

func (s *Server) searchCSMModels(ctx context.Context, _ *sdkmcp.CallToolRequest, in searchInput) (*sdkmcp.CallToolResult, any, error) {
	if in.Limit <= 0 {
		in.Limit = 20
	}
	s.log.Info("searching models", "search_text", in.SearchText, "limit", in.Limit)
	return s.call(ctx, "searching CSM models", "search_csm_models", map[string]any{
		"search_text": in.SearchText,
		"limit":       in.Limit,
	}, prettyJSON)
}

func (s *Server) importCSMModel(ctx context.Context, _ *sdkmcp.CallToolRequest, in importModelInput) (*sdkmcp.CallToolResult, any, error) {
	params := map[string]any{
		"model_id":     in.ModelID,
		"mesh_url_glb": in.MeshURLGLB,
	}
	setIf(params, "name", in.Name, in.Name != "")
	return s.call(ctx, "importing CSM model", "import_csm_model", params, prettyJSON)
}

// animateObject flags a structured failure payload ({"succeed": false, ...})
// as an error result while still returning the full payload.
func (s *Server) animateObject(ctx context.Context, _ *sdkmcp.CallToolRequest, in animateInput) (*sdkmcp.CallToolResult, any, error) {
	params := map[string]any{"object_name": in.ObjectName}
	setIf(params, "animation_prompt", in.AnimationPrompt, in.AnimationPrompt != "")
	setIf(params, "animation_fbx_path", in.AnimationFBXPath, in.AnimationFBXPath != "")
	setIf(params, "temp_format", in.TempFormat, in.TempFormat != "")
	setIf(params, "handle_original", in.HandleOriginal, in.HandleOriginal != "")
	setIf(params, "collection_name", in.CollectionName, in.CollectionName != "")

	failed := false
	res, out, err := s.call(ctx, "animating object", "animate_object", params, func(result any) (string, error) {
		doc, _ := result.(map[string]any)
		if ok, present := doc["succeed"].(bool); present && !ok {
			failed = true
			s.log.Warn("animation failed", "object", in.ObjectName, "state", doc["state"], "reason", doc["reason"])
		}
		return prettyJSON(result)
	})
	if failed {
		res.IsError = true
	}
	return res, out, err
}

func (s *Server) importFile(ctx context.Context, _ *sdkmcp.CallToolRequest, in importFileInput) (*sdkmcp.CallToolResult, any, error) {
	params := map[string]any{"filepath": in.Filepath}
	setIf(params, "name", in.Name, in.Name != "")
	return s.call(ctx, "importing file", "import_file", params, prettyJSON)
}

func vec3OrDefault(v []float64, fill float64) []float64 {
	if len(v) > 0 {
		return v
	}
	return []float64{fill, fill, fill}
}

func setIf(params map[string]any, key string, value any, ok bool) {
	if ok {
		params[key] = value
	}
}

package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const assetCreationStrategy = `When creating 3D content in the scene, check which integrations are available first.

0. Always start by inspecting the scene with get_scene_info().

1. CSM.ai finds existing 3D MODELS by search. It does not produce animations from search.
   Call get_csm_status() to see whether it is enabled. When it is:
   1. Search with search_csm_models() using a descriptive text query.
   2. Pick the most suitable model from the results.
   3. Import it with import_csm_model() passing the model id and its GLB URL.
   4. After importing, check world_bounding_box and fix location, scale and rotation.

2. When CSM.ai is disabled, or as a fallback:
   - create_object() for primitives (CUBE, SPHERE, CYLINDER and so on)
   - set_material() for simple colors

3. Give every object you add a meaningful name.

4. Check world_bounding_box of each item:
   - objects that should not overlap must not clip into each other
   - items keep sensible spatial relationships

5. After create_object() or modify_object(), confirm the result with get_object_info().

6. Animation:
   - Character motion (walking, running, dancing, gestures, poses, rigging) or any
     request mentioning CSM: use animate_object() with either animation_prompt
     (for example "walk forward") or animation_fbx_path pointing at a driver FBX,
     such as a Mixamo download exported without skin.
   - Simple transforms the user explicitly asks to keyframe natively (spin, move,
     scale): use execute_blender_code().
   - Default to animate_object() for any character motion.

Only fall back to basic primitives when:
- CSM.ai is disabled
- a simple primitive is explicitly requested
- no suitable model exists in the search results
- the task only needs a basic material or color
`

func (s *Server) registerPrompts() {
	s.server.AddPrompt(&sdkmcp.Prompt{
		Name:        "asset_creation_strategy",
		Description: "Preferred strategy for creating assets in the scene",
	}, func(context.Context, *sdkmcp.GetPromptRequest) (*sdkmcp.GetPromptResult, error) {
		return &sdkmcp.GetPromptResult{
			Description: "Asset creation strategy",
			Messages: []*sdkmcp.PromptMessage{
				{Role: "user", Content: &sdkmcp.TextContent{Text: assetCreationStrategy}},
			},
		}, nil
	})
}

package executor

import (
	"context"
	"errors"

	"github.com/CommonSenseMachines/blender-mcp/bridge"
	"github.com/CommonSenseMachines/blender-mcp/csm"
)

func (e *Executor) getCSMStatus(_ context.Context, _ map[string]any) (any, error) {
	return e.csm.Status(), nil
}

type searchParams struct {
	SearchText string `json:"search_text"`
	Limit      int    `json:"limit"`
	Tier       string `json:"tier"`
}

func (e *Executor) searchCSMModels(ctx context.Context, raw map[string]any) (any, error) {
	p := searchParams{Limit: 20}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return e.csm.Search(ctx, p.SearchText, p.Limit, p.Tier)
}

func (e *Executor) getCorrectTier(ctx context.Context, _ map[string]any) (any, error) {
	if status := e.csm.Status(); !status.Enabled {
		return nil, errors.New(status.Message)
	}
	return map[string]string{"tier": e.csm.UserTier(ctx)}, nil
}

type importModelParams struct {
	ModelID    string `json:"model_id"`
	MeshURLGLB string `json:"mesh_url_glb"`
	Name       string `json:"name"`
}

func (e *Executor) importCSMModel(ctx context.Context, raw map[string]any) (any, error) {
	var p importModelParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return e.bridge.ImportCSMModel(ctx, p.ModelID, p.MeshURLGLB, p.Name)
}

type importFileParams struct {
	Filepath string `json:"filepath"`
	Name     string `json:"name"`
}

func (e *Executor) importFile(ctx context.Context, raw map[string]any) (any, error) {
	var p importFileParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return e.bridge.ImportFile(ctx, p.Filepath, p.Name)
}

type animateParams struct {
	ObjectName       string `json:"object_name"`
	AnimationPrompt  string `json:"animation_prompt"`
	AnimationFBXPath string `json:"animation_fbx_path"`
	TempFormat       string `json:"temp_format"`
	HandleOriginal   string `json:"handle_original"`
	CollectionName   string `json:"collection_name"`
}

// animateObject replies with the failure payload rather than an error
// envelope so callers see the failing state and reason.
func (e *Executor) animateObject(ctx context.Context, raw map[string]any) (any, error) {
	var p animateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.AnimationPrompt == "" && p.AnimationFBXPath == "" {
		return nil, errors.New("Either animation_prompt or animation_fbx_path is required")
	}
	if p.AnimationPrompt != "" && p.AnimationFBXPath != "" {
		return nil, errors.New("Provide only one of animation_prompt or animation_fbx_path")
	}
	policy, err := bridge.ParsePolicy(p.HandleOriginal)
	if err != nil {
		return nil, err
	}

	res, err := e.bridge.Animate(ctx, bridge.Request{
		ObjectName:     p.ObjectName,
		Prompt:         p.AnimationPrompt,
		AnimationFile:  p.AnimationFBXPath,
		TempFormat:     p.TempFormat,
		HandleOriginal: policy,
		CollectionName: p.CollectionName,
	})
	var failure *bridge.Failure
	if errors.As(err, &failure) {
		return failure.Payload(), nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

var _ bridge.Service = (*csm.Client)(nil)

package executor

import (
	"context"
	"fmt"

	"github.com/CommonSenseMachines/blender-mcp/scene"
)

// maxListedObjects caps the object list in get_scene_info.
const maxListedObjects = 10

type objectSummary struct {
	Name     string     `json:"name"`
	Type     scene.Kind `json:"type"`
	Location scene.Vec3 `json:"location"`
}

type sceneInfo struct {
	Name           string          `json:"name"`
	ObjectCount    int             `json:"object_count"`
	Objects        []objectSummary `json:"objects"`
	MaterialsCount int             `json:"materials_count"`
}

func (e *Executor) getSceneInfo(_ context.Context, _ map[string]any) (any, error) {
	objs := e.scene.Objects()
	info := sceneInfo{
		Name:           e.scene.SceneName(),
		ObjectCount:    len(objs),
		Objects:        []objectSummary{},
		MaterialsCount: e.scene.MaterialCount(),
	}
	for i, o := range objs {
		if i >= maxListedObjects {
			break
		}
		info.Objects = append(info.Objects, objectSummary{
			Name:     o.Name,
			Type:     o.Kind,
			Location: scene.Round2(o.Location),
		})
	}
	return info, nil
}

type objectResult struct {
	Name             string             `json:"name"`
	Type             scene.Kind         `json:"type"`
	Location         scene.Vec3         `json:"location"`
	Rotation         scene.Vec3         `json:"rotation"`
	Scale            scene.Vec3         `json:"scale"`
	Visible          *bool              `json:"visible,omitempty"`
	WorldBoundingBox *scene.BoundingBox `json:"world_bounding_box,omitempty"`
}

func (e *Executor) describe(o scene.Object, withVisible bool) objectResult {
	r := objectResult{
		Name:     o.Name,
		Type:     o.Kind,
		Location: o.Location,
		Rotation: o.Rotation,
		Scale:    o.Scale,
	}
	if withVisible {
		v := o.Visible
		r.Visible = &v
	}
	if o.Kind == scene.KindMesh {
		if bbox, err := e.scene.WorldBoundingBox(o.Name); err == nil {
			r.WorldBoundingBox = &bbox
		}
	}
	return r
}

type createParams struct {
	Type     string     `json:"type"`
	Name     string     `json:"name"`
	Location scene.Vec3 `json:"location"`
	Rotation scene.Vec3 `json:"rotation"`
	Scale    scene.Vec3 `json:"scale"`

	MajorSegments int     `json:"major_segments"`
	MinorSegments int     `json:"minor_segments"`
	Mode          string  `json:"mode"`
	MajorRadius   float64 `json:"major_radius"`
	MinorRadius   float64 `json:"minor_radius"`
	AbsoMajorRad  float64 `json:"abso_major_rad"`
	AbsoMinorRad  float64 `json:"abso_minor_rad"`
}

func (e *Executor) createObject(_ context.Context, raw map[string]any) (any, error) {
	torus := scene.DefaultTorus()
	p := createParams{
		Type:          string(scene.PrimitiveCube),
		Scale:         scene.Vec3{1, 1, 1},
		MajorSegments: torus.MajorSegments,
		MinorSegments: torus.MinorSegments,
		Mode:          torus.Mode,
		MajorRadius:   torus.MajorRadius,
		MinorRadius:   torus.MinorRadius,
		AbsoMajorRad:  torus.AbsoMajorRad,
		AbsoMinorRad:  torus.AbsoMinorRad,
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	obj, err := e.scene.CreatePrimitive(scene.PrimitiveSpec{
		Type:     scene.PrimitiveType(p.Type),
		Name:     p.Name,
		Location: p.Location,
		Rotation: p.Rotation,
		Scale:    p.Scale,
		Torus: scene.TorusOptions{
			MajorSegments: p.MajorSegments,
			MinorSegments: p.MinorSegments,
			Mode:          p.Mode,
			MajorRadius:   p.MajorRadius,
			MinorRadius:   p.MinorRadius,
			AbsoMajorRad:  p.AbsoMajorRad,
			AbsoMinorRad:  p.AbsoMinorRad,
		},
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("created object", "name", obj.Name, "type", p.Type)
	return e.describe(obj, false), nil
}

type modifyParams struct {
	Name     string      `json:"name"`
	Location *scene.Vec3 `json:"location"`
	Rotation *scene.Vec3 `json:"rotation"`
	Scale    *scene.Vec3 `json:"scale"`
	Visible  *bool       `json:"visible"`
}

func (e *Executor) modifyObject(_ context.Context, raw map[string]any) (any, error) {
	var p modifyParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	obj, err := e.scene.UpdateObject(p.Name, scene.ObjectUpdate{
		Location: p.Location,
		Rotation: p.Rotation,
		Scale:    p.Scale,
		Visible:  p.Visible,
	})
	if err != nil {
		return nil, err
	}
	return e.describe(obj, true), nil
}

type nameParams struct {
	Name string `json:"name"`
}

func (e *Executor) deleteObject(_ context.Context, raw map[string]any) (any, error) {
	var p nameParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := e.scene.DeleteObject(p.Name); err != nil {
		return nil, err
	}
	e.log.Info("deleted object", "name", p.Name)
	return map[string]string{"deleted": p.Name}, nil
}

type objectInfo struct {
	Name             string             `json:"name"`
	Type             scene.Kind         `json:"type"`
	Location         scene.Vec3         `json:"location"`
	Rotation         scene.Vec3         `json:"rotation"`
	Scale            scene.Vec3         `json:"scale"`
	Visible          bool               `json:"visible"`
	Materials        []string           `json:"materials"`
	WorldBoundingBox *scene.BoundingBox `json:"world_bounding_box,omitempty"`
	Mesh             *scene.MeshStats   `json:"mesh,omitempty"`
}

func (e *Executor) getObjectInfo(_ context.Context, raw map[string]any) (any, error) {
	var p nameParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	obj, err := e.scene.Object(p.Name)
	if err != nil {
		return nil, err
	}
	info := objectInfo{
		Name:      obj.Name,
		Type:      obj.Kind,
		Location:  obj.Location,
		Rotation:  obj.Rotation,
		Scale:     obj.Scale,
		Visible:   obj.Visible,
		Materials: obj.Materials,
	}
	if info.Materials == nil {
		info.Materials = []string{}
	}
	if obj.Kind == scene.KindMesh {
		if bbox, err := e.scene.WorldBoundingBox(obj.Name); err == nil {
			info.WorldBoundingBox = &bbox
		}
		if stats, err := e.scene.MeshStats(obj.Name); err == nil {
			info.Mesh = &stats
		}
	}
	return info, nil
}

type codeParams struct {
	Code string `json:"code"`
}

func (e *Executor) executeCode(_ context.Context, raw map[string]any) (any, error) {
	var p codeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	result, hasResult, err := e.scene.RunScript(p.Code)
	if err != nil {
		return nil, fmt.Errorf("Code execution error: %w", err)
	}
	out := map[string]any{"executed": true}
	if hasResult {
		out["result"] = result
	}
	return out, nil
}

type materialParams struct {
	ObjectName      string    `json:"object_name"`
	MaterialName    string    `json:"material_name"`
	CreateIfMissing bool      `json:"create_if_missing"`
	Color           []float64 `json:"color"`
}

type materialResult struct {
	Status   string    `json:"status"`
	Object   string    `json:"object"`
	Material string    `json:"material"`
	Color    []float64 `json:"color"`
}

func (e *Executor) setMaterial(_ context.Context, raw map[string]any) (any, error) {
	p := materialParams{CreateIfMissing: true}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	name, err := e.scene.SetMaterial(p.ObjectName, p.MaterialName, p.CreateIfMissing, p.Color)
	if err != nil {
		return nil, err
	}
	return materialResult{
		Status:   "success",
		Object:   p.ObjectName,
		Material: name,
		Color:    p.Color,
	}, nil
}

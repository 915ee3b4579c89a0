package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/CommonSenseMachines/blender-mcp/scene"
)

// ModelImport is the reply for an imported search result.
type ModelImport struct {
	Succeed          bool              `json:"succeed"`
	Name             string            `json:"name"`
	Type             scene.Kind        `json:"type"`
	Location         scene.Vec3        `json:"location"`
	Rotation         scene.Vec3        `json:"rotation"`
	Scale            scene.Vec3        `json:"scale"`
	WorldBoundingBox scene.BoundingBox `json:"world_bounding_box"`
}

// FileImport is the reply for a local file import.
type FileImport struct {
	Succeed         bool     `json:"succeed"`
	ImportedObjects []string `json:"imported_objects"`
	ActiveObject    string   `json:"active_object"`
	Filepath        string   `json:"filepath"`
}

var errBadHierarchy = errors.New("Expected an empty node with one mesh child or a single mesh object")

// safeFileName keeps letters, digits, '-' and '_' and replaces anything
// else with '_'.
func safeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// ImportCSMModel downloads a GLB mesh and imports it as a single mesh object
// named name (default CSM_Model_{modelID}).
func (b *Bridge) ImportCSMModel(ctx context.Context, modelID, url, name string) (*ModelImport, error) {
	if url == "" {
		return nil, errors.New("No GLB URL provided")
	}
	if name == "" {
		name = "CSM_Model_" + modelID
	}
	log := b.log.With("model_id", modelID, "name", name)

	dir, err := b.scratchDir("import-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	f, err := os.CreateTemp(dir, "csm_"+safeFileName(modelID)+"_*.glb")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	n, err := b.service.Download(ctx, url, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	log.Info("downloaded model", "bytes", n)

	var out *ModelImport
	err = b.sched.Do(ctx, func() error {
		names, err := b.scene.Import(f.Name())
		if err != nil {
			return err
		}
		mesh, err := b.collapseHierarchy(names)
		if err != nil {
			return err
		}
		final, err := b.scene.RenameObject(mesh, name)
		if err != nil {
			return err
		}
		obj, err := b.scene.Object(final)
		if err != nil {
			return err
		}
		bbox, err := b.scene.WorldBoundingBox(final)
		if err != nil {
			return err
		}
		out = &ModelImport{
			Succeed:          true,
			Name:             obj.Name,
			Type:             obj.Kind,
			Location:         obj.Location,
			Rotation:         obj.Rotation,
			Scale:            obj.Scale,
			WorldBoundingBox: bbox,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("imported model", "object", out.Name)
	return out, nil
}

// collapseHierarchy reduces an import to one mesh. A lone mesh is returned
// as is; an empty with exactly one mesh child is dissolved into that child.
func (b *Bridge) collapseHierarchy(names []string) (string, error) {
	if len(names) == 1 {
		obj, err := b.scene.Object(names[0])
		if err != nil {
			return "", err
		}
		if obj.Kind == scene.KindMesh {
			return obj.Name, nil
		}
	}

	for _, n := range names {
		obj, err := b.scene.Object(n)
		if err != nil || obj.Kind != scene.KindEmpty || obj.Parent != "" {
			continue
		}
		children := b.scene.Children(n)
		if len(children) != 1 {
			break
		}
		child, err := b.scene.Object(children[0])
		if err != nil || child.Kind != scene.KindMesh {
			break
		}
		if err := b.scene.SetParent(child.Name, ""); err != nil {
			return "", err
		}
		if err := b.scene.DeleteObject(n); err != nil {
			return "", err
		}
		return child.Name, nil
	}
	return "", errBadHierarchy
}

// ImportFile imports a local asset. The first imported object is renamed to
// name when one is given.
func (b *Bridge) ImportFile(ctx context.Context, path, name string) (*FileImport, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("File not found: %s", path)
	}
	if _, err := scene.ImportFormat(path); err != nil {
		return nil, err
	}

	var out *FileImport
	err := b.sched.Do(ctx, func() error {
		names, err := b.scene.Import(path)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return errors.New("No objects were imported")
		}
		if name != "" {
			final, err := b.scene.RenameObject(names[0], name)
			if err != nil {
				return err
			}
			names[0] = final
		}
		out = &FileImport{
			Succeed:         true,
			ImportedObjects: names,
			ActiveObject:    names[0],
			Filepath:        path,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.log.Info("imported file", "path", path, "objects", len(out.ImportedObjects))
	return out, nil
}

package scene

import (
	"fmt"
	"slices"
	"time"
)

// Snapshot is a serializable copy of a Memory scene.
type Snapshot struct {
	SceneName   string               `cbor:"scene"`
	SavedAt     time.Time            `cbor:"saved_at"`
	Meshes      []SnapshotMesh       `cbor:"meshes"`
	Objects     []SnapshotObject     `cbor:"objects"`
	Materials   []SnapshotMaterial   `cbor:"materials"`
	Collections []SnapshotCollection `cbor:"collections"`
}

// SnapshotMesh is a mesh data block; objects reference it by name.
type SnapshotMesh struct {
	Name      string    `cbor:"name"`
	Min       Vec3      `cbor:"min"`
	Max       Vec3      `cbor:"max"`
	Stats     MeshStats `cbor:"stats"`
	Materials []string  `cbor:"materials,omitempty"`
}

// SnapshotObject is one object and its transform.
type SnapshotObject struct {
	Name     string `cbor:"name"`
	Kind     Kind   `cbor:"kind"`
	Mesh     string `cbor:"mesh,omitempty"`
	Data     string `cbor:"data,omitempty"`
	Location Vec3   `cbor:"location"`
	Rotation Vec3   `cbor:"rotation"`
	Scale    Vec3   `cbor:"scale"`
	Hidden   bool   `cbor:"hidden,omitempty"`
	Parent   string `cbor:"parent,omitempty"`
}

// SnapshotMaterial is a named material and its base color.
type SnapshotMaterial struct {
	Name  string     `cbor:"name"`
	Color [4]float64 `cbor:"color"`
}

// SnapshotCollection is a collection and its member names.
type SnapshotCollection struct {
	Name     string   `cbor:"name"`
	Excluded bool     `cbor:"excluded,omitempty"`
	Objects  []string `cbor:"objects,omitempty"`
}

// Snapshot copies the scene state.
func (m *Memory) Snapshot() Snapshot {
	s := Snapshot{SceneName: m.name, SavedAt: time.Now().UTC()}

	seen := make(map[*meshData]bool)
	for _, name := range m.order {
		o := m.objects[name]
		so := SnapshotObject{
			Name:     o.name,
			Kind:     o.kind,
			Data:     o.dataName,
			Location: o.loc,
			Rotation: o.rot,
			Scale:    o.scale,
			Hidden:   o.hidden,
			Parent:   o.parent,
		}
		if o.mesh != nil {
			so.Mesh = o.mesh.name
			if !seen[o.mesh] {
				seen[o.mesh] = true
				s.Meshes = append(s.Meshes, SnapshotMesh{
					Name:      o.mesh.name,
					Min:       o.mesh.shape.Min,
					Max:       o.mesh.shape.Max,
					Stats:     o.mesh.shape.Stats,
					Materials: slices.Clone(o.mesh.materials),
				})
			}
		}
		s.Objects = append(s.Objects, so)
	}
	for _, name := range m.materialOrder {
		mat := m.materials[name]
		s.Materials = append(s.Materials, SnapshotMaterial{Name: mat.name, Color: mat.color})
	}
	for _, name := range m.collectionOrder {
		c := m.collections[name]
		s.Collections = append(s.Collections, SnapshotCollection{
			Name:     c.name,
			Excluded: c.excluded,
			Objects:  slices.Clone(c.objects),
		})
	}
	return s
}

// Restore replaces the scene state with s.
func (m *Memory) Restore(s Snapshot) error {
	meshes := make(map[string]*meshData, len(s.Meshes))
	for _, sm := range s.Meshes {
		meshes[sm.Name] = &meshData{
			name:      sm.Name,
			shape:     meshShape{Min: sm.Min, Max: sm.Max, Stats: sm.Stats},
			materials: slices.Clone(sm.Materials),
		}
	}

	objects := make(map[string]*object, len(s.Objects))
	order := make([]string, 0, len(s.Objects))
	for _, so := range s.Objects {
		o := &object{
			name:     so.Name,
			kind:     so.Kind,
			dataName: so.Data,
			loc:      so.Location,
			rot:      so.Rotation,
			scale:    so.Scale,
			hidden:   so.Hidden,
			parent:   so.Parent,
		}
		if so.Mesh != "" {
			d, ok := meshes[so.Mesh]
			if !ok {
				return fmt.Errorf("snapshot object %s references missing mesh %s", so.Name, so.Mesh)
			}
			d.users++
			o.mesh = d
		}
		objects[o.name] = o
		order = append(order, o.name)
	}

	materials := make(map[string]*material, len(s.Materials))
	materialOrder := make([]string, 0, len(s.Materials))
	for _, sm := range s.Materials {
		materials[sm.Name] = &material{name: sm.Name, color: sm.Color}
		materialOrder = append(materialOrder, sm.Name)
	}

	collections := make(map[string]*collection, len(s.Collections))
	collectionOrder := make([]string, 0, len(s.Collections))
	for _, sc := range s.Collections {
		collections[sc.Name] = &collection{name: sc.Name, excluded: sc.Excluded, objects: slices.Clone(sc.Objects)}
		collectionOrder = append(collectionOrder, sc.Name)
	}
	if _, ok := collections[DefaultCollection]; !ok {
		collections[DefaultCollection] = &collection{name: DefaultCollection}
		collectionOrder = append([]string{DefaultCollection}, collectionOrder...)
	}

	if s.SceneName != "" {
		m.name = s.SceneName
	}
	m.meshes = meshes
	m.objects = objects
	m.order = order
	m.materials = materials
	m.materialOrder = materialOrder
	m.collections = collections
	m.collectionOrder = collectionOrder
	return nil
}

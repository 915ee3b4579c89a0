package scene

import (
	"fmt"
	"slices"
)

// DefaultCollection is the scene collection new objects are linked into.
const DefaultCollection = "Collection"

type meshData struct {
	name      string
	shape     meshShape
	materials []string
	users     int
}

type object struct {
	name     string
	kind     Kind
	mesh     *meshData // set for KindMesh
	dataName string    // camera and light data blocks
	loc      Vec3
	rot      Vec3
	scale    Vec3
	hidden   bool
	parent   string
}

type material struct {
	name  string
	color [4]float64
}

type collection struct {
	name     string
	excluded bool
	objects  []string
}

// Memory is an in-memory scene engine.
type Memory struct {
	name            string
	objects         map[string]*object
	order           []string
	meshes          map[string]*meshData
	materials       map[string]*material
	materialOrder   []string
	collections     map[string]*collection
	collectionOrder []string
	requireViewport bool
	viewportDepth   int
}

// Option configures a Memory engine.
type Option func(*Memory)

// WithSceneName sets the scene name reported by get_scene_info.
func WithSceneName(name string) Option {
	return func(m *Memory) { m.name = name }
}

// WithoutViewportCheck lets primitives be created outside WithViewport.
func WithoutViewportCheck() Option {
	return func(m *Memory) { m.requireViewport = false }
}

// NewMemory returns an empty scene with a single default collection.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		name:            "Scene",
		objects:         make(map[string]*object),
		meshes:          make(map[string]*meshData),
		materials:       make(map[string]*material),
		collections:     make(map[string]*collection),
		requireViewport: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.addCollection(DefaultCollection, false)
	return m
}

// NewDefaultMemory returns a scene holding the stock cube, camera and light.
func NewDefaultMemory(opts ...Option) *Memory {
	m := NewMemory(opts...)
	_ = m.WithViewport(func() error {
		for _, spec := range []PrimitiveSpec{
			{Type: PrimitiveCube, Scale: Vec3{1, 1, 1}},
			{Type: PrimitiveCamera, Location: Vec3{7.36, -6.93, 4.96}, Rotation: Vec3{1.11, 0, 0.81}, Scale: Vec3{1, 1, 1}},
			{Type: PrimitiveLight, Name: "Light", Location: Vec3{4.08, 1.01, 5.9}, Scale: Vec3{1, 1, 1}},
		} {
			if _, err := m.CreatePrimitive(spec); err != nil {
				return err
			}
		}
		return nil
	})
	return m
}

func (m *Memory) SceneName() string { return m.name }

func (m *Memory) Objects() []Object {
	out := make([]Object, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.view(m.objects[name]))
	}
	return out
}

func (m *Memory) Object(name string) (Object, error) {
	o, ok := m.objects[name]
	if !ok {
		return Object{}, ObjectNotFound(name)
	}
	return m.view(o), nil
}

func (m *Memory) view(o *object) Object {
	v := Object{
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
		v.Data = o.mesh.name
		v.Materials = slices.Clone(o.mesh.materials)
	}
	included := false
	for _, cname := range m.collectionOrder {
		c := m.collections[cname]
		if slices.Contains(c.objects, o.name) {
			v.Collections = append(v.Collections, cname)
			if !c.excluded {
				included = true
			}
		}
	}
	v.Visible = !o.hidden && included
	return v
}

var defaultNames = map[PrimitiveType]string{
	PrimitiveCube:     "Cube",
	PrimitiveSphere:   "Sphere",
	PrimitiveCylinder: "Cylinder",
	PrimitivePlane:    "Plane",
	PrimitiveCone:     "Cone",
	PrimitiveTorus:    "Torus",
	PrimitiveEmpty:    "Empty",
	PrimitiveCamera:   "Camera",
	PrimitiveLight:    "Point",
}

func (m *Memory) CreatePrimitive(spec PrimitiveSpec) (Object, error) {
	if m.requireViewport && m.viewportDepth == 0 {
		return Object{}, ErrNoViewport
	}
	base, ok := defaultNames[spec.Type]
	if !ok {
		return Object{}, newError(ErrUnsupportedType, "Unsupported object type: %s", spec.Type)
	}
	name := base
	if spec.Name != "" {
		name = spec.Name
	}
	name = m.uniqueObjectName(name)

	o := &object{name: name, loc: spec.Location, rot: spec.Rotation, scale: spec.Scale}
	switch spec.Type {
	case PrimitiveEmpty:
		o.kind = KindEmpty
	case PrimitiveCamera:
		o.kind = KindCamera
		o.dataName = name
		o.scale = Vec3{1, 1, 1}
	case PrimitiveLight:
		o.kind = KindLight
		o.dataName = name
	default:
		shape, _ := primitiveShape(spec.Type, spec.Torus)
		o.kind = KindMesh
		o.mesh = m.newMesh(name, shape)
	}
	if spec.Type == PrimitiveTorus {
		// the torus operator has no scale argument
		o.scale = Vec3{1, 1, 1}
	}

	m.insert(o)
	m.link(o.name, DefaultCollection)
	return m.view(o), nil
}

func (m *Memory) UpdateObject(name string, u ObjectUpdate) (Object, error) {
	o, ok := m.objects[name]
	if !ok {
		return Object{}, ObjectNotFound(name)
	}
	if u.Location != nil {
		o.loc = *u.Location
	}
	if u.Rotation != nil {
		o.rot = *u.Rotation
	}
	if u.Scale != nil {
		o.scale = *u.Scale
	}
	if u.Visible != nil {
		o.hidden = !*u.Visible
	}
	return m.view(o), nil
}

func (m *Memory) DeleteObject(name string) error {
	o, ok := m.objects[name]
	if !ok {
		return ObjectNotFound(name)
	}
	delete(m.objects, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	for _, c := range m.collections {
		c.objects = slices.DeleteFunc(c.objects, func(n string) bool { return n == name })
	}
	for _, other := range m.objects {
		if other.parent == name {
			other.parent = ""
		}
	}
	if o.mesh != nil {
		o.mesh.users--
		if o.mesh.users <= 0 {
			delete(m.meshes, o.mesh.name)
		}
	}
	return nil
}

// RenameObject renames an object, suffixing the name if it is taken. Mesh
// data with a single user is renamed along with it. Returns the final name.
func (m *Memory) RenameObject(name, newName string) (string, error) {
	o, ok := m.objects[name]
	if !ok {
		return "", ObjectNotFound(name)
	}
	if newName == "" || newName == name {
		return name, nil
	}
	final := m.uniqueObjectName(newName)

	delete(m.objects, name)
	o.name = final
	m.objects[final] = o
	for i, n := range m.order {
		if n == name {
			m.order[i] = final
		}
	}
	for _, c := range m.collections {
		for i, n := range c.objects {
			if n == name {
				c.objects[i] = final
			}
		}
	}
	for _, other := range m.objects {
		if other.parent == name {
			other.parent = final
		}
	}
	if o.mesh != nil && o.mesh.users == 1 && o.mesh.name != final {
		delete(m.meshes, o.mesh.name)
		o.mesh.name = m.uniqueDataName(final)
		m.meshes[o.mesh.name] = o.mesh
	}
	return final, nil
}

// LinkedDuplicate creates an unlinked object sharing source's mesh data.
func (m *Memory) LinkedDuplicate(source, name string) (Object, error) {
	src, ok := m.objects[source]
	if !ok {
		return Object{}, ObjectNotFound(source)
	}
	if src.mesh == nil {
		return Object{}, newError(ErrWrongKind, "Object %s is not a mesh (type: %s)", source, src.kind)
	}
	o := &object{
		name:  m.uniqueObjectName(name),
		kind:  src.kind,
		mesh:  src.mesh,
		loc:   src.loc,
		rot:   src.rot,
		scale: src.scale,
	}
	src.mesh.users++
	m.insert(o)
	return m.view(o), nil
}

func (m *Memory) MeshStats(name string) (MeshStats, error) {
	o, ok := m.objects[name]
	if !ok {
		return MeshStats{}, ObjectNotFound(name)
	}
	if o.mesh == nil {
		return MeshStats{}, newError(ErrWrongKind, "Object must be a mesh")
	}
	return o.mesh.shape.Stats, nil
}

func (m *Memory) WorldBoundingBox(name string) (BoundingBox, error) {
	o, ok := m.objects[name]
	if !ok {
		return BoundingBox{}, ObjectNotFound(name)
	}
	if o.mesh == nil {
		return BoundingBox{}, newError(ErrWrongKind, "Object must be a mesh")
	}
	return worldAABB(o.mesh.shape, o.loc, o.rot, o.scale), nil
}

func (m *Memory) MaterialCount() int { return len(m.materials) }

// MaterialColor returns the base color of a material.
func (m *Memory) MaterialColor(name string) ([4]float64, bool) {
	mat, ok := m.materials[name]
	if !ok {
		return [4]float64{}, false
	}
	return mat.color, true
}

// SetMaterial assigns a material to the first slot of object's mesh data.
// An empty material name selects "<object>_material", created on demand.
func (m *Memory) SetMaterial(objectName, materialName string, create bool, color []float64) (string, error) {
	o, ok := m.objects[objectName]
	if !ok {
		return "", ObjectNotFound(objectName)
	}
	if o.mesh == nil {
		return "", newError(ErrWrongKind, "Object %s cannot accept materials", objectName)
	}

	if materialName == "" {
		materialName = objectName + "_material"
		create = true
	}
	mat, ok := m.materials[materialName]
	if !ok {
		if !create {
			return "", &NotFoundError{What: "Material", Name: materialName}
		}
		mat = &material{name: materialName, color: [4]float64{0.8, 0.8, 0.8, 1}}
		m.materials[materialName] = mat
		m.materialOrder = append(m.materialOrder, materialName)
	}

	if len(color) >= 3 {
		mat.color = [4]float64{color[0], color[1], color[2], 1}
		if len(color) >= 4 {
			mat.color[3] = color[3]
		}
	}

	if len(o.mesh.materials) == 0 {
		o.mesh.materials = append(o.mesh.materials, mat.name)
	} else {
		o.mesh.materials[0] = mat.name
	}
	return mat.name, nil
}

func (m *Memory) Collection(name string) (Collection, bool) {
	c, ok := m.collections[name]
	if !ok {
		return Collection{}, false
	}
	return Collection{Name: c.name, Excluded: c.excluded, Objects: slices.Clone(c.objects)}, true
}

// EnsureCollection creates the collection if it does not exist. The
// excluded flag only applies on creation.
func (m *Memory) EnsureCollection(name string, excluded bool) error {
	if name == "" {
		return fmt.Errorf("collection name must not be empty")
	}
	if _, ok := m.collections[name]; !ok {
		m.addCollection(name, excluded)
	}
	return nil
}

func (m *Memory) LinkToCollection(objectName, collectionName string) error {
	if _, ok := m.objects[objectName]; !ok {
		return ObjectNotFound(objectName)
	}
	if _, ok := m.collections[collectionName]; !ok {
		return &NotFoundError{What: "Collection", Name: collectionName}
	}
	m.link(objectName, collectionName)
	return nil
}

func (m *Memory) MoveToCollection(objectName, collectionName string) error {
	if _, ok := m.objects[objectName]; !ok {
		return ObjectNotFound(objectName)
	}
	if _, ok := m.collections[collectionName]; !ok {
		return &NotFoundError{What: "Collection", Name: collectionName}
	}
	for _, c := range m.collections {
		c.objects = slices.DeleteFunc(c.objects, func(n string) bool { return n == objectName })
	}
	m.link(objectName, collectionName)
	return nil
}

// RemoveCollection deletes a collection. Its objects stay in the scene data.
func (m *Memory) RemoveCollection(name string) error {
	if name == DefaultCollection {
		return fmt.Errorf("cannot remove the scene collection %q", name)
	}
	if _, ok := m.collections[name]; !ok {
		return &NotFoundError{What: "Collection", Name: name}
	}
	delete(m.collections, name)
	m.collectionOrder = slices.DeleteFunc(m.collectionOrder, func(n string) bool { return n == name })
	return nil
}

// Export writes the named objects to path as an interchange asset.
func (m *Memory) Export(names []string, path, format string) error {
	if !exportFormats[format] {
		return newError(ErrUnsupportedFormat, "Unsupported export format: %s", format)
	}
	asset := Asset{Format: format}
	for _, name := range names {
		o, ok := m.objects[name]
		if !ok {
			return ObjectNotFound(name)
		}
		ao := AssetObject{
			Name:     o.name,
			Kind:     o.kind,
			Location: o.loc,
			Rotation: o.rot,
			Scale:    o.scale,
		}
		if slices.Contains(names, o.parent) {
			ao.Parent = o.parent
		}
		if o.mesh != nil {
			ao.Mesh = &AssetMesh{
				Name:      o.mesh.name,
				Min:       o.mesh.shape.Min,
				Max:       o.mesh.shape.Max,
				Stats:     o.mesh.shape.Stats,
				Materials: slices.Clone(o.mesh.materials),
			}
		}
		asset.Objects = append(asset.Objects, ao)
	}
	return WriteAssetFile(path, asset)
}

// Import reads an asset file and links its objects into the scene
// collection. Returns the names of the new objects in file order.
func (m *Memory) Import(path string) ([]string, error) {
	if _, err := ImportFormat(path); err != nil {
		return nil, err
	}
	asset, err := ReadAssetFile(path)
	if err != nil {
		return nil, err
	}

	renamed := make(map[string]string, len(asset.Objects))
	var created []*object
	for _, ao := range asset.Objects {
		o := &object{
			name:  m.uniqueObjectName(ao.Name),
			kind:  ao.Kind,
			loc:   ao.Location,
			rot:   ao.Rotation,
			scale: ao.Scale,
		}
		if ao.Mesh != nil {
			o.kind = KindMesh
			o.mesh = m.newMesh(ao.Mesh.Name, meshShape{Min: ao.Mesh.Min, Max: ao.Mesh.Max, Stats: ao.Mesh.Stats})
			for _, matName := range ao.Mesh.Materials {
				if _, ok := m.materials[matName]; !ok {
					m.materials[matName] = &material{name: matName, color: [4]float64{0.8, 0.8, 0.8, 1}}
					m.materialOrder = append(m.materialOrder, matName)
				}
				o.mesh.materials = append(o.mesh.materials, matName)
			}
		} else if o.kind == KindCamera || o.kind == KindLight || o.kind == KindArmature {
			o.dataName = o.name
		}
		renamed[ao.Name] = o.name
		m.insert(o)
		m.link(o.name, DefaultCollection)
		created = append(created, o)
	}

	names := make([]string, 0, len(created))
	for i, o := range created {
		if parent := asset.Objects[i].Parent; parent != "" {
			o.parent = renamed[parent]
		}
		names = append(names, o.name)
	}
	return names, nil
}

// SetParent sets or clears (empty parent) an object's parent.
func (m *Memory) SetParent(child, parent string) error {
	o, ok := m.objects[child]
	if !ok {
		return ObjectNotFound(child)
	}
	if parent != "" {
		if _, ok := m.objects[parent]; !ok {
			return ObjectNotFound(parent)
		}
	}
	o.parent = parent
	return nil
}

// Children returns the names of objects parented to name.
func (m *Memory) Children(name string) []string {
	var out []string
	for _, n := range m.order {
		if m.objects[n].parent == name {
			out = append(out, n)
		}
	}
	return out
}

func (m *Memory) WithViewport(fn func() error) error {
	m.viewportDepth++
	defer func() { m.viewportDepth-- }()
	return fn()
}

func (m *Memory) insert(o *object) {
	m.objects[o.name] = o
	m.order = append(m.order, o.name)
}

func (m *Memory) link(objectName, collectionName string) {
	c := m.collections[collectionName]
	if !slices.Contains(c.objects, objectName) {
		c.objects = append(c.objects, objectName)
	}
}

func (m *Memory) addCollection(name string, excluded bool) {
	m.collections[name] = &collection{name: name, excluded: excluded}
	m.collectionOrder = append(m.collectionOrder, name)
}

func (m *Memory) newMesh(name string, shape meshShape) *meshData {
	d := &meshData{name: m.uniqueDataName(name), shape: shape, users: 1}
	m.meshes[d.name] = d
	return d
}

func (m *Memory) uniqueObjectName(base string) string {
	return uniqueName(base, func(n string) bool { _, ok := m.objects[n]; return ok })
}

func (m *Memory) uniqueDataName(base string) string {
	return uniqueName(base, func(n string) bool { _, ok := m.meshes[n]; return ok })
}

// uniqueName appends .001, .002 ... until taken reports false.
func uniqueName(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%03d", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

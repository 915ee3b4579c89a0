// Package scene defines the capability set the addon host exposes over the
// socket, plus an in-memory engine implementing it.
//
// All methods are called from the single scene-owning goroutine (see the
// mainloop package); implementations need no locking of their own.
package scene

import (
	"errors"
	"fmt"
)

// Kind is the structural role of an object.
type Kind string

const (
	KindMesh     Kind = "MESH"
	KindEmpty    Kind = "EMPTY"
	KindCamera   Kind = "CAMERA"
	KindLight    Kind = "LIGHT"
	KindArmature Kind = "ARMATURE"
)

// Vec3 is an x, y, z triple.
type Vec3 [3]float64

// BoundingBox is a world-space axis aligned box, min corner then max corner.
type BoundingBox [2]Vec3

// Object is a read-only view of a scene member.
type Object struct {
	Name        string
	Kind        Kind
	Data        string // name of the data block, empty for empties
	Location    Vec3
	Rotation    Vec3 // XYZ euler, radians
	Scale       Vec3
	Hidden      bool // hidden in viewport and render
	Visible     bool // not hidden and linked to at least one included collection
	Parent      string
	Materials   []string
	Collections []string
}

// MeshStats counts mesh elements.
type MeshStats struct {
	Vertices int `json:"vertices"`
	Edges    int `json:"edges"`
	Polygons int `json:"polygons"`
}

// Collection is a named grouping container.
type Collection struct {
	Name     string
	Excluded bool // excluded from the view layer
	Objects  []string
}

// PrimitiveType names a creatable primitive.
type PrimitiveType string

const (
	PrimitiveCube     PrimitiveType = "CUBE"
	PrimitiveSphere   PrimitiveType = "SPHERE"
	PrimitiveCylinder PrimitiveType = "CYLINDER"
	PrimitivePlane    PrimitiveType = "PLANE"
	PrimitiveCone     PrimitiveType = "CONE"
	PrimitiveTorus    PrimitiveType = "TORUS"
	PrimitiveEmpty    PrimitiveType = "EMPTY"
	PrimitiveCamera   PrimitiveType = "CAMERA"
	PrimitiveLight    PrimitiveType = "LIGHT"
)

// TorusOptions shapes a TORUS primitive.
type TorusOptions struct {
	MajorSegments int
	MinorSegments int
	Mode          string // MAJOR_MINOR or EXT_INT
	MajorRadius   float64
	MinorRadius   float64
	AbsoMajorRad  float64
	AbsoMinorRad  float64
}

// DefaultTorus returns the stock torus shape.
func DefaultTorus() TorusOptions {
	return TorusOptions{
		MajorSegments: 48,
		MinorSegments: 12,
		Mode:          "MAJOR_MINOR",
		MajorRadius:   1.0,
		MinorRadius:   0.25,
		AbsoMajorRad:  1.25,
		AbsoMinorRad:  0.75,
	}
}

// PrimitiveSpec describes an object to create.
type PrimitiveSpec struct {
	Type     PrimitiveType
	Name     string
	Location Vec3
	Rotation Vec3
	Scale    Vec3
	Torus    TorusOptions
}

// ObjectUpdate carries optional property changes; nil fields are left alone.
type ObjectUpdate struct {
	Location *Vec3
	Rotation *Vec3
	Scale    *Vec3
	Visible  *bool
}

var (
	ErrNotFound          = errors.New("not found")
	ErrWrongKind         = errors.New("wrong object kind")
	ErrUnsupportedType   = errors.New("unsupported object type")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoViewport        = errors.New("operation requires an active 3D viewport")
	ErrScript            = errors.New("script error")
)

// NotFoundError names the missing entity. It matches ErrNotFound.
type NotFoundError struct {
	What string // Object, Material, Collection
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ObjectNotFound builds the error reported for a missing object.
func ObjectNotFound(name string) error {
	return &NotFoundError{What: "Object", Name: name}
}

// Capabilities is the set of scene operations the executor and the
// generation bridge rely on.
type Capabilities interface {
	SceneName() string
	Objects() []Object
	Object(name string) (Object, error)

	CreatePrimitive(spec PrimitiveSpec) (Object, error)
	UpdateObject(name string, u ObjectUpdate) (Object, error)
	DeleteObject(name string) error
	RenameObject(name, newName string) (string, error)
	LinkedDuplicate(source, name string) (Object, error)
	SetParent(child, parent string) error
	Children(name string) []string

	MeshStats(name string) (MeshStats, error)
	WorldBoundingBox(name string) (BoundingBox, error)

	MaterialCount() int
	SetMaterial(object, material string, create bool, color []float64) (string, error)

	Collection(name string) (Collection, bool)
	EnsureCollection(name string, excluded bool) error
	LinkToCollection(object, collection string) error
	MoveToCollection(object, collection string) error
	RemoveCollection(name string) error

	Export(objects []string, path, format string) error
	Import(path string) ([]string, error)

	RunScript(code string) (result any, hasResult bool, err error)

	// WithViewport runs fn with a valid 3D viewport active.
	WithViewport(fn func() error) error
}

package scene

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const assetGenerator = "blender-mcp memory engine"

// Asset is the interchange document the in-memory engine reads and writes
// for every supported file extension.
type Asset struct {
	Generator string        `cbor:"generator"`
	Format    string        `cbor:"format"`
	Objects   []AssetObject `cbor:"objects"`
}

// AssetObject is one object inside an Asset.
type AssetObject struct {
	Name     string     `cbor:"name"`
	Kind     Kind       `cbor:"kind"`
	Parent   string     `cbor:"parent,omitempty"`
	Location Vec3       `cbor:"location"`
	Rotation Vec3       `cbor:"rotation"`
	Scale    Vec3       `cbor:"scale"`
	Mesh     *AssetMesh `cbor:"mesh,omitempty"`
}

// AssetMesh is the geometry summary carried for mesh objects.
type AssetMesh struct {
	Name      string    `cbor:"name"`
	Min       Vec3      `cbor:"min"`
	Max       Vec3      `cbor:"max"`
	Stats     MeshStats `cbor:"stats"`
	Materials []string  `cbor:"materials,omitempty"`
}

// importFormats maps file extensions to the importer that handles them.
var importFormats = map[string]string{
	".glb":   "gltf",
	".gltf":  "gltf",
	".fbx":   "fbx",
	".obj":   "obj",
	".blend": "blend",
}

// exportFormats lists the formats Export accepts.
var exportFormats = map[string]bool{
	"glb":  true,
	"gltf": true,
	"fbx":  true,
	"obj":  true,
}

// ImportFormat returns the importer name for path, or ErrUnsupportedFormat.
func ImportFormat(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := importFormats[ext]
	if !ok {
		return "", newError(ErrUnsupportedFormat, "Unsupported file format: %s", ext)
	}
	return format, nil
}

// EncodeAsset serializes an asset document.
func EncodeAsset(a Asset) ([]byte, error) {
	if a.Generator == "" {
		a.Generator = assetGenerator
	}
	data, err := cbor.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode asset: %w", err)
	}
	return data, nil
}

// DecodeAsset parses an asset document.
func DecodeAsset(data []byte) (Asset, error) {
	var a Asset
	if err := cbor.Unmarshal(data, &a); err != nil {
		return Asset{}, fmt.Errorf("decode asset: %w", err)
	}
	return a, nil
}

// WriteAssetFile encodes a and writes it to path.
func WriteAssetFile(path string, a Asset) error {
	data, err := EncodeAsset(a)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write asset %s: %w", path, err)
	}
	return nil
}

// ReadAssetFile reads and decodes the asset at path.
func ReadAssetFile(path string) (Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Asset{}, &NotFoundError{What: "File", Name: path}
		}
		return Asset{}, fmt.Errorf("read asset %s: %w", path, err)
	}
	return DecodeAsset(data)
}

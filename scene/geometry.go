package scene

import "math"

// meshShape is the local-space extent and element counts of a mesh.
type meshShape struct {
	Min   Vec3
	Max   Vec3
	Stats MeshStats
}

// primitiveShape returns the stock geometry for a mesh primitive.
func primitiveShape(t PrimitiveType, torus TorusOptions) (meshShape, bool) {
	unit := meshShape{Min: Vec3{-1, -1, -1}, Max: Vec3{1, 1, 1}}
	switch t {
	case PrimitiveCube:
		unit.Stats = MeshStats{Vertices: 8, Edges: 12, Polygons: 6}
	case PrimitiveSphere:
		// 32 segments, 16 rings
		unit.Stats = MeshStats{Vertices: 32*15 + 2, Edges: 32*15 + 32*16, Polygons: 32 * 16}
	case PrimitiveCylinder:
		unit.Stats = MeshStats{Vertices: 64, Edges: 96, Polygons: 34}
	case PrimitivePlane:
		unit.Min[2], unit.Max[2] = 0, 0
		unit.Stats = MeshStats{Vertices: 4, Edges: 4, Polygons: 1}
	case PrimitiveCone:
		unit.Stats = MeshStats{Vertices: 33, Edges: 64, Polygons: 33}
	case PrimitiveTorus:
		major, minor := torus.MajorRadius, torus.MinorRadius
		if torus.Mode == "EXT_INT" {
			major = (torus.AbsoMajorRad + torus.AbsoMinorRad) / 2
			minor = (torus.AbsoMajorRad - torus.AbsoMinorRad) / 2
		}
		segs := torus.MajorSegments * torus.MinorSegments
		outer := major + minor
		return meshShape{
			Min:   Vec3{-outer, -outer, -minor},
			Max:   Vec3{outer, outer, minor},
			Stats: MeshStats{Vertices: segs, Edges: 2 * segs, Polygons: segs},
		}, true
	default:
		return meshShape{}, false
	}
	return unit, true
}

// rotationMatrix builds the XYZ euler rotation matrix (Rz * Ry * Rx).
func rotationMatrix(r Vec3) [3][3]float64 {
	sx, cx := math.Sincos(r[0])
	sy, cy := math.Sincos(r[1])
	sz, cz := math.Sincos(r[2])
	return [3][3]float64{
		{cy * cz, sx*sy*cz - cx*sz, cx*sy*cz + sx*sz},
		{cy * sz, sx*sy*sz + cx*cz, cx*sy*sz - sx*cz},
		{-sy, sx * cy, cx * cy},
	}
}

// worldAABB transforms the eight local box corners and returns their extent.
func worldAABB(shape meshShape, loc, rot, scale Vec3) BoundingBox {
	m := rotationMatrix(rot)
	lo := Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for i := range 8 {
		c := Vec3{shape.Min[0], shape.Min[1], shape.Min[2]}
		if i&1 != 0 {
			c[0] = shape.Max[0]
		}
		if i&2 != 0 {
			c[1] = shape.Max[1]
		}
		if i&4 != 0 {
			c[2] = shape.Max[2]
		}
		c = Vec3{c[0] * scale[0], c[1] * scale[1], c[2] * scale[2]}
		for axis := range 3 {
			v := m[axis][0]*c[0] + m[axis][1]*c[1] + m[axis][2]*c[2] + loc[axis]
			lo[axis] = math.Min(lo[axis], v)
			hi[axis] = math.Max(hi[axis], v)
		}
	}
	return BoundingBox{lo, hi}
}

// Round2 rounds each component to two decimals.
func Round2(v Vec3) Vec3 {
	for i := range v {
		v[i] = math.Round(v[i]*100) / 100
	}
	return v
}

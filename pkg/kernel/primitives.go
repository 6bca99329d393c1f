package kernel

import "math"

// Box creates an indexed box with the given dimensions, centered at the
// origin. The 8 corners are shared between faces and every triangle winds
// counter-clockwise when seen from outside.
func Box(x, y, z float64) *Mesh {
	hx, hy, hz := float32(x/2), float32(y/2), float32(z/2)

	// Corner i has bit 0 set for +X, bit 1 for +Y and bit 2 for +Z.
	vertices := make([]float32, 0, 8*3)
	for i := 0; i < 8; i++ {
		cx, cy, cz := -hx, -hy, -hz
		if i&1 != 0 {
			cx = hx
		}
		if i&2 != 0 {
			cy = hy
		}
		if i&4 != 0 {
			cz = hz
		}
		vertices = append(vertices, cx, cy, cz)
	}

	indices := []uint32{
		0, 4, 6, 0, 6, 2, // -X
		1, 3, 7, 1, 7, 5, // +X
		0, 1, 5, 0, 5, 4, // -Y
		2, 6, 7, 2, 7, 3, // +Y
		0, 2, 3, 0, 3, 1, // -Z
		4, 5, 7, 4, 7, 6, // +Z
	}

	return &Mesh{
		Vertices: vertices,
		Normals:  ComputeVertexNormals(vertices, indices),
		UVs:      make([]float32, 8*2),
		Indices:  indices,
	}
}

// Cylinder creates an indexed cylinder along the Z axis with the given
// height, radius, and number of circular segments. The cylinder is
// centered at the origin and closed by two triangle-fan caps.
func Cylinder(height, radius float64, segments int) *Mesh {
	if segments < 3 {
		segments = 3
	}
	h := float32(height / 2)

	// 0: bottom center, 1: top center, then the bottom ring, then the top ring.
	numVerts := 2 + 2*segments
	vertices := make([]float32, 0, numVerts*3)
	vertices = append(vertices, 0, 0, -h, 0, 0, h)
	for _, z := range []float32{-h, h} {
		for i := 0; i < segments; i++ {
			a := 2 * math.Pi * float64(i) / float64(segments)
			vertices = append(vertices,
				float32(radius*math.Cos(a)),
				float32(radius*math.Sin(a)),
				z,
			)
		}
	}

	bottom := func(i int) uint32 { return uint32(2 + i%segments) }
	top := func(i int) uint32 { return uint32(2 + segments + i%segments) }

	indices := make([]uint32, 0, segments*4*3)
	for i := 0; i < segments; i++ {
		indices = append(indices,
			0, bottom(i+1), bottom(i), // bottom cap
			1, top(i), top(i+1), // top cap
			bottom(i), bottom(i+1), top(i+1), // side
			bottom(i), top(i+1), top(i),
		)
	}

	return &Mesh{
		Vertices: vertices,
		Normals:  ComputeVertexNormals(vertices, indices),
		UVs:      make([]float32, numVerts*2),
		Indices:  indices,
	}
}

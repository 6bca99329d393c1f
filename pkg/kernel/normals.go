package kernel

import "gonum.org/v1/gonum/spatial/r3"

// ComputeVertexNormals generates per-vertex normals by averaging the face
// normals of all triangles incident on each vertex. Face normals are left
// unnormalized before accumulation so larger faces weigh more. Vertices
// referenced by no triangle get a zero normal.
func ComputeVertexNormals(vertices []float32, indices []uint32) []float32 {
	numVerts := len(vertices) / 3
	acc := make([]r3.Vec, numVerts)

	pos := func(i uint32) r3.Vec {
		return r3.Vec{
			X: float64(vertices[i*3]),
			Y: float64(vertices[i*3+1]),
			Z: float64(vertices[i*3+2]),
		}
	}

	numTris := len(indices) / 3
	for t := 0; t < numTris; t++ {
		i0, i1, i2 := indices[t*3], indices[t*3+1], indices[t*3+2]
		if int(i0) >= numVerts || int(i1) >= numVerts || int(i2) >= numVerts {
			continue
		}
		a, b, c := pos(i0), pos(i1), pos(i2)
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		acc[i0] = r3.Add(acc[i0], n)
		acc[i1] = r3.Add(acc[i1], n)
		acc[i2] = r3.Add(acc[i2], n)
	}

	normals := make([]float32, numVerts*3)
	for i, n := range acc {
		if r3.Norm(n) > 1e-12 {
			n = r3.Unit(n)
		}
		normals[i*3+0] = float32(n.X)
		normals[i*3+1] = float32(n.Y)
		normals[i*3+2] = float32(n.Z)
	}
	return normals
}

// FaceNormal returns the unit normal of triangle t, or the zero vector for
// a degenerate triangle.
func (m *Mesh) FaceNormal(t int) r3.Vec {
	tri := m.Triangle(t)
	a, b, c := m.Position(tri[0]), m.Position(tri[1]), m.Position(tri[2])
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if r3.Norm(n) <= 1e-12 {
		return r3.Vec{}
	}
	return r3.Unit(n)
}

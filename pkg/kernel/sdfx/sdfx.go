// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library. Operand meshes are turned
// into signed distance fields, combined, and re-meshed with marching cubes,
// so results are approximations at the configured grid resolution.
package sdfx

import (
	"fmt"

	"github.com/deadsy/sdfx/obj"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*SdfxKernel)(nil)

// DefaultCells controls marching cubes tessellation resolution.
const DefaultCells = 120

// Mesh field lookup: nearest triangles consulted per sample, and the
// R-tree fan-out used to index them.
const (
	meshNeighbors   = 24
	meshMinChildren = 3
	meshMaxChildren = 5
)

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct {
	// Cells is the number of marching cubes cells along the longest axis
	// of the result bounds.
	Cells int
}

// New returns a new SdfxKernel rendering with the given resolution.
// A non-positive cells value selects DefaultCells.
func New(cells int) *SdfxKernel {
	if cells <= 0 {
		cells = DefaultCells
	}
	return &SdfxKernel{Cells: cells}
}

// Name returns the kernel identifier.
func (k *SdfxKernel) Name() string { return "sdfx" }

// Union returns the union of two meshes.
func (k *SdfxKernel) Union(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	return k.combine("union", a, b, sdf.Union3D)
}

// Difference returns the difference a - b.
func (k *SdfxKernel) Difference(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	return k.combine("difference", a, b, func(s ...sdf.SDF3) sdf.SDF3 {
		return sdf.Difference3D(s[0], s[1])
	})
}

// Intersection returns the intersection of two meshes.
func (k *SdfxKernel) Intersection(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	return k.combine("intersection", a, b, func(s ...sdf.SDF3) sdf.SDF3 {
		return sdf.Intersect3D(s[0], s[1])
	})
}

func (k *SdfxKernel) combine(name string, a, b *kernel.Mesh, op func(s ...sdf.SDF3) sdf.SDF3) (out *kernel.Mesh, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("sdfx: %s panicked: %v: %w", name, r, kernel.ErrEvaluation)
		}
	}()

	sa, err := Solid(a)
	if err != nil {
		return nil, fmt.Errorf("sdfx: %s: first operand: %w", name, err)
	}
	sb, err := Solid(b)
	if err != nil {
		return nil, fmt.Errorf("sdfx: %s: second operand: %w", name, err)
	}

	out = k.Render(op(sa, sb))
	if out.IsEmpty() {
		return nil, fmt.Errorf("sdfx: %s rendered no triangles: %w", name, kernel.ErrEvaluation)
	}
	out.Role = a.Role
	out.Name = a.Name
	return out, nil
}

// Solid converts a closed, outward-wound mesh into a signed distance
// field backed by an R-tree of its triangles.
func Solid(m *kernel.Mesh) (sdf.SDF3, error) {
	tris := make([]*sdf.Triangle3, 0, m.TriangleCount())
	for t := 0; t < m.TriangleCount(); t++ {
		if m.FaceNormal(t) == (r3.Vec{}) {
			continue
		}
		idx := m.Triangle(t)
		var tri sdf.Triangle3
		for j, i := range idx {
			p := m.Position(i)
			tri[j] = v3.Vec{X: p.X, Y: p.Y, Z: p.Z}
		}
		tris = append(tris, &tri)
	}
	if len(tris) == 0 {
		return nil, fmt.Errorf("mesh %q has no usable triangles: %w", m.Name, kernel.ErrEvaluation)
	}
	s := obj.ImportTriMesh(tris, min(meshNeighbors, len(tris)), meshMinChildren, meshMaxChildren)
	if s == nil {
		return nil, fmt.Errorf("mesh %q: no distance field: %w", m.Name, kernel.ErrEvaluation)
	}
	return s, nil
}

// Render converts a solid to a triangle mesh using marching cubes. The
// result is an indexed triangle soup with flat face normals and zero UVs.
func (k *SdfxKernel) Render(s sdf.SDF3) *kernel.Mesh {
	renderer := render.NewMarchingCubesUniform(k.Cells)
	triangles := render.ToTriangles(s, renderer)

	numVerts := len(triangles) * 3

	vertices := make([]float32, 0, numVerts*3)
	normals := make([]float32, 0, numVerts*3)
	indices := make([]uint32, 0, numVerts)

	for i, tri := range triangles {
		// Compute face normal.
		n := tri.Normal()
		nx := float32(n.X)
		ny := float32(n.Y)
		nz := float32(n.Z)

		for j := 0; j < 3; j++ {
			v := tri[j]
			vertices = append(vertices, float32(v.X), float32(v.Y), float32(v.Z))
			normals = append(normals, nx, ny, nz)
			indices = append(indices, uint32(i*3+j))
		}
	}

	return &kernel.Mesh{
		Vertices: vertices,
		Normals:  normals,
		UVs:      make([]float32, numVerts*2),
		Indices:  indices,
	}
}

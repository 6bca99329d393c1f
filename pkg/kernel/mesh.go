package kernel

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Role tags the part a mesh plays in the fusion.
type Role string

const (
	RoleUserModel Role = "user-model"
	RoleFiller    Role = "filler"
	RoleBaseTrim  Role = "base-trim"
	RoleScrewHole Role = "screw-hole"

	// Loader-only roles. Meshes with these roles never reach a kernel.
	RoleVisualAid Role = "visual-aid"
	RoleIgnored   Role = "ignored"
)

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUserModel, RoleFiller, RoleBaseTrim, RoleScrewHole, RoleVisualAid, RoleIgnored:
		return r, nil
	}
	return "", fmt.Errorf("kernel: unknown role %q", s)
}

// Mesh is a triangle mesh shared by every pipeline stage.
// All arrays are flat: vertices has 3 floats per vertex (x,y,z),
// normals has 3 floats per vertex, uvs has 2 floats per vertex and
// indices has 3 uint32s per triangle. A nil array means the attribute is
// absent; a mesh without indices is a triangle soup where every three
// consecutive vertices form a triangle.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	UVs      []float32 `json:"uvs"`      // [u0,v0, u1,v1, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	Role     Role      `json:"role"`
	Name     string    `json:"name"`
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	if m.IsIndexed() {
		return len(m.Indices) / 3
	}
	return m.VertexCount() / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

// IsIndexed reports whether the mesh carries an index buffer.
func (m *Mesh) IsIndexed() bool {
	return m.Indices != nil
}

// HasNormals reports whether there is exactly one normal per vertex.
func (m *Mesh) HasNormals() bool {
	return m.Normals != nil && len(m.Normals) == len(m.Vertices)
}

// HasUVs reports whether there is exactly one UV pair per vertex.
func (m *Mesh) HasUVs() bool {
	return m.UVs != nil && len(m.UVs) == m.VertexCount()*2
}

// Position returns vertex i as a vector.
func (m *Mesh) Position(i uint32) r3.Vec {
	return r3.Vec{
		X: float64(m.Vertices[i*3]),
		Y: float64(m.Vertices[i*3+1]),
		Z: float64(m.Vertices[i*3+2]),
	}
}

// Normal returns the normal of vertex i, or the zero vector when normals
// are absent.
func (m *Mesh) Normal(i uint32) r3.Vec {
	if !m.HasNormals() {
		return r3.Vec{}
	}
	return r3.Vec{
		X: float64(m.Normals[i*3]),
		Y: float64(m.Normals[i*3+1]),
		Z: float64(m.Normals[i*3+2]),
	}
}

// UV returns the texture coordinate of vertex i, or zero when UVs are absent.
func (m *Mesh) UV(i uint32) [2]float64 {
	if !m.HasUVs() {
		return [2]float64{}
	}
	return [2]float64{float64(m.UVs[i*2]), float64(m.UVs[i*2+1])}
}

// Triangle returns the vertex indices of triangle t, resolving the implicit
// index of a triangle soup.
func (m *Mesh) Triangle(t int) [3]uint32 {
	if m.IsIndexed() {
		return [3]uint32{m.Indices[t*3], m.Indices[t*3+1], m.Indices[t*3+2]}
	}
	base := uint32(t * 3)
	return [3]uint32{base, base + 1, base + 2}
}

// BoundingBox returns the axis-aligned bounding box of all vertices.
// An empty mesh yields the zero box.
func (m *Mesh) BoundingBox() r3.Box {
	n := m.VertexCount()
	if n == 0 {
		return r3.Box{}
	}
	box := r3.Box{Min: m.Position(0), Max: m.Position(0)}
	for i := 1; i < n; i++ {
		p := m.Position(uint32(i))
		box.Min = r3.Vec{X: min(box.Min.X, p.X), Y: min(box.Min.Y, p.Y), Z: min(box.Min.Z, p.Z)}
		box.Max = r3.Vec{X: max(box.Max.X, p.X), Y: max(box.Max.Y, p.Y), Z: max(box.Max.Z, p.Z)}
	}
	return box
}

// Clone returns a deep copy of the mesh. Absent attributes stay absent.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		Vertices: cloneSlice(m.Vertices),
		Normals:  cloneSlice(m.Normals),
		UVs:      cloneSlice(m.UVs),
		Indices:  cloneSlice(m.Indices),
		Role:     m.Role,
		Name:     m.Name,
	}
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// Concat returns a new indexed mesh holding the triangles of a followed by
// those of b. Both meshes must be normalized. The result keeps a's role
// and name.
func Concat(a, b *Mesh) *Mesh {
	offset := uint32(a.VertexCount())
	out := &Mesh{
		Vertices: append(cloneSlice(a.Vertices), b.Vertices...),
		Normals:  append(cloneSlice(a.Normals), b.Normals...),
		UVs:      append(cloneSlice(a.UVs), b.UVs...),
		Indices:  make([]uint32, 0, len(a.Indices)+len(b.Indices)),
		Role:     a.Role,
		Name:     a.Name,
	}
	out.Indices = append(out.Indices, a.Indices...)
	for _, idx := range b.Indices {
		out.Indices = append(out.Indices, idx+offset)
	}
	return out
}

// Disjoint reports whether the bounding boxes of a and b are strictly
// separated along at least one axis. Touching boxes are not disjoint.
func Disjoint(a, b *Mesh) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return true
	}
	ba, bb := a.BoundingBox(), b.BoundingBox()
	return ba.Max.X < bb.Min.X || bb.Max.X < ba.Min.X ||
		ba.Max.Y < bb.Min.Y || bb.Max.Y < ba.Min.Y ||
		ba.Max.Z < bb.Min.Z || bb.Max.Z < ba.Min.Z
}

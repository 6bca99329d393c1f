// Package bake applies world transforms to mesh data so that every operand
// of a boolean lives in one shared coordinate frame.
package bake

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/xform"
)

// ErrSingularTransform is returned for a world matrix that collapses space.
var ErrSingularTransform = errors.New("singular transform")

// Bake returns a copy of m with world applied to every position and the
// normal matrix applied to every normal. Normals are renormalized. When
// world mirrors space, triangle winding is reversed so faces keep pointing
// outward. The input is never modified.
func Bake(m *kernel.Mesh, world xform.Mat4) (*kernel.Mesh, error) {
	out := m.Clone()
	if world.IsIdentity(0) {
		return out, nil
	}

	normalMat, err := world.NormalMatrix()
	if err != nil {
		return nil, fmt.Errorf("bake: %s: %w", label(m), ErrSingularTransform)
	}

	for i := 0; i < out.VertexCount(); i++ {
		p := world.TransformPoint(out.Position(uint32(i)))
		out.Vertices[i*3] = float32(p.X)
		out.Vertices[i*3+1] = float32(p.Y)
		out.Vertices[i*3+2] = float32(p.Z)
	}

	if out.HasNormals() {
		for i := 0; i < out.VertexCount(); i++ {
			n := normalMat.TransformDirection(out.Normal(uint32(i)))
			if r3.Norm(n) > 1e-12 {
				n = r3.Unit(n)
			}
			out.Normals[i*3] = float32(n.X)
			out.Normals[i*3+1] = float32(n.Y)
			out.Normals[i*3+2] = float32(n.Z)
		}
	}

	if world.Determinant() < 0 {
		flipWinding(out)
	}
	return out, nil
}

// flipWinding swaps the last two corners of every triangle. A triangle soup
// gets an explicit index first so its vertex order can stay untouched.
func flipWinding(m *kernel.Mesh) {
	if !m.IsIndexed() {
		n := m.VertexCount() / 3 * 3
		m.Indices = make([]uint32, n)
		for i := range m.Indices {
			m.Indices[i] = uint32(i)
		}
	}
	for t := 0; t+2 < len(m.Indices); t += 3 {
		m.Indices[t+1], m.Indices[t+2] = m.Indices[t+2], m.Indices[t+1]
	}
}

func label(m *kernel.Mesh) string {
	if m.Name != "" {
		return m.Name
	}
	return string(m.Role)
}

// Package normalize brings an arbitrary triangle mesh into the form every
// boolean evaluator accepts: indexed, with per-vertex normals and UVs.
package normalize

import (
	"errors"
	"fmt"

	"github.com/chazu/archfuse/pkg/kernel"
)

// ErrMissingGeometry is returned when a mesh has no position data.
var ErrMissingGeometry = errors.New("missing geometry")

// Normalize returns an indexed copy of m with normals and UVs present.
// The input is never modified. A mesh without indices gets the identity
// index over its whole triangles, dropping any trailing partial triangle.
// Missing normals are computed from the faces, missing UVs are zero-filled.
func Normalize(m *kernel.Mesh, label string) (*kernel.Mesh, error) {
	if m == nil || m.IsEmpty() {
		return nil, fmt.Errorf("normalize: %s: %w", label, ErrMissingGeometry)
	}
	if len(m.Vertices)%3 != 0 {
		return nil, fmt.Errorf("normalize: %s: position buffer length %d is not a multiple of 3: %w",
			label, len(m.Vertices), ErrMissingGeometry)
	}

	out := m.Clone()

	if !out.IsIndexed() {
		n := out.VertexCount() / 3 * 3
		out.Indices = make([]uint32, n)
		for i := range out.Indices {
			out.Indices[i] = uint32(i)
		}
	}
	if !out.HasNormals() {
		out.Normals = kernel.ComputeVertexNormals(out.Vertices, out.Indices)
	}
	if !out.HasUVs() {
		out.UVs = make([]float32, out.VertexCount()*2)
	}
	return out, nil
}

package kernel

import (
	"fmt"
	"math"
	"strings"
)

// Validate checks that m satisfies the structural preconditions of a
// boolean evaluator: an indexed triangle list with finite positions, one
// normal and one UV pair per vertex, and every index in range.
// All problems are reported together.
func Validate(m *Mesh) error {
	if m == nil {
		return fmt.Errorf("kernel: nil mesh")
	}

	var problems []string

	if len(m.Vertices) == 0 {
		problems = append(problems, "no vertices")
	}
	if len(m.Vertices)%3 != 0 {
		problems = append(problems, fmt.Sprintf("vertex buffer length %d is not a multiple of 3", len(m.Vertices)))
	}
	if !m.HasNormals() {
		problems = append(problems, fmt.Sprintf("normal buffer length %d, want %d", len(m.Normals), len(m.Vertices)))
	}
	if !m.HasUVs() {
		problems = append(problems, fmt.Sprintf("uv buffer length %d, want %d", len(m.UVs), m.VertexCount()*2))
	}
	if !m.IsIndexed() {
		problems = append(problems, "mesh is not indexed")
	} else if len(m.Indices)%3 != 0 {
		problems = append(problems, fmt.Sprintf("index buffer length %d is not a multiple of 3", len(m.Indices)))
	}

	n := uint32(m.VertexCount())
	for i, idx := range m.Indices {
		if idx >= n {
			problems = append(problems, fmt.Sprintf("index %d at position %d out of range (%d vertices)", idx, i, n))
			break
		}
	}

	for i, v := range m.Vertices {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			problems = append(problems, fmt.Sprintf("non-finite coordinate at vertex %d", i/3))
			break
		}
	}

	if len(problems) == 0 {
		return nil
	}
	name := m.Name
	if name == "" {
		name = string(m.Role)
	}
	return fmt.Errorf("kernel: invalid mesh %q: %s", name, strings.Join(problems, "; "))
}

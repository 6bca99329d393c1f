// Package cleanup repairs the output of a boolean chain: coincident
// vertices are welded back together and normals are rebuilt from the
// welded topology.
package cleanup

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/kernel"
)

// DefaultWeldTolerance is the merge distance used when none is configured.
const DefaultWeldTolerance = 1e-4

// minTolerance replaces a non-positive tolerance so that only exact
// duplicates merge.
const minTolerance = 1e-9

// Options controls the cleanup passes.
type Options struct {
	// WeldTolerance is the largest distance at which two vertices merge.
	WeldTolerance float64
}

// DefaultOptions returns the options used by the pipeline by default.
func DefaultOptions() Options {
	return Options{WeldTolerance: DefaultWeldTolerance}
}

// Cleanup welds m and recomputes its normals. Both passes always run.
func Cleanup(m *kernel.Mesh, opts Options) *kernel.Mesh {
	return RecomputeNormals(Weld(m, opts.WeldTolerance))
}

// weldPoint is an R-tree entry for one surviving vertex.
type weldPoint struct {
	index uint32
	pos   r3.Vec
	rect  rtreego.Rect
}

func (w *weldPoint) Bounds() rtreego.Rect { return w.rect }

// Weld merges every vertex into the first-seen vertex within tol of it and
// re-indexes the triangles. Triangles left with fewer than three distinct
// corners are dropped. The surviving vertex keeps its own normal and UV.
func Weld(m *kernel.Mesh, tol float64) *kernel.Mesh {
	if tol <= 0 {
		tol = minTolerance
	}

	n := m.VertexCount()
	tree := rtreego.NewTree(3, 25, 50)
	remap := make([]uint32, n)

	out := &kernel.Mesh{
		Vertices: make([]float32, 0, len(m.Vertices)),
		Indices:  make([]uint32, 0, m.TriangleCount()*3),
		Role:     m.Role,
		Name:     m.Name,
	}
	hasNormals, hasUVs := m.HasNormals(), m.HasUVs()
	if hasNormals {
		out.Normals = make([]float32, 0, len(m.Normals))
	}
	if hasUVs {
		out.UVs = make([]float32, 0, len(m.UVs))
	}

	for i := 0; i < n; i++ {
		p := m.Position(uint32(i))
		if target, ok := nearest(tree, p, tol); ok {
			remap[i] = target
			continue
		}

		idx := uint32(out.VertexCount())
		remap[i] = idx
		out.Vertices = append(out.Vertices, m.Vertices[i*3:i*3+3]...)
		if hasNormals {
			out.Normals = append(out.Normals, m.Normals[i*3:i*3+3]...)
		}
		if hasUVs {
			out.UVs = append(out.UVs, m.UVs[i*2:i*2+2]...)
		}
		pt := rtreego.Point{p.X, p.Y, p.Z}
		tree.Insert(&weldPoint{index: idx, pos: p, rect: pt.ToRect(tol)})
	}

	for t := 0; t < m.TriangleCount(); t++ {
		tri := m.Triangle(t)
		a, b, c := remap[tri[0]], remap[tri[1]], remap[tri[2]]
		if a == b || b == c || a == c {
			continue
		}
		out.Indices = append(out.Indices, a, b, c)
	}
	return out
}

// nearest returns the closest stored vertex within tol of p. Ties go to the
// vertex stored first. Stored entries span tol on each side, so the box
// query may return candidates up to 2*tol away; distance decides.
func nearest(tree *rtreego.Rtree, p r3.Vec, tol float64) (uint32, bool) {
	query := rtreego.Point{p.X, p.Y, p.Z}.ToRect(tol)
	best, bestDist := uint32(0), math.Inf(1)
	found := false
	for _, hit := range tree.SearchIntersect(query) {
		w := hit.(*weldPoint)
		d := r3.Norm(r3.Sub(w.pos, p))
		if d > tol {
			continue
		}
		if d < bestDist || (d == bestDist && w.index < best) {
			best, bestDist, found = w.index, d, true
		}
	}
	return best, found
}

// RecomputeNormals returns a copy of m whose normals are rebuilt from its
// current triangles.
func RecomputeNormals(m *kernel.Mesh) *kernel.Mesh {
	out := m.Clone()
	if !out.IsIndexed() {
		out.Indices = make([]uint32, out.VertexCount()/3*3)
		for i := range out.Indices {
			out.Indices[i] = uint32(i)
		}
	}
	out.Normals = kernel.ComputeVertexNormals(out.Vertices, out.Indices)
	if !out.HasUVs() {
		out.UVs = make([]float32, out.VertexCount()*2)
	}
	return out
}

// Components returns the number of connected components of m, where two
// triangles are connected when they share a vertex index. Unreferenced
// vertices are not counted.
func Components(m *kernel.Mesh) int {
	parent := make([]int, m.VertexCount())
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	used := make([]bool, len(parent))
	for t := 0; t < m.TriangleCount(); t++ {
		tri := m.Triangle(t)
		for _, v := range tri {
			used[v] = true
		}
		ra := find(int(tri[0]))
		for _, v := range tri[1:] {
			if rb := find(int(v)); rb != ra {
				parent[rb] = ra
			}
		}
	}

	roots := make(map[int]struct{})
	for i, u := range used {
		if u {
			roots[find(i)] = struct{}{}
		}
	}
	return len(roots)
}

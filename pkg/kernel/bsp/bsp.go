// Package bsp implements the default boolean evaluator: constructive solid
// geometry on polygon soups through binary space partitioning trees. It is
// pure Go, needs no cgo, and returns exact planar results for closed,
// consistently wound operands.
package bsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/kernel"
)

// epsilon is the plane thickness used when classifying points.
const epsilon = 1e-5

// degenerateArea is the smallest cross-product norm of an accepted triangle.
const degenerateArea = 1e-10

// Kernel is the BSP boolean evaluator.
type Kernel struct{}

// New returns a BSP kernel.
func New() *Kernel {
	return &Kernel{}
}

// Compile-time check that Kernel implements kernel.Kernel.
var _ kernel.Kernel = (*Kernel)(nil)

// Name returns the kernel identifier.
func (k *Kernel) Name() string { return "bsp" }

// Union returns a mesh enclosing the volume of both operands. Operands with
// separated bounds are concatenated without building trees.
func (k *Kernel) Union(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	if a.IsEmpty() {
		return b.Clone(), nil
	}
	if b.IsEmpty() {
		return a.Clone(), nil
	}
	if kernel.Disjoint(a, b) {
		return kernel.Concat(a, b), nil
	}
	return evaluate("union", a, b, func(x, y *node) []*polygon {
		x.clipTo(y)
		y.clipTo(x)
		y.invert()
		y.clipTo(x)
		y.invert()
		x.build(y.allPolygons())
		return x.allPolygons()
	})
}

// Difference returns the volume of a with b removed. A cutter whose bounds
// miss a leaves a unchanged.
func (k *Kernel) Difference(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	if a.IsEmpty() || b.IsEmpty() || kernel.Disjoint(a, b) {
		return a.Clone(), nil
	}
	return evaluate("difference", a, b, func(x, y *node) []*polygon {
		x.invert()
		x.clipTo(y)
		y.clipTo(x)
		y.invert()
		y.clipTo(x)
		y.invert()
		x.build(y.allPolygons())
		x.invert()
		return x.allPolygons()
	})
}

// Intersection returns the volume shared by both operands.
func (k *Kernel) Intersection(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	if kernel.Disjoint(a, b) {
		return &kernel.Mesh{
			Vertices: []float32{},
			Normals:  []float32{},
			UVs:      []float32{},
			Indices:  []uint32{},
			Role:     a.Role,
			Name:     a.Name,
		}, nil
	}
	return evaluate("intersection", a, b, func(x, y *node) []*polygon {
		x.invert()
		y.clipTo(x)
		y.invert()
		x.clipTo(y)
		y.clipTo(x)
		x.build(y.allPolygons())
		x.invert()
		return x.allPolygons()
	})
}

// evaluate builds one tree per operand, runs op and converts the resulting
// polygons back into a mesh carrying a's role and name. Panics inside the
// tree code are reported as evaluation errors.
func evaluate(name string, a, b *kernel.Mesh, op func(x, y *node) []*polygon) (out *kernel.Mesh, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("bsp: %s panicked: %v: %w", name, r, kernel.ErrEvaluation)
		}
	}()

	pa, err := toPolygons(a)
	if err != nil {
		return nil, fmt.Errorf("bsp: %s: first operand: %w", name, err)
	}
	pb, err := toPolygons(b)
	if err != nil {
		return nil, fmt.Errorf("bsp: %s: second operand: %w", name, err)
	}

	result := fromPolygons(op(newNode(pa), newNode(pb)))
	result.Role = a.Role
	result.Name = a.Name

	for _, v := range result.Vertices {
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("bsp: %s produced non-finite coordinates: %w", name, kernel.ErrEvaluation)
		}
	}
	return result, nil
}

// toPolygons converts every non-degenerate triangle of m into a polygon.
func toPolygons(m *kernel.Mesh) ([]*polygon, error) {
	polys := make([]*polygon, 0, m.TriangleCount())
	for t := 0; t < m.TriangleCount(); t++ {
		tri := m.Triangle(t)
		verts := make([]vertex, 3)
		for i, idx := range tri {
			verts[i] = vertex{pos: m.Position(idx), normal: m.Normal(idx), uv: m.UV(idx)}
		}
		pl, ok := planeFromPoints(verts[0].pos, verts[1].pos, verts[2].pos)
		if !ok {
			continue
		}
		polys = append(polys, &polygon{vertices: verts, plane: pl})
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("mesh %q has no non-degenerate triangles: %w", m.Name, kernel.ErrEvaluation)
	}
	return polys, nil
}

// fromPolygons fan-triangulates each convex polygon into its own vertices.
// Normals are the flat polygon normals.
func fromPolygons(polys []*polygon) *kernel.Mesh {
	m := &kernel.Mesh{
		Vertices: []float32{},
		Normals:  []float32{},
		UVs:      []float32{},
		Indices:  []uint32{},
	}
	for _, p := range polys {
		if len(p.vertices) < 3 {
			continue
		}
		base := uint32(m.VertexCount())
		n := p.plane.normal
		for _, v := range p.vertices {
			m.Vertices = append(m.Vertices, float32(v.pos.X), float32(v.pos.Y), float32(v.pos.Z))
			m.Normals = append(m.Normals, float32(n.X), float32(n.Y), float32(n.Z))
			m.UVs = append(m.UVs, float32(v.uv[0]), float32(v.uv[1]))
		}
		for i := 1; i+1 < len(p.vertices); i++ {
			m.Indices = append(m.Indices, base, base+uint32(i), base+uint32(i+1))
		}
	}
	return m
}

// --- geometry primitives ---

type vertex struct {
	pos    r3.Vec
	normal r3.Vec
	uv     [2]float64
}

func (v vertex) flip() vertex {
	v.normal = r3.Scale(-1, v.normal)
	return v
}

// lerp returns the vertex a fraction t of the way from v to o.
func (v vertex) lerp(o vertex, t float64) vertex {
	return vertex{
		pos:    r3.Add(v.pos, r3.Scale(t, r3.Sub(o.pos, v.pos))),
		normal: r3.Add(v.normal, r3.Scale(t, r3.Sub(o.normal, v.normal))),
		uv: [2]float64{
			v.uv[0] + (o.uv[0]-v.uv[0])*t,
			v.uv[1] + (o.uv[1]-v.uv[1])*t,
		},
	}
}

type plane struct {
	normal r3.Vec
	w      float64
}

func planeFromPoints(a, b, c r3.Vec) (plane, bool) {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if r3.Norm(n) < degenerateArea {
		return plane{}, false
	}
	n = r3.Unit(n)
	return plane{normal: n, w: r3.Dot(n, a)}, true
}

func (p plane) flip() plane {
	return plane{normal: r3.Scale(-1, p.normal), w: -p.w}
}

// Point classification against a plane. Spanning is front|back.
const (
	coplanar = 0
	front    = 1
	back     = 2
	spanning = 3
)

// split sorts poly into one of the four lists, cutting it in two when it
// straddles the plane. Coplanar polygons go to coplanarFront when they face
// the same way as the plane.
func (p plane) split(poly *polygon, coplanarFront, coplanarBack, fronts, backs *[]*polygon) {
	kind := coplanar
	types := make([]int, len(poly.vertices))
	for i, v := range poly.vertices {
		d := r3.Dot(p.normal, v.pos) - p.w
		t := coplanar
		if d < -epsilon {
			t = back
		} else if d > epsilon {
			t = front
		}
		kind |= t
		types[i] = t
	}

	switch kind {
	case coplanar:
		if r3.Dot(p.normal, poly.plane.normal) > 0 {
			*coplanarFront = append(*coplanarFront, poly)
		} else {
			*coplanarBack = append(*coplanarBack, poly)
		}
	case front:
		*fronts = append(*fronts, poly)
	case back:
		*backs = append(*backs, poly)
	case spanning:
		var f, b []vertex
		n := len(poly.vertices)
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			ti, tj := types[i], types[j]
			vi, vj := poly.vertices[i], poly.vertices[j]
			if ti != back {
				f = append(f, vi)
			}
			if ti != front {
				b = append(b, vi)
			}
			if ti|tj == spanning {
				t := (p.w - r3.Dot(p.normal, vi.pos)) / r3.Dot(p.normal, r3.Sub(vj.pos, vi.pos))
				mid := vi.lerp(vj, t)
				f = append(f, mid)
				b = append(b, mid)
			}
		}
		if len(f) >= 3 {
			*fronts = append(*fronts, &polygon{vertices: f, plane: poly.plane})
		}
		if len(b) >= 3 {
			*backs = append(*backs, &polygon{vertices: b, plane: poly.plane})
		}
	}
}

// polygon is a convex planar polygon. Polygons are never mutated once built.
type polygon struct {
	vertices []vertex
	plane    plane
}

// flip returns a copy with reversed winding.
func (p *polygon) flip() *polygon {
	n := len(p.vertices)
	verts := make([]vertex, n)
	for i, v := range p.vertices {
		verts[n-1-i] = v.flip()
	}
	return &polygon{vertices: verts, plane: p.plane.flip()}
}

// node is a BSP tree node. The front and back subtrees hold the polygons in
// front of and behind the node plane; polygons lying in the plane stay in
// the node.
type node struct {
	plane    *plane
	front    *node
	back     *node
	polygons []*polygon
}

func newNode(polys []*polygon) *node {
	n := &node{}
	n.build(polys)
	return n
}

// invert converts solid space to empty space and back.
func (n *node) invert() {
	for i, p := range n.polygons {
		n.polygons[i] = p.flip()
	}
	if n.plane != nil {
		f := n.plane.flip()
		n.plane = &f
	}
	if n.front != nil {
		n.front.invert()
	}
	if n.back != nil {
		n.back.invert()
	}
	n.front, n.back = n.back, n.front
}

// clipPolygons removes the parts of polys that lie inside this tree.
func (n *node) clipPolygons(polys []*polygon) []*polygon {
	if n.plane == nil {
		return append([]*polygon(nil), polys...)
	}
	var fronts, backs []*polygon
	for _, p := range polys {
		n.plane.split(p, &fronts, &backs, &fronts, &backs)
	}
	if n.front != nil {
		fronts = n.front.clipPolygons(fronts)
	}
	if n.back != nil {
		backs = n.back.clipPolygons(backs)
	} else {
		backs = nil
	}
	return append(fronts, backs...)
}

// clipTo removes every polygon of this tree that lies inside other.
func (n *node) clipTo(other *node) {
	n.polygons = other.clipPolygons(n.polygons)
	if n.front != nil {
		n.front.clipTo(other)
	}
	if n.back != nil {
		n.back.clipTo(other)
	}
}

func (n *node) allPolygons() []*polygon {
	out := append([]*polygon(nil), n.polygons...)
	if n.front != nil {
		out = append(out, n.front.allPolygons()...)
	}
	if n.back != nil {
		out = append(out, n.back.allPolygons()...)
	}
	return out
}

// build inserts polys into the tree, using the first polygon's plane as the
// split plane of a fresh node.
func (n *node) build(polys []*polygon) {
	if len(polys) == 0 {
		return
	}
	if n.plane == nil {
		p := polys[0].plane
		n.plane = &p
	}
	var fronts, backs []*polygon
	for _, p := range polys {
		n.plane.split(p, &n.polygons, &n.polygons, &fronts, &backs)
	}
	if len(fronts) > 0 {
		if n.front == nil {
			n.front = &node{}
		}
		n.front.build(fronts)
	}
	if len(backs) > 0 {
		if n.back == nil {
			n.back = &node{}
		}
		n.back.build(backs)
	}
}

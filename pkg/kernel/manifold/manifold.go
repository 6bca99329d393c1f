//go:build manifold

// Package manifold provides a CGo-based boolean evaluator binding to the
// Manifold library (https://github.com/elalish/manifold). Manifold provides
// guaranteed-manifold mesh boolean operations.
//
// This package requires the Manifold C library (manifoldc) to be installed.
// Build with: go build -tags=manifold
package manifold

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lmanifoldc

#include <stdlib.h>
#include <manifold/manifoldc.h>
*/
import "C"

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/chazu/archfuse/pkg/cleanup"
	"github.com/chazu/archfuse/pkg/kernel"
)

// Compile-time interface check.
var _ kernel.Kernel = (*ManifoldKernel)(nil)

// manifoldSolid wraps a C ManifoldManifold pointer.
type manifoldSolid struct {
	ptr *C.ManifoldManifold
}

// newSolid wraps a C ManifoldManifold pointer with Go-side finalizer
// for automatic memory management.
func newSolid(ptr *C.ManifoldManifold) *manifoldSolid {
	s := &manifoldSolid{ptr: ptr}
	runtime.SetFinalizer(s, func(s *manifoldSolid) {
		if s.ptr != nil {
			C.manifold_delete_manifold(s.ptr)
			s.ptr = nil
		}
	})
	return s
}

// ManifoldKernel implements kernel.Kernel using the Manifold C library.
type ManifoldKernel struct {
	// WeldTolerance merges near-coincident operand vertices before import;
	// Manifold rejects meshes whose triangles do not share vertices.
	WeldTolerance float64
}

// New creates a new ManifoldKernel.
func New() (kernel.Kernel, error) {
	return &ManifoldKernel{WeldTolerance: cleanup.DefaultOptions().WeldTolerance}, nil
}

// Name returns the kernel identifier.
func (k *ManifoldKernel) Name() string { return "manifold" }

// Union returns the boolean union of two meshes.
func (k *ManifoldKernel) Union(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	return k.apply("union", a, b, func(alloc unsafe.Pointer, x, y *C.ManifoldManifold) *C.ManifoldManifold {
		return C.manifold_union(alloc, x, y)
	})
}

// Difference returns the boolean difference (a minus b).
func (k *ManifoldKernel) Difference(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	return k.apply("difference", a, b, func(alloc unsafe.Pointer, x, y *C.ManifoldManifold) *C.ManifoldManifold {
		return C.manifold_difference(alloc, x, y)
	})
}

// Intersection returns the boolean intersection of two meshes.
func (k *ManifoldKernel) Intersection(a, b *kernel.Mesh) (*kernel.Mesh, error) {
	return k.apply("intersection", a, b, func(alloc unsafe.Pointer, x, y *C.ManifoldManifold) *C.ManifoldManifold {
		return C.manifold_intersection(alloc, x, y)
	})
}

type binaryOp func(alloc unsafe.Pointer, x, y *C.ManifoldManifold) *C.ManifoldManifold

func (k *ManifoldKernel) apply(name string, a, b *kernel.Mesh, op binaryOp) (*kernel.Mesh, error) {
	sa, err := k.toSolid(a)
	if err != nil {
		return nil, fmt.Errorf("manifold: %s: first operand: %w", name, err)
	}
	sb, err := k.toSolid(b)
	if err != nil {
		return nil, fmt.Errorf("manifold: %s: second operand: %w", name, err)
	}

	alloc := C.manifold_alloc_manifold()
	result := newSolid(op(alloc, sa.ptr, sb.ptr))
	if status := C.manifold_status(result.ptr); status != C.MANIFOLD_NO_ERROR {
		return nil, fmt.Errorf("manifold: %s: status %d: %w", name, int(status), kernel.ErrEvaluation)
	}

	out, err := toMesh(result)
	if err != nil {
		return nil, fmt.Errorf("manifold: %s: %w", name, err)
	}
	out.Role = a.Role
	out.Name = a.Name
	return out, nil
}

// toSolid welds m and imports its positions and triangles as a manifold.
func (k *ManifoldKernel) toSolid(m *kernel.Mesh) (*manifoldSolid, error) {
	welded := cleanup.Weld(m, k.WeldTolerance)
	if welded.TriangleCount() == 0 {
		return nil, fmt.Errorf("mesh %q has no triangles after welding: %w", m.Name, kernel.ErrEvaluation)
	}

	props := make([]float32, len(welded.Vertices))
	copy(props, welded.Vertices)
	tris := make([]uint32, len(welded.Indices))
	copy(tris, welded.Indices)

	meshAlloc := C.manifold_alloc_meshgl()
	meshGL := C.manifold_meshgl(meshAlloc,
		(*C.float)(unsafe.Pointer(&props[0])),
		C.size_t(welded.VertexCount()),
		C.size_t(3),
		(*C.uint32_t)(unsafe.Pointer(&tris[0])),
		C.size_t(welded.TriangleCount()),
	)
	defer C.manifold_delete_meshgl(meshGL)

	alloc := C.manifold_alloc_manifold()
	s := newSolid(C.manifold_of_meshgl(alloc, meshGL))
	if status := C.manifold_status(s.ptr); status != C.MANIFOLD_NO_ERROR {
		return nil, fmt.Errorf("mesh %q rejected, status %d: %w", m.Name, int(status), kernel.ErrEvaluation)
	}
	return s, nil
}

// toMesh extracts a triangle mesh from the solid using Manifold's MeshGL
// format. Vertex positions and normals are interleaved in MeshGL; this
// function separates them into the kernel.Mesh flat-array layout.
func toMesh(ms *manifoldSolid) (*kernel.Mesh, error) {
	meshAlloc := C.manifold_alloc_meshgl()
	meshGL := C.manifold_get_meshgl(meshAlloc, ms.ptr)
	defer C.manifold_delete_meshgl(meshGL)

	numVert := int(C.manifold_meshgl_num_vert(meshGL))
	numTri := int(C.manifold_meshgl_num_tri(meshGL))

	if numVert == 0 || numTri == 0 {
		return &kernel.Mesh{
			Vertices: []float32{},
			Normals:  []float32{},
			UVs:      []float32{},
			Indices:  []uint32{},
		}, nil
	}

	// The first 3 properties are always position (x, y, z).
	numProp := int(C.manifold_meshgl_num_prop(meshGL))

	propData := make([]float32, numVert*numProp)
	C.manifold_meshgl_vert_properties(
		(*C.float)(unsafe.Pointer(&propData[0])),
		meshGL,
	)

	indices := make([]uint32, numTri*3)
	C.manifold_meshgl_tri_verts(
		(*C.uint32_t)(unsafe.Pointer(&indices[0])),
		meshGL,
	)

	vertices := make([]float32, numVert*3)
	for i := 0; i < numVert; i++ {
		base := i * numProp
		vertices[i*3+0] = propData[base+0]
		vertices[i*3+1] = propData[base+1]
		vertices[i*3+2] = propData[base+2]
	}

	mesh := &kernel.Mesh{
		Vertices: vertices,
		Normals:  kernel.ComputeVertexNormals(vertices, indices),
		UVs:      make([]float32, numVert*2),
		Indices:  indices,
	}

	if mesh.VertexCount() != numVert {
		return nil, fmt.Errorf("vertex count mismatch: got %d, expected %d",
			mesh.VertexCount(), numVert)
	}

	return mesh, nil
}

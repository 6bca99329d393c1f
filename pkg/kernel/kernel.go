// Package kernel defines the abstract boolean evaluator interface and the
// indexed triangle mesh that flows between pipeline stages.
// Implementations (bsp, sdfx, manifold) provide union, difference and
// intersection behind this interface. The kernel abstraction allows
// swapping backends without changing the fusion pipeline.
package kernel

import "errors"

// ErrEvaluation is wrapped by every error a kernel returns when it cannot
// resolve a boolean operation.
var ErrEvaluation = errors.New("boolean evaluation failed")

// Kernel is the abstract boolean evaluator interface.
// Operands must be normalized (indexed, with normals and UVs) and already
// expressed in the common world frame. Implementations never mutate their
// inputs and always return a fresh mesh.
type Kernel interface {
	// Name identifies the backend in logs and configuration.
	Name() string

	// Boolean operations
	Union(a, b *Mesh) (*Mesh, error)
	Difference(a, b *Mesh) (*Mesh, error)
	Intersection(a, b *Mesh) (*Mesh, error)
}

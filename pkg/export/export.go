// Package export turns the fused working geometry back into file
// coordinates and serializes it.
package export

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/bake"
	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/stl"
	"github.com/chazu/archfuse/pkg/xform"
)

var (
	// ErrEmptyResult is returned when there is no geometry to export.
	ErrEmptyResult = errors.New("empty result")

	// ErrExportSerialization is returned when the serializer fails or
	// produces no output.
	ErrExportSerialization = errors.New("export serialization failed")
)

// Correct returns a copy of m in file coordinates: world is baked in
// first, then the inverse of the working orientation offset (Euler
// degrees) is applied. No simplification is performed.
func Correct(m *kernel.Mesh, world xform.Mat4, offsetDeg r3.Vec) (*kernel.Mesh, error) {
	if m == nil || m.IsEmpty() {
		return nil, ErrEmptyResult
	}
	baked, err := bake.Bake(m, world)
	if err != nil {
		return nil, fmt.Errorf("export: bake world transform: %w", err)
	}
	undo, err := xform.RotateEuler(offsetDeg).Inverse()
	if err != nil {
		return nil, fmt.Errorf("export: invert orientation offset: %w", err)
	}
	out, err := bake.Bake(baked, undo)
	if err != nil {
		return nil, fmt.Errorf("export: undo orientation offset: %w", err)
	}
	return out, nil
}

// WriteSTL serializes m as a binary STL triangle list. It returns the
// number of bytes written.
func WriteSTL(w io.Writer, m *kernel.Mesh) (int64, error) {
	if m == nil || m.IsEmpty() || m.TriangleCount() == 0 {
		return 0, ErrEmptyResult
	}
	n, err := stl.WriteBinary(w, "archfuse "+m.Name, m)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrExportSerialization, err)
	}
	if n == 0 {
		return 0, ErrExportSerialization
	}
	return n, nil
}

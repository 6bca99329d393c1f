package pipeline

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/cleanup"
	"github.com/chazu/archfuse/pkg/export"
	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/kernel/bsp"
	"github.com/chazu/archfuse/pkg/normalize"
	"github.com/chazu/archfuse/pkg/rig"
	"github.com/chazu/archfuse/pkg/stl"
	"github.com/chazu/archfuse/pkg/xform"
)

// passKernel returns its first operand unchanged, or what result returns.
type passKernel struct {
	err    error
	result func(a *kernel.Mesh) *kernel.Mesh
}

func (k *passKernel) Name() string { return "pass" }

func (k *passKernel) op(a *kernel.Mesh) (*kernel.Mesh, error) {
	if k.err != nil {
		return nil, k.err
	}
	if k.result != nil {
		return k.result(a), nil
	}
	return a.Clone(), nil
}

func (k *passKernel) Union(a, _ *kernel.Mesh) (*kernel.Mesh, error)        { return k.op(a) }
func (k *passKernel) Difference(a, _ *kernel.Mesh) (*kernel.Mesh, error)   { return k.op(a) }
func (k *passKernel) Intersection(a, _ *kernel.Mesh) (*kernel.Mesh, error) { return k.op(a) }

var _ kernel.Kernel = (*passKernel)(nil)

func newTemplate(t *testing.T, solids ...stl.Solid) *rig.Template {
	t.Helper()
	tmpl, err := rig.NewTemplate(solids, nil)
	if err != nil {
		t.Fatalf("NewTemplate() error = %v", err)
	}
	return tmpl
}

func newController(t *testing.T, k kernel.Kernel, tmpl *rig.Template, opts ...Option) *Controller {
	t.Helper()
	c, err := New(k, tmpl, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// rayDepths returns the sorted distinct distances t > 0 at which the ray
// origin + t*dir crosses the surface of m. Crossings that land on a shared
// edge or vertex are reported once.
func rayDepths(m *kernel.Mesh, origin, dir r3.Vec) []float64 {
	var depths []float64
	for t := 0; t < m.TriangleCount(); t++ {
		tri := m.Triangle(t)
		a, b, c := m.Position(tri[0]), m.Position(tri[1]), m.Position(tri[2])
		e1, e2 := r3.Sub(b, a), r3.Sub(c, a)
		p := r3.Cross(dir, e2)
		det := r3.Dot(e1, p)
		if math.Abs(det) < 1e-12 {
			continue
		}
		s := r3.Sub(origin, a)
		u := r3.Dot(s, p) / det
		if u < 0 || u > 1 {
			continue
		}
		q := r3.Cross(s, e1)
		v := r3.Dot(dir, q) / det
		if v < 0 || u+v > 1 {
			continue
		}
		if d := r3.Dot(e2, q) / det; d > 0 {
			depths = append(depths, d)
		}
	}
	slices.Sort(depths)
	return slices.CompactFunc(depths, func(a, b float64) bool {
		return math.Abs(a-b) < 1e-6
	})
}

func assertDepths(t *testing.T, what string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("ray %s crossed the surface at %v, want %v", what, got, want)
		return
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-4 {
			t.Errorf("ray %s crossed the surface at %v, want %v", what, got, want)
			return
		}
	}
}

func assertBounds(t *testing.T, m *kernel.Mesh, min, max r3.Vec) {
	t.Helper()
	box := m.BoundingBox()
	const tol = 1e-4
	if r3.Norm(r3.Sub(box.Min, min)) > tol || r3.Norm(r3.Sub(box.Max, max)) > tol {
		t.Errorf("bounds = [%v, %v], want [%v, %v]", box.Min, box.Max, min, max)
	}
}

func TestNewRequiresKernel(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("New(nil) error = nil, want error")
	}
	c := newController(t, &passKernel{}, nil)
	if c.Rig() == nil || c.Rig().Filler != nil {
		t.Errorf("nil template should become an empty rig, got %+v", c.Rig())
	}
}

func TestImportAppliesOrientationOffset(t *testing.T) {
	c := newController(t, &passKernel{}, nil)

	if err := c.Import(nil); !errors.Is(err, normalize.ErrMissingGeometry) {
		t.Fatalf("Import(nil) error = %v, want ErrMissingGeometry", err)
	}

	scan := kernel.Box(2, 4, 6)
	if err := c.Import(scan); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	model := c.Model()
	if model.Rotation != DefaultOrientationOffset {
		t.Errorf("model rotation = %v, want %v", model.Rotation, DefaultOrientationOffset)
	}
	if model.Mesh == scan {
		t.Error("Import() kept the caller's mesh instead of a copy")
	}
	if c.Session() != Editable || c.State() != Idle || c.ExportEnabled() {
		t.Errorf("after Import: session %v, state %v, export %v", c.Session(), c.State(), c.ExportEnabled())
	}

	// A second import replaces the first model.
	if err := c.Import(kernel.Box(1, 1, 1)); err != nil {
		t.Fatalf("second Import() error = %v", err)
	}
	if c.Model() == model {
		t.Error("second Import() kept the previous model node")
	}
}

func TestEditsWithoutModel(t *testing.T) {
	c := newController(t, &passKernel{}, nil)
	if err := c.Process(); !errors.Is(err, ErrNoModel) {
		t.Errorf("Process() error = %v, want ErrNoModel", err)
	}
	if err := c.MoveModel(r3.Vec{X: 1}); !errors.Is(err, ErrNoModel) {
		t.Errorf("MoveModel() error = %v, want ErrNoModel", err)
	}
	if _, err := c.Export(&bytes.Buffer{}); !errors.Is(err, ErrNotFused) {
		t.Errorf("Export() error = %v, want ErrNotFused", err)
	}
}

func TestSetFillerAdjustmentWithoutFiller(t *testing.T) {
	c := newController(t, &passKernel{}, nil)
	if err := c.Import(kernel.Box(1, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.SetFillerAdjustment(r3.Vec{}, 1, 1); !errors.Is(err, ErrNoFiller) {
		t.Errorf("SetFillerAdjustment() error = %v, want ErrNoFiller", err)
	}
}

// Move and rotate edits must reach the fused geometry even though world
// matrices are only refreshed by Process.
func TestProcessUsesCurrentTransforms(t *testing.T) {
	c := newController(t, &passKernel{}, nil, WithOrientationOffset(r3.Vec{}))
	if err := c.Import(kernel.Box(2, 2, 2)); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveModel(r3.Vec{X: 10}); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveModel(r3.Vec{Y: 5}); err != nil {
		t.Fatal(err)
	}
	if err := c.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	assertBounds(t, c.Model().Mesh, r3.Vec{X: 9, Y: 4, Z: -1}, r3.Vec{X: 11, Y: 6, Z: 1})
}

func TestProcessCommitsAndLocks(t *testing.T) {
	tmpl := newTemplate(t,
		stl.Solid{Name: "filler", Mesh: kernel.Box(1, 1, 1)},
		stl.Solid{Name: "screw_1", Mesh: kernel.Cylinder(10, 0.5, 8)},
	)
	c := newController(t, &passKernel{}, tmpl)
	if err := c.Import(kernel.Box(4, 4, 4)); err != nil {
		t.Fatal(err)
	}
	if err := c.RotateModel(r3.Vec{Z: 45}); err != nil {
		t.Fatal(err)
	}
	if err := c.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if c.State() != Completed || c.Session() != Fused || !c.ExportEnabled() {
		t.Fatalf("after Process: state %v, session %v, export %v", c.State(), c.Session(), c.ExportEnabled())
	}
	model := c.Model()
	if !model.LocalMatrix().IsIdentity(0) || !model.WorldMatrix().IsIdentity(0) {
		t.Error("fused model transform was not reset to identity")
	}
	if err := kernel.Validate(model.Mesh); err != nil {
		t.Errorf("fused mesh is invalid: %v", err)
	}

	if err := c.MoveModel(r3.Vec{X: 1}); !errors.Is(err, ErrLocked) {
		t.Errorf("MoveModel() error = %v, want ErrLocked", err)
	}
	if err := c.RotateModel(r3.Vec{X: 1}); !errors.Is(err, ErrLocked) {
		t.Errorf("RotateModel() error = %v, want ErrLocked", err)
	}
	if err := c.SetFillerAdjustment(r3.Vec{}, 2, 2); !errors.Is(err, ErrLocked) {
		t.Errorf("SetFillerAdjustment() error = %v, want ErrLocked", err)
	}
	if err := c.Process(); !errors.Is(err, ErrAlreadyFused) {
		t.Errorf("second Process() error = %v, want ErrAlreadyFused", err)
	}

	// Re-importing the source scan is the only way back.
	if err := c.Import(kernel.Box(4, 4, 4)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if c.Session() != Editable || c.ExportEnabled() {
		t.Errorf("after re-import: session %v, export %v", c.Session(), c.ExportEnabled())
	}
	if err := c.Process(); err != nil {
		t.Errorf("Process() after re-import error = %v", err)
	}
}

func TestProcessRejectsNestedCalls(t *testing.T) {
	var (
		c      *Controller
		nested []error
	)
	progress := func(label string) {
		if label != "normalizing user model" {
			return
		}
		nested = append(nested,
			c.Process(),
			c.MoveModel(r3.Vec{X: 1}),
			c.Import(kernel.Box(1, 1, 1)),
		)
		if _, err := c.Export(&bytes.Buffer{}); err != nil {
			nested = append(nested, err)
		}
		if c.State() != Running {
			t.Errorf("State() during run = %v, want running", c.State())
		}
	}
	c = newController(t, &passKernel{}, nil, WithProgress(progress))
	if err := c.Import(kernel.Box(1, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(nested) != 4 {
		t.Fatalf("nested calls = %v, want 4 errors", nested)
	}
	for i, err := range nested {
		if !errors.Is(err, ErrBusy) {
			t.Errorf("nested call %d error = %v, want ErrBusy", i, err)
		}
	}
}

func TestProcessFailureRollsBack(t *testing.T) {
	tests := []struct {
		name   string
		kernel kernel.Kernel
		solids []stl.Solid
		want   error
	}{
		{
			name:   "base trim without vertices",
			kernel: bsp.New(),
			solids: []stl.Solid{{Name: "base", Mesh: &kernel.Mesh{}}},
			want:   normalize.ErrMissingGeometry,
		},
		{
			name:   "evaluator failure",
			kernel: &passKernel{err: errors.New("degenerate operand")},
			solids: []stl.Solid{{Name: "filler", Mesh: kernel.Box(1, 1, 1)}},
			want:   kernel.ErrEvaluation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t, tt.kernel, newTemplate(t, tt.solids...))
			if err := c.Import(kernel.Box(10, 10, 10)); err != nil {
				t.Fatal(err)
			}
			if err := c.MoveModel(r3.Vec{Z: 2}); err != nil {
				t.Fatal(err)
			}

			model := c.Model()
			before := model.Mesh
			snapshot := before.Clone()
			position := model.Position

			err := c.Process()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Process() error = %v, want %v", err, tt.want)
			}
			if c.State() != Failed || !errors.Is(c.Err(), tt.want) {
				t.Errorf("state %v, Err() %v", c.State(), c.Err())
			}
			if c.Session() != Editable || c.ExportEnabled() {
				t.Errorf("failed run changed the session: %v, export %v", c.Session(), c.ExportEnabled())
			}
			if model.Mesh != before {
				t.Error("failed run replaced the model geometry")
			}
			if !reflect.DeepEqual(before, snapshot) {
				t.Error("failed run modified the model geometry")
			}
			if model.Position != position {
				t.Errorf("model position = %v, want %v", model.Position, position)
			}
			if _, err := c.Export(&bytes.Buffer{}); !errors.Is(err, ErrNotFused) {
				t.Errorf("Export() error = %v, want ErrNotFused", err)
			}
			// Edits and retries remain possible.
			if err := c.MoveModel(r3.Vec{X: 1}); err != nil {
				t.Errorf("MoveModel() after failure error = %v", err)
			}
		})
	}
}

// The acceptance scenario: a cube, a filler cube resting on its +Z face
// and a screw hole drilled through along Y.
func TestEndToEndFusion(t *testing.T) {
	tmpl := newTemplate(t,
		stl.Solid{Name: "filler", Mesh: kernel.Box(2, 2, 2)},
		stl.Solid{Name: "screw_1", Mesh: kernel.Cylinder(30, 1, 16)},
		stl.Solid{Name: "hook_left", Mesh: kernel.Box(50, 50, 50)},
	)
	screw := tmpl.ScrewHoles[0].Node
	screw.Position = r3.Vec{X: 1.5, Z: -1.5}
	screw.Rotation = r3.Vec{X: 90}

	var labels []string
	c := newController(t, bsp.New(), tmpl,
		WithOrientationOffset(r3.Vec{}),
		WithProgress(func(l string) { labels = append(labels, l) }))

	if err := c.Import(kernel.Box(10, 10, 10)); err != nil {
		t.Fatal(err)
	}
	if err := c.SetFillerAdjustment(r3.Vec{Z: 6}, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	for _, want := range []string{"normalizing user model", "union: filler", "subtract: screw 1/1"} {
		if !slices.Contains(labels, want) {
			t.Errorf("progress labels %q missing %q", labels, want)
		}
	}
	if n := len(labels); n < 2 || labels[n-2] != "cleanup: welding" || labels[n-1] != "cleanup: normals" {
		t.Errorf("progress labels %q should end with the cleanup stages", labels)
	}

	result := c.Model().Mesh
	assertBounds(t, result, r3.Vec{X: -5, Y: -5, Z: -5}, r3.Vec{X: 5, Y: 5, Z: 7})

	// Origins sit off every box edge so no ray grazes a seam of the mesh.
	assertDepths(t, "along the screw axis",
		rayDepths(result, r3.Vec{X: 1.5, Y: -20, Z: -1.5}, r3.Vec{Y: 1}), nil)
	assertDepths(t, "through solid material",
		rayDepths(result, r3.Vec{X: -2.63, Y: -20, Z: -3.17}, r3.Vec{Y: 1}), []float64{15, 25})
	assertDepths(t, "through the filler",
		rayDepths(result, r3.Vec{X: -0.37, Y: 0.21, Z: 20}, r3.Vec{Z: -1}), []float64{13, 25})
	if n := cleanup.Components(result); n != 1 {
		t.Errorf("Components() = %d, want one connected composite", n)
	}
}

func TestRigAuthoredInWorkingFrame(t *testing.T) {
	// Working +Y is the scan's +Z, so a filler authored above the scan in
	// Y ends up above it in Z once exported.
	tmpl := newTemplate(t, stl.Solid{Name: "filler", Mesh: kernel.Box(2, 2, 2)})
	tmpl.Filler.Node.Position = r3.Vec{Y: 3.5}
	c := newController(t, bsp.New(), tmpl)

	if err := c.Import(kernel.Box(2, 4, 6)); err != nil {
		t.Fatal(err)
	}
	if tmpl.Filler.Node.Rotation != (r3.Vec{}) {
		t.Errorf("filler rotation = %v, want none", tmpl.Filler.Node.Rotation)
	}
	if err := c.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	assertBounds(t, c.Model().Mesh, r3.Vec{X: -1, Y: -3, Z: -2}, r3.Vec{X: 1, Y: 4.5, Z: 2})

	var buf bytes.Buffer
	if _, err := c.Export(&buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	back, err := stl.Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	assertBounds(t, back, r3.Vec{X: -1, Y: -2, Z: -3}, r3.Vec{X: 1, Y: 2, Z: 4.5})
}

func TestExportUndoesOrientationOffset(t *testing.T) {
	c := newController(t, &passKernel{}, nil)
	if err := c.Import(kernel.Box(2, 4, 6)); err != nil {
		t.Fatal(err)
	}
	if err := c.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// In the working frame the scan stands on its former Y extent.
	assertBounds(t, c.Model().Mesh, r3.Vec{X: -1, Y: -3, Z: -2}, r3.Vec{X: 1, Y: 3, Z: 2})

	var buf bytes.Buffer
	n, err := c.Export(&buf)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if n != int64(buf.Len()) || n == 0 {
		t.Errorf("Export() = %d bytes, buffer holds %d", n, buf.Len())
	}

	back, err := stl.Read(&buf)
	if err != nil {
		t.Fatalf("stl.Read() error = %v", err)
	}
	assertBounds(t, back, r3.Vec{X: -1, Y: -2, Z: -3}, r3.Vec{X: 1, Y: 2, Z: 3})

	renormalized, err := normalize.Normalize(back, "reimport")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got, want := renormalized.TriangleCount(), c.Model().Mesh.TriangleCount(); got != want {
		t.Errorf("round trip triangles = %d, want %d", got, want)
	}
	if c.State() != Completed || c.Session() != Fused {
		t.Errorf("Export() changed state to %v / %v", c.State(), c.Session())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestExportFailures(t *testing.T) {
	t.Run("empty result", func(t *testing.T) {
		empty := func(*kernel.Mesh) *kernel.Mesh {
			return &kernel.Mesh{Vertices: []float32{}, Normals: []float32{}, UVs: []float32{}, Indices: []uint32{}}
		}
		tmpl := newTemplate(t, stl.Solid{Name: "base", Mesh: kernel.Box(20, 20, 20)})
		c := newController(t, &passKernel{result: empty}, tmpl)
		if err := c.Import(kernel.Box(1, 1, 1)); err != nil {
			t.Fatal(err)
		}
		if err := c.Process(); err != nil {
			t.Fatalf("Process() error = %v", err)
		}

		if _, err := c.Export(&bytes.Buffer{}); !errors.Is(err, export.ErrEmptyResult) {
			t.Errorf("Export() error = %v, want ErrEmptyResult", err)
		}
		path := filepath.Join(t.TempDir(), "out.stl")
		if _, err := c.ExportFile(path); !errors.Is(err, export.ErrEmptyResult) {
			t.Errorf("ExportFile() error = %v, want ErrEmptyResult", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("failed ExportFile() left a file behind: %v", err)
		}
		entries, _ := os.ReadDir(filepath.Dir(path))
		if len(entries) != 0 {
			t.Errorf("failed ExportFile() left temp files: %v", entries)
		}
		if c.State() != Completed || !c.ExportEnabled() {
			t.Errorf("failed export changed state to %v", c.State())
		}
	})

	t.Run("serializer failure", func(t *testing.T) {
		c := newController(t, &passKernel{}, nil)
		if err := c.Import(kernel.Box(1, 1, 1)); err != nil {
			t.Fatal(err)
		}
		if err := c.Process(); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Export(failingWriter{}); !errors.Is(err, export.ErrExportSerialization) {
			t.Errorf("Export() error = %v, want ErrExportSerialization", err)
		}
		if c.Session() != Fused {
			t.Errorf("failed export changed the session to %v", c.Session())
		}
	})
}

func TestExportFile(t *testing.T) {
	c := newController(t, &passKernel{}, nil, WithCleanup(cleanup.Options{WeldTolerance: 1e-3}))
	if err := c.Import(kernel.Box(3, 3, 3)); err != nil {
		t.Fatal(err)
	}
	if err := c.Process(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "fused.stl")
	n, err := c.ExportFile(path)
	if err != nil {
		t.Fatalf("ExportFile() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("exported file missing: %v", err)
	}
	if info.Size() != n || n != 84+50*12 {
		t.Errorf("file size = %d, reported %d, want %d", info.Size(), n, 84+50*12)
	}
}

func TestExportFileMode(t *testing.T) {
	tests := []struct {
		name     string
		existing os.FileMode
		want     os.FileMode
	}{
		{name: "new file", want: 0o644},
		{name: "existing file keeps mode", existing: 0o640, want: 0o640},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t, &passKernel{}, nil)
			if err := c.Import(kernel.Box(3, 3, 3)); err != nil {
				t.Fatal(err)
			}
			if err := c.Process(); err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(t.TempDir(), "fused.stl")
			if tt.existing != 0 {
				if err := os.WriteFile(path, []byte("old"), tt.existing); err != nil {
					t.Fatal(err)
				}
				if err := os.Chmod(path, tt.existing); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := c.ExportFile(path); err != nil {
				t.Fatalf("ExportFile() error = %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if got := info.Mode().Perm(); got != tt.want {
				t.Errorf("mode = %#o, want %#o", got, tt.want)
			}
		})
	}
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Running: "running", Completed: "completed", Failed: "failed"} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
	if Fused.String() != "fused" || Editable.String() != "editable" {
		t.Error("Session strings are wrong")
	}
}

func TestOperandOfUsesCachedWorld(t *testing.T) {
	tmpl := newTemplate(t, stl.Solid{Name: "screw_a", Mesh: kernel.Box(1, 1, 1)})
	node := tmpl.ScrewHoles[0].Node
	node.Position = r3.Vec{X: 3}
	if op := operandOf("screw_a", node); !op.World.IsIdentity(0) {
		t.Fatal("operandOf() should read the cached world matrix")
	}
	node.UpdateWorldMatrix()
	if op := operandOf("screw_a", node); !op.World.ApproxEqual(xform.Translate(r3.Vec{X: 3}), 1e-12) {
		t.Errorf("operandOf() world = %v after refresh", op.World)
	}
}

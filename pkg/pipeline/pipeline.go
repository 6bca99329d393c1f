// Package pipeline owns one editing session: the imported user model, the
// rig template it is fused with, and the run state of the fusion.
//
// A session starts Editable after Import. Process runs normalize, bake,
// fusion and cleanup; on success the composite replaces the user model and
// the session becomes Fused, which locks every edit and enables export.
// On failure nothing is committed.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/cleanup"
	"github.com/chazu/archfuse/pkg/export"
	"github.com/chazu/archfuse/pkg/fusion"
	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/normalize"
	"github.com/chazu/archfuse/pkg/rig"
	"github.com/chazu/archfuse/pkg/scene"
)

var (
	// ErrBusy is returned when a run is in progress.
	ErrBusy = errors.New("pipeline: a run is already in progress")

	// ErrLocked is returned by edits after the session has been fused.
	ErrLocked = errors.New("pipeline: session is fused, edits are locked")

	// ErrAlreadyFused is returned by Process on a fused session.
	ErrAlreadyFused = errors.New("pipeline: session is already fused, import the source scan to start over")

	// ErrNoModel is returned when no user model has been imported.
	ErrNoModel = errors.New("pipeline: no user model imported")

	// ErrNotFused is returned by Export before a successful run.
	ErrNotFused = errors.New("pipeline: export is disabled until the session is fused")

	// ErrNoFiller is returned by SetFillerAdjustment when the rig has no
	// filler part.
	ErrNoFiller = errors.New("pipeline: rig has no filler")
)

// State is the lifecycle of the most recent run.
type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is Editable until a run succeeds, then Fused for good.
type Session int

const (
	Editable Session = iota
	Fused
)

func (s Session) String() string {
	if s == Fused {
		return "fused"
	}
	return "editable"
}

// ProgressFunc receives ordered stage labels during a run.
type ProgressFunc func(label string)

// Controller sequences one session. The mutex guards state transitions
// only; geometry work runs unlocked and a nested or concurrent call sees
// Running and gets ErrBusy.
type Controller struct {
	mu      sync.Mutex
	state   State
	session Session
	lastErr error

	root  *scene.Node
	model *scene.Node
	rig   *rig.Template

	kernel   kernel.Kernel
	cleanup  cleanup.Options
	offset   r3.Vec
	logger   *zap.Logger
	progress ProgressFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Controller) { c.progress = fn }
}

// WithCleanup sets the cleanup options.
func WithCleanup(opts cleanup.Options) Option {
	return func(c *Controller) { c.cleanup = opts }
}

// WithOrientationOffset sets the working orientation offset in Euler
// degrees. Imported scans are rotated by it and exports undo it.
func WithOrientationOffset(deg r3.Vec) Option {
	return func(c *Controller) { c.offset = deg }
}

// DefaultOrientationOffset turns Z-up scans into the Y-up working frame.
var DefaultOrientationOffset = r3.Vec{X: -90}

// New returns a controller fusing against t with evaluator k. A nil
// template means a rig without parts.
func New(k kernel.Kernel, t *rig.Template, opts ...Option) (*Controller, error) {
	if k == nil {
		return nil, errors.New("pipeline: no kernel configured")
	}
	if t == nil {
		var err error
		if t, err = rig.NewTemplate(nil, nil); err != nil {
			return nil, err
		}
	}
	c := &Controller{
		root:    scene.NewNode("scene", nil),
		rig:     t,
		kernel:  k,
		cleanup: cleanup.DefaultOptions(),
		offset:  DefaultOrientationOffset,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.root.Add(t.Root); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the run state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns whether the session is still editable.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Err returns the error of the last failed run, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ExportEnabled reports whether Export may be called.
func (c *Controller) ExportEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == Fused && c.state != Running
}

// Rig returns the rig template.
func (c *Controller) Rig() *rig.Template { return c.rig }

// Model returns the current user model node, or nil before Import.
func (c *Controller) Model() *scene.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Import replaces any previous user model with a copy of m, rotated by the
// orientation offset. Rig parts are not rotated; they are expected in the
// working frame. The session becomes Editable and export is disabled.
func (c *Controller) Import(m *kernel.Mesh) error {
	if m == nil || len(m.Vertices) == 0 {
		return fmt.Errorf("pipeline: import: %w", normalize.ErrMissingGeometry)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		return ErrBusy
	}

	if c.model != nil {
		c.root.Remove(c.model)
	}
	geom := m.Clone()
	geom.Role = kernel.RoleUserModel
	node := scene.NewNode("user model", geom)
	node.Rotation = c.offset
	if err := c.root.Add(node); err != nil {
		return err
	}
	node.UpdateWorldMatrix()

	c.model = node
	c.session = Editable
	c.state = Idle
	c.lastErr = nil
	c.logger.Info("model imported",
		zap.String("name", m.Name),
		zap.Int("triangles", m.TriangleCount()))
	return nil
}

// editable checks that an edit may proceed. Callers hold c.mu.
func (c *Controller) editable() error {
	switch {
	case c.state == Running:
		return ErrBusy
	case c.session == Fused:
		return ErrLocked
	case c.model == nil:
		return ErrNoModel
	}
	return nil
}

// MoveModel translates the user model by delta.
func (c *Controller) MoveModel(delta r3.Vec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	c.model.Position = r3.Add(c.model.Position, delta)
	return nil
}

// RotateModel adds deltaDeg to the user model's Euler rotation.
func (c *Controller) RotateModel(deltaDeg r3.Vec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	c.model.Rotation = r3.Add(c.model.Rotation, deltaDeg)
	return nil
}

// SetFillerAdjustment places the filler at offset from its original pose
// and scales it by scaleX and scaleZ.
func (c *Controller) SetFillerAdjustment(offset r3.Vec, scaleX, scaleZ float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	if c.rig.Filler == nil {
		return ErrNoFiller
	}
	return c.rig.Filler.Adjust(offset, scaleX, scaleZ)
}

func (c *Controller) report(label string) {
	if c.progress != nil {
		c.progress(label)
	}
}

// Process fuses the user model with the rig. It blocks until the run
// completes or fails.
func (c *Controller) Process() error {
	c.mu.Lock()
	switch {
	case c.state == Running:
		c.mu.Unlock()
		return ErrBusy
	case c.session == Fused:
		c.mu.Unlock()
		return ErrAlreadyFused
	case c.model == nil:
		c.mu.Unlock()
		return ErrNoModel
	}
	c.state = Running
	c.lastErr = nil
	c.mu.Unlock()

	result, err := c.run()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Failed
		c.lastErr = err
		c.logger.Error("fusion run failed", zap.Error(err))
		return err
	}
	c.model.Mesh = result
	c.model.ResetTransform()
	c.model.UpdateWorldMatrix()
	c.session = Fused
	c.state = Completed
	c.logger.Info("fusion run completed",
		zap.Int("triangles", result.TriangleCount()),
		zap.Int("vertices", result.VertexCount()))
	return nil
}

// run builds the operand list from freshly refreshed world matrices and
// returns the cleaned composite. It touches no controller state.
func (c *Controller) run() (*kernel.Mesh, error) {
	c.root.UpdateWorldMatrix()

	req := fusion.Request{
		User: operandOf("user model", c.model),
	}
	if p := c.rig.Filler; p != nil {
		op := operandOf(p.Name, p.Node)
		req.Filler = &op
	}
	if p := c.rig.BaseTrim; p != nil {
		op := operandOf(p.Name, p.Node)
		req.BaseTrim = &op
	}
	for _, p := range c.rig.ScrewHoles {
		req.ScrewHoles = append(req.ScrewHoles, operandOf(p.Name, p.Node))
	}

	fuser := fusion.New(c.kernel,
		fusion.WithLogger(c.logger),
		fusion.WithProgress(fusion.ProgressFunc(c.report)))
	composite, err := fuser.Fuse(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	c.report("cleanup: welding")
	welded := cleanup.Weld(composite, c.cleanup.WeldTolerance)
	c.report("cleanup: normals")
	out := cleanup.RecomputeNormals(welded)
	out.Name = c.model.Mesh.Name
	out.Role = kernel.RoleUserModel

	c.logger.Debug("cleanup done",
		zap.Int("vertices_before", composite.VertexCount()),
		zap.Int("vertices_after", out.VertexCount()))
	return out, nil
}

func operandOf(label string, n *scene.Node) fusion.Operand {
	return fusion.Operand{Label: label, Mesh: n.Mesh, World: n.WorldMatrix()}
}

// Export writes the fused model as binary STL in file coordinates. The
// session is unchanged whether or not it succeeds.
func (c *Controller) Export(w io.Writer) (int64, error) {
	c.mu.Lock()
	if c.state == Running {
		c.mu.Unlock()
		return 0, ErrBusy
	}
	if c.session != Fused {
		c.mu.Unlock()
		return 0, ErrNotFused
	}
	m, world := c.model.Mesh, c.model.WorldMatrix()
	c.mu.Unlock()

	corrected, err := export.Correct(m, world, c.offset)
	if err != nil {
		return 0, fmt.Errorf("pipeline: export: %w", err)
	}
	n, err := export.WriteSTL(w, corrected)
	if err != nil {
		return n, fmt.Errorf("pipeline: export: %w", err)
	}
	c.logger.Info("model exported", zap.Int64("bytes", n))
	return n, nil
}

// exportFileMode is the permission of a newly exported file.
const exportFileMode os.FileMode = 0o644

// ExportFile writes the export to path. The file only appears once the
// whole export succeeded. A new file gets mode 0644; an existing file
// keeps its mode.
func (c *Controller) ExportFile(path string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("pipeline: export: %w", err)
	}
	defer os.Remove(tmp.Name())

	mode := exportFileMode
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	n, err := c.Export(tmp)
	if err == nil {
		if cerr := tmp.Chmod(mode); cerr != nil {
			err = fmt.Errorf("pipeline: export: %w", cerr)
		}
	}
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("pipeline: export: %w: %v", export.ErrExportSerialization, cerr)
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("pipeline: export: %w", err)
	}
	return n, nil
}

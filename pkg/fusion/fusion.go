// Package fusion composes the user model with the rig parts through an
// ordered chain of boolean operations: union with the filler, then
// subtraction of the base trim and of every screw hole in order.
package fusion

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chazu/archfuse/pkg/bake"
	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/normalize"
	"github.com/chazu/archfuse/pkg/xform"
)

// Operand is one participant of a fusion: geometry in its local frame plus
// the world matrix that places it. A zero World is treated as identity.
type Operand struct {
	Label string
	Mesh  *kernel.Mesh
	World xform.Mat4
}

// Request lists the operands of one fusion. Filler and BaseTrim are
// optional; screw holes are subtracted in slice order.
type Request struct {
	User       Operand
	Filler     *Operand
	BaseTrim   *Operand
	ScrewHoles []Operand
}

// ProgressFunc receives a human-readable label before each step.
type ProgressFunc func(label string)

// Fuser runs fusion requests against one boolean evaluator.
type Fuser struct {
	kernel   kernel.Kernel
	logger   *zap.Logger
	progress ProgressFunc
}

// Option configures a Fuser.
type Option func(*Fuser)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fuser) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(f *Fuser) { f.progress = fn }
}

// New returns a Fuser using k.
func New(k kernel.Kernel, opts ...Option) *Fuser {
	f := &Fuser{kernel: k, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fuser) report(label string) {
	f.logger.Debug("fusion step", zap.String("step", label))
	if f.progress != nil {
		f.progress(label)
	}
}

// Fuse runs the boolean chain and returns the composite mesh. Any failure
// aborts the whole chain; no partial composite is returned. Operands are
// never modified.
func (f *Fuser) Fuse(req Request) (*kernel.Mesh, error) {
	if f.kernel == nil {
		return nil, errors.New("fusion: no kernel configured")
	}

	composite, err := f.prepare(req.User, "user model", kernel.RoleUserModel)
	if err != nil {
		return nil, err
	}

	if req.Filler != nil {
		filler, err := f.prepare(*req.Filler, "filler", kernel.RoleFiller)
		if err != nil {
			return nil, err
		}
		if composite, err = f.apply("union: filler", f.kernel.Union, composite, filler); err != nil {
			return nil, err
		}
	}

	if req.BaseTrim != nil {
		trim, err := f.prepare(*req.BaseTrim, "base-trim", kernel.RoleBaseTrim)
		if err != nil {
			return nil, err
		}
		if composite, err = f.apply("subtract: base-trim", f.kernel.Difference, composite, trim); err != nil {
			return nil, err
		}
	}

	total := len(req.ScrewHoles)
	usable := lo.CountBy(req.ScrewHoles, func(op Operand) bool {
		return op.Mesh != nil && !op.Mesh.IsEmpty()
	})
	if usable < total {
		f.logger.Warn("screw holes without geometry will be skipped",
			zap.Int("total", total), zap.Int("usable", usable))
	}

	for i, hole := range req.ScrewHoles {
		step := fmt.Sprintf("screw %d/%d", i+1, total)
		if hole.Mesh == nil || hole.Mesh.IsEmpty() {
			f.logger.Warn("skipping screw hole without geometry",
				zap.String("label", hole.Label), zap.Int("index", i+1))
			f.report("skip: " + step + " (no geometry)")
			continue
		}
		cutter, err := f.prepare(hole, step, kernel.RoleScrewHole)
		if err != nil {
			return nil, err
		}
		if composite, err = f.apply("subtract: "+step, f.kernel.Difference, composite, cutter); err != nil {
			return nil, err
		}
	}

	composite.Role = kernel.RoleUserModel
	f.logger.Info("fusion complete",
		zap.String("kernel", f.kernel.Name()),
		zap.Int("triangles", composite.TriangleCount()),
		zap.Int("vertices", composite.VertexCount()))
	return composite, nil
}

// prepare normalizes and bakes one operand into the working frame.
func (f *Fuser) prepare(op Operand, fallback string, role kernel.Role) (*kernel.Mesh, error) {
	label := op.Label
	if label == "" {
		label = fallback
	}
	f.report("normalizing " + label)

	m, err := normalize.Normalize(op.Mesh, label)
	if err != nil {
		return nil, fmt.Errorf("fusion: %w", err)
	}
	world := op.World
	if world == (xform.Mat4{}) {
		world = xform.Identity()
	}
	m, err = bake.Bake(m, world)
	if err != nil {
		return nil, fmt.Errorf("fusion: %s: %w", label, err)
	}
	m.Role = role
	if m.Name == "" {
		m.Name = label
	}
	if err := kernel.Validate(m); err != nil {
		return nil, fmt.Errorf("fusion: %s: %w", label, err)
	}
	return m, nil
}

type booleanOp func(a, b *kernel.Mesh) (*kernel.Mesh, error)

// apply runs one boolean step. Evaluator panics and errors are reported
// as kernel.ErrEvaluation naming the step.
func (f *Fuser) apply(step string, op booleanOp, a, b *kernel.Mesh) (out *kernel.Mesh, err error) {
	f.report(step)

	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("boolean evaluator panicked", zap.String("step", step), zap.Any("panic", r))
			out = nil
			err = fmt.Errorf("fusion: %s: panic: %v: %w", step, r, kernel.ErrEvaluation)
		}
	}()

	out, err = op(a, b)
	switch {
	case err != nil && errors.Is(err, kernel.ErrEvaluation):
		return nil, fmt.Errorf("fusion: %s: %w", step, err)
	case err != nil:
		return nil, fmt.Errorf("fusion: %s: %w: %w", step, kernel.ErrEvaluation, err)
	case out == nil:
		return nil, fmt.Errorf("fusion: %s: evaluator returned no mesh: %w", step, kernel.ErrEvaluation)
	}
	return out, nil
}

package main

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/internal/config"
	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/kernel/bsp"
	"github.com/chazu/archfuse/pkg/kernel/manifold"
	sdfxkernel "github.com/chazu/archfuse/pkg/kernel/sdfx"
	"github.com/chazu/archfuse/pkg/rig"
)

// newKernel returns the boolean backend named by the config.
func newKernel(c *config.Config) (kernel.Kernel, error) {
	switch c.Kernel.Backend {
	case "", "bsp":
		return bsp.New(), nil
	case "sdfx":
		return sdfxkernel.New(c.Kernel.SdfxCells), nil
	case "manifold":
		return manifold.New()
	}
	return nil, fmt.Errorf("unknown kernel backend %q", c.Kernel.Backend)
}

// newClassifier returns the script classifier when one is configured and
// the prefix rules otherwise.
func newClassifier(c *config.Config) (rig.Classifier, error) {
	if c.Rig.ClassifierScript != "" {
		return rig.LoadScriptClassifier(c.Rig.ClassifierScript, c.Rig.ScriptTimeout)
	}
	pc := rig.DefaultPrefixClassifier()
	if len(c.Rig.FillerPrefixes) > 0 {
		pc.Filler = c.Rig.FillerPrefixes
	}
	if len(c.Rig.BaseTrimPrefixes) > 0 {
		pc.BaseTrim = c.Rig.BaseTrimPrefixes
	}
	if len(c.Rig.ScrewHolePrefixes) > 0 {
		pc.ScrewHole = c.Rig.ScrewHolePrefixes
	}
	if len(c.Rig.VisualAidPrefixes) > 0 {
		pc.VisualAid = c.Rig.VisualAidPrefixes
	}
	return pc, nil
}

func vec(v [3]float64) r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// vecFlag converts a three-value flag. An unset flag yields the zero vector.
func vecFlag(name string, vals []float64) (r3.Vec, error) {
	switch len(vals) {
	case 0:
		return r3.Vec{}, nil
	case 3:
		return r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]}, nil
	}
	return r3.Vec{}, fmt.Errorf("--%s wants x,y,z, got %d values", name, len(vals))
}

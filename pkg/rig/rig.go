// Package rig loads mounting-rig templates: a set of named sub-meshes
// classified into the filler, the base trim, screw holes and visual aids.
//
// Rig geometry is authored in the working frame, which is Y-up. The
// pipeline rotates only the imported scan by its orientation offset, so a
// rig is never rotated on load, and the inverse offset applied at export
// carries rig and scan back to the scan's original frame together.
package rig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/scene"
	"github.com/chazu/archfuse/pkg/stl"
)

// Part is one classified sub-mesh of a rig, placed by its scene node.
type Part struct {
	Name string
	Role kernel.Role
	Node *scene.Node

	origPosition r3.Vec
	origScale    r3.Vec
}

func newPart(name string, role kernel.Role, m *kernel.Mesh) *Part {
	n := scene.NewNode(name, m)
	return &Part{
		Name:         name,
		Role:         role,
		Node:         n,
		origPosition: n.Position,
		origScale:    n.Scale,
	}
}

// Mesh returns the part geometry in its local frame.
func (p *Part) Mesh() *kernel.Mesh { return p.Node.Mesh }

// Adjust moves the part by offset from its original position and scales
// its original X and Z scale by sx and sz. Repeated calls do not
// accumulate.
func (p *Part) Adjust(offset r3.Vec, sx, sz float64) error {
	if sx <= 0 || sz <= 0 {
		return fmt.Errorf("rig: %s: scale factors must be positive, got %g, %g", p.Name, sx, sz)
	}
	p.Node.Position = r3.Add(p.origPosition, offset)
	p.Node.Scale = r3.Vec{X: p.origScale.X * sx, Y: p.origScale.Y, Z: p.origScale.Z * sz}
	return nil
}

// Template is a loaded rig. Filler and BaseTrim may be nil.
type Template struct {
	Root       *scene.Node
	Filler     *Part
	BaseTrim   *Part
	ScrewHoles []*Part
	Aids       []*Part
	Ignored    []*Part

	parts []*Part
}

// Parts returns every part in load order.
func (t *Template) Parts() []*Part {
	return append([]*Part(nil), t.parts...)
}

// Part returns the part called name, or nil.
func (t *Template) Part(name string) *Part {
	p, _ := lo.Find(t.parts, func(p *Part) bool { return p.Name == name })
	return p
}

// NewTemplate classifies solids and assembles a template under a fresh
// root node. More than one filler or base trim is an error; zero of either
// is allowed. Parts hold copies of the solid meshes.
func NewTemplate(solids []stl.Solid, c Classifier) (*Template, error) {
	if c == nil {
		c = DefaultPrefixClassifier()
	}
	t := &Template{Root: scene.NewNode("rig", nil)}

	var fillers, trims []string
	for i, s := range solids {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("part_%d", i+1)
		}
		role, err := c.Classify(name)
		if err != nil {
			return nil, fmt.Errorf("rig: classify %q: %w", name, err)
		}
		if err := rigRole(name, role); err != nil {
			return nil, err
		}

		var m *kernel.Mesh
		if s.Mesh != nil {
			m = s.Mesh.Clone()
			m.Name = name
			m.Role = role
		}
		p := newPart(name, role, m)
		if err := t.Root.Add(p.Node); err != nil {
			return nil, err
		}
		t.parts = append(t.parts, p)

		switch role {
		case kernel.RoleFiller:
			t.Filler = p
			fillers = append(fillers, name)
		case kernel.RoleBaseTrim:
			t.BaseTrim = p
			trims = append(trims, name)
		case kernel.RoleScrewHole:
			t.ScrewHoles = append(t.ScrewHoles, p)
		case kernel.RoleVisualAid:
			t.Aids = append(t.Aids, p)
		default:
			t.Ignored = append(t.Ignored, p)
		}
	}

	if len(fillers) > 1 {
		return nil, fmt.Errorf("rig: %d fillers (%s), want at most one", len(fillers), strings.Join(fillers, ", "))
	}
	if len(trims) > 1 {
		return nil, fmt.Errorf("rig: %d base trims (%s), want at most one", len(trims), strings.Join(trims, ", "))
	}
	return t, nil
}

// Load reads a multi-solid STL stream into a template.
func Load(r io.Reader, c Classifier) (*Template, error) {
	solids, err := stl.ReadSolids(r)
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	return NewTemplate(solids, c)
}

// LoadDir builds a template from every .stl file in dir, one part per file
// named after the file. Files are taken in name order.
func LoadDir(dir string, c Classifier) (*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".stl")
	})
	sort.Strings(names)

	solids := make([]stl.Solid, 0, len(names))
	for _, name := range names {
		m, err := stl.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("rig: %w", err)
		}
		solids = append(solids, stl.Solid{Name: m.Name, Mesh: m})
	}
	return NewTemplate(solids, c)
}

// LoadPath loads a template from a multi-solid STL file or a directory of
// part files.
func LoadPath(path string, c Classifier) (*Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path, c)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rig: %w", err)
	}
	defer f.Close()
	return Load(f, c)
}

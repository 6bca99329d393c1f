package rig

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/chazu/archfuse/pkg/kernel"
)

// Classifier assigns a role to a rig sub-mesh by name.
type Classifier interface {
	Classify(name string) (kernel.Role, error)
}

// PrefixClassifier matches case-insensitive name prefixes. Screw holes are
// checked first, then filler, base trim and visual aids; anything else is
// ignored.
type PrefixClassifier struct {
	Filler    []string `yaml:"filler_prefixes"`
	BaseTrim  []string `yaml:"base_trim_prefixes"`
	ScrewHole []string `yaml:"screw_hole_prefixes"`
	VisualAid []string `yaml:"visual_aid_prefixes"`
}

// DefaultPrefixClassifier returns the naming convention of the stock rig
// templates.
func DefaultPrefixClassifier() PrefixClassifier {
	return PrefixClassifier{
		Filler:    []string{"filler"},
		BaseTrim:  []string{"base", "trim"},
		ScrewHole: []string{"screw"},
		VisualAid: []string{"hook", "guide"},
	}
}

// Classify implements Classifier.
func (c PrefixClassifier) Classify(name string) (kernel.Role, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	matches := func(prefixes []string) bool {
		return lo.ContainsBy(prefixes, func(p string) bool {
			return p != "" && strings.HasPrefix(lower, strings.ToLower(p))
		})
	}

	switch {
	case matches(c.ScrewHole):
		return kernel.RoleScrewHole, nil
	case matches(c.Filler):
		return kernel.RoleFiller, nil
	case matches(c.BaseTrim):
		return kernel.RoleBaseTrim, nil
	case matches(c.VisualAid):
		return kernel.RoleVisualAid, nil
	}
	return kernel.RoleIgnored, nil
}

// rigRole checks that role is one a template part may carry.
func rigRole(name string, role kernel.Role) error {
	switch role {
	case kernel.RoleFiller, kernel.RoleBaseTrim, kernel.RoleScrewHole, kernel.RoleVisualAid, kernel.RoleIgnored:
		return nil
	}
	return fmt.Errorf("rig: part %q classified as %q, which is not a rig role", name, role)
}

package main

import (
	"fmt"
	"io"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/rig"
)

var rigCmd = &cobra.Command{
	Use:   "rig [file or directory]",
	Short: "List the parts of a rig template and their roles",
	Args:  cobra.ExactArgs(1),
	RunE:  runRig,
}

func init() {
	rootCmd.AddCommand(rigCmd)
}

func runRig(cmd *cobra.Command, args []string) error {
	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	tmpl, err := rig.LoadPath(args[0], classifier)
	if err != nil {
		return err
	}
	printRig(cmd.OutOrStdout(), args[0], tmpl)
	return nil
}

func printRig(w io.Writer, path string, t *rig.Template) {
	parts := t.Parts()
	fmt.Fprintf(w, "Rig: %s (%d parts)\n\n", path, len(parts))
	for _, p := range parts {
		tris := 0
		if m := p.Mesh(); m != nil {
			tris = m.TriangleCount()
		}
		fmt.Fprintf(w, "  %-24s %-12s %6d triangles\n", p.Name, p.Role, tris)
	}

	byRole := lo.CountValuesBy(parts, func(p *rig.Part) kernel.Role { return p.Role })
	fmt.Fprintf(w, "\nFiller: %d  Base trim: %d  Screw holes: %d  Visual aids: %d  Ignored: %d\n",
		byRole[kernel.RoleFiller], byRole[kernel.RoleBaseTrim], byRole[kernel.RoleScrewHole],
		byRole[kernel.RoleVisualAid], byRole[kernel.RoleIgnored])
	if t.Filler == nil {
		fmt.Fprintln(w, "warning: no filler, the union step will be skipped")
	}
	if t.BaseTrim == nil {
		fmt.Fprintln(w, "warning: no base trim, the base will not be cut")
	}
}

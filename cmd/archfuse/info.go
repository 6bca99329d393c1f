package main

import (
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chazu/archfuse/pkg/cleanup"
	"github.com/chazu/archfuse/pkg/kernel"
	"github.com/chazu/archfuse/pkg/normalize"
	"github.com/chazu/archfuse/pkg/stl"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Display general information about an STL file",
	Long:  "Show triangle and vertex counts, bounds, surface area, enclosed volume and the number of connected shells after welding.",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

// meshStats summarizes a mesh for display.
type meshStats struct {
	Triangles   int
	Vertices    int
	Welded      int
	Bounds      r3.Box
	SurfaceArea float64
	Volume      float64
	Shells      int
}

func analyze(m *kernel.Mesh, weldTol float64) (meshStats, error) {
	norm, err := normalize.Normalize(m, m.Name)
	if err != nil {
		return meshStats{}, err
	}
	welded := cleanup.Weld(norm, weldTol)

	s := meshStats{
		Triangles: norm.TriangleCount(),
		Vertices:  norm.VertexCount(),
		Welded:    welded.VertexCount(),
		Bounds:    norm.BoundingBox(),
		Shells:    cleanup.Components(welded),
	}
	for t := 0; t < norm.TriangleCount(); t++ {
		tri := norm.Triangle(t)
		a, b, c := norm.Position(tri[0]), norm.Position(tri[1]), norm.Position(tri[2])
		s.SurfaceArea += r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a))) / 2
		s.Volume += r3.Dot(a, r3.Cross(b, c)) / 6
	}
	s.Volume = math.Abs(s.Volume)
	return s, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	m, err := stl.ReadFile(args[0])
	if err != nil {
		return err
	}
	s, err := analyze(m, cfg.Cleanup.WeldTolerance)
	if err != nil {
		return err
	}
	printStats(cmd.OutOrStdout(), args[0], m.Name, s)
	return nil
}

func printStats(w io.Writer, file, name string, s meshStats) {
	size := r3.Sub(s.Bounds.Max, s.Bounds.Min)

	fmt.Fprintln(w, "STL File Information")
	fmt.Fprintln(w, "====================")
	if name != "" {
		fmt.Fprintf(w, "Name: %s\n", name)
	}
	fmt.Fprintf(w, "File: %s\n\n", file)

	fmt.Fprintln(w, "Mesh:")
	fmt.Fprintf(w, "  Triangles: %d\n", s.Triangles)
	fmt.Fprintf(w, "  Vertices: %d (%d after welding)\n", s.Vertices, s.Welded)
	fmt.Fprintf(w, "  Shells: %d\n", s.Shells)
	fmt.Fprintf(w, "  Surface Area: %.6f square units\n", s.SurfaceArea)
	fmt.Fprintf(w, "  Volume: %.6f cubic units\n\n", s.Volume)

	fmt.Fprintln(w, "Bounding Box:")
	fmt.Fprintf(w, "  Min: %s\n", formatVec(s.Bounds.Min))
	fmt.Fprintf(w, "  Max: %s\n", formatVec(s.Bounds.Max))
	fmt.Fprintf(w, "  Size: %s\n", formatVec(size))
}

func formatVec(v r3.Vec) string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", v.X, v.Y, v.Z)
}

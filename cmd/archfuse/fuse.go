package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chazu/archfuse/internal/logger"
	"github.com/chazu/archfuse/pkg/cleanup"
	"github.com/chazu/archfuse/pkg/pipeline"
	"github.com/chazu/archfuse/pkg/rig"
	"github.com/chazu/archfuse/pkg/stl"
)

var fuseOpts struct {
	scan         string
	rig          string
	output       string
	move         []float64
	rotate       []float64
	fillerOffset []float64
	fillerScale  []float64
}

var fuseCmd = &cobra.Command{
	Use:   "fuse --scan scan.stl --rig rig.stl -o out.stl",
	Short: "Fuse a scan with a rig template and export the result",
	Long: `Import the scan, apply the requested placement, fuse it with the rig
(filler union, then base trim and screw hole subtraction), clean up the
composite and write it as binary STL.`,
	Args: cobra.NoArgs,
	RunE: runFuse,
}

func init() {
	f := fuseCmd.Flags()
	f.StringVar(&fuseOpts.scan, "scan", "", "scanned model (STL)")
	f.StringVar(&fuseOpts.rig, "rig", "", "rig template: multi-solid STL or a directory of STL parts")
	f.StringVarP(&fuseOpts.output, "output", "o", "", "output STL file")
	f.Float64SliceVar(&fuseOpts.move, "move", nil, "translate the scan by x,y,z")
	f.Float64SliceVar(&fuseOpts.rotate, "rotate", nil, "rotate the scan by x,y,z degrees")
	f.Float64SliceVar(&fuseOpts.fillerOffset, "filler-offset", nil, "move the filler by x,y,z from its original pose")
	f.Float64SliceVar(&fuseOpts.fillerScale, "filler-scale", nil, "scale the filler by sx,sz")
	_ = fuseCmd.MarkFlagRequired("scan")
	_ = fuseCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(fuseCmd)
}

func runFuse(cmd *cobra.Command, args []string) error {
	move, err := vecFlag("move", fuseOpts.move)
	if err != nil {
		return err
	}
	rotate, err := vecFlag("rotate", fuseOpts.rotate)
	if err != nil {
		return err
	}
	fillerOffset, err := vecFlag("filler-offset", fuseOpts.fillerOffset)
	if err != nil {
		return err
	}
	sx, sz := 1.0, 1.0
	switch len(fuseOpts.fillerScale) {
	case 0:
	case 2:
		sx, sz = fuseOpts.fillerScale[0], fuseOpts.fillerScale[1]
	default:
		return fmt.Errorf("--filler-scale wants sx,sz, got %d values", len(fuseOpts.fillerScale))
	}

	k, err := newKernel(cfg)
	if err != nil {
		return err
	}
	var tmpl *rig.Template
	if fuseOpts.rig != "" {
		classifier, err := newClassifier(cfg)
		if err != nil {
			return err
		}
		if tmpl, err = rig.LoadPath(fuseOpts.rig, classifier); err != nil {
			return err
		}
	}

	scan, err := stl.ReadFile(fuseOpts.scan)
	if err != nil {
		return err
	}

	log := logger.Named("pipeline")
	ctrl, err := pipeline.New(k, tmpl,
		pipeline.WithLogger(log),
		pipeline.WithCleanup(cleanup.Options{WeldTolerance: cfg.Cleanup.WeldTolerance}),
		pipeline.WithOrientationOffset(vec(cfg.Scene.OrientationOffsetDeg)),
		pipeline.WithProgress(func(label string) {
			log.Info("progress", zap.String("step", label))
		}),
	)
	if err != nil {
		return err
	}

	if err := ctrl.Import(scan); err != nil {
		return err
	}
	if err := ctrl.MoveModel(move); err != nil {
		return err
	}
	if err := ctrl.RotateModel(rotate); err != nil {
		return err
	}
	if len(fuseOpts.fillerOffset) > 0 || len(fuseOpts.fillerScale) > 0 {
		if err := ctrl.SetFillerAdjustment(fillerOffset, sx, sz); err != nil {
			return err
		}
	}

	log.Info("fusing",
		zap.String("scan", fuseOpts.scan),
		zap.String("rig", fuseOpts.rig),
		zap.String("kernel", k.Name()))
	if err := ctrl.Process(); err != nil {
		return err
	}
	n, err := ctrl.ExportFile(fuseOpts.output)
	if err != nil {
		return err
	}

	result := ctrl.Model().Mesh
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s: %d triangles, %d bytes\n",
		fuseOpts.output, result.TriangleCount(), n)
	return nil
}

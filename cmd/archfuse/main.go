// Command archfuse fuses a dental scan with a mounting rig and writes the
// printable composite as STL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/archfuse/internal/config"
	"github.com/chazu/archfuse/internal/logger"
)

var (
	configPath string
	overrides  config.Overrides
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "archfuse",
	Short: "Fuse dental scans with mounting rigs",
	Long: `archfuse imports a scanned model, places it against a mounting rig
template and fuses the two into one printable solid: the rig's filler is
added, its base trim and screw holes are cut away, and the result is
welded and exported as binary STL.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(configPath, overrides); err != nil {
			return err
		}
		return logger.Init(cfg.Logging.Level, cfg.Logging.LogFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "path to config file")
	f.BoolVar(&overrides.Debug, "debug", false, "enable debug logging")
	f.StringVar(&overrides.LogFile, "log-file", "", "also log to this file")
	f.StringVar(&overrides.Backend, "kernel", "", "boolean backend: bsp, sdfx or manifold")
	f.IntVar(&overrides.SdfxCells, "sdfx-cells", 0, "marching cubes resolution for the sdfx backend")
	f.Float64Var(&overrides.WeldTolerance, "weld-tolerance", 0, "vertex weld distance")
}

// loadConfig applies defaults < file < flags and validates the result.
func loadConfig(path string, o config.Overrides) (*config.Config, error) {
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	o.Apply(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

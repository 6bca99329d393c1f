// Package config handles archfuse configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chazu/archfuse/internal/logger"
)

// Config holds every archfuse setting.
type Config struct {
	Kernel  KernelConfig  `yaml:"kernel"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Scene   SceneConfig   `yaml:"scene"`
	Rig     RigConfig     `yaml:"rig"`
	Logging LoggingConfig `yaml:"logging"`
}

// KernelConfig selects the boolean evaluator.
type KernelConfig struct {
	Backend   string `yaml:"backend"`    // bsp, sdfx or manifold
	SdfxCells int    `yaml:"sdfx_cells"` // marching cubes resolution
}

// CleanupConfig holds post-fusion cleanup settings.
type CleanupConfig struct {
	WeldTolerance float64 `yaml:"weld_tolerance"`
}

// SceneConfig holds working-frame settings.
type SceneConfig struct {
	OrientationOffsetDeg [3]float64 `yaml:"orientation_offset_deg"`
}

// RigConfig controls how rig sub-meshes are classified.
type RigConfig struct {
	FillerPrefixes    []string      `yaml:"filler_prefixes"`
	BaseTrimPrefixes  []string      `yaml:"base_trim_prefixes"`
	ScrewHolePrefixes []string      `yaml:"screw_hole_prefixes"`
	VisualAidPrefixes []string      `yaml:"visual_aid_prefixes"`
	ClassifierScript  string        `yaml:"classifier_script"`
	ScriptTimeout     time.Duration `yaml:"script_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Backends lists the accepted kernel.backend values.
var Backends = []string{"bsp", "sdfx", "manifold"}

// Default returns a Config with the default settings.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			Backend:   "bsp",
			SdfxCells: 120,
		},
		Cleanup: CleanupConfig{
			WeldTolerance: 1e-4,
		},
		Scene: SceneConfig{
			OrientationOffsetDeg: [3]float64{-90, 0, 0},
		},
		Rig: RigConfig{
			FillerPrefixes:    []string{"filler"},
			BaseTrimPrefixes:  []string{"base", "trim"},
			ScrewHolePrefixes: []string{"screw"},
			VisualAidPrefixes: []string{"hook", "guide"},
			ScriptTimeout:     2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	backendOK := false
	for _, b := range Backends {
		if c.Kernel.Backend == b {
			backendOK = true
		}
	}
	if !backendOK {
		errs = append(errs, fmt.Errorf("kernel.backend %q: want one of %s", c.Kernel.Backend, strings.Join(Backends, ", ")))
	}
	if c.Kernel.Backend == "sdfx" && c.Kernel.SdfxCells < 8 {
		errs = append(errs, fmt.Errorf("kernel.sdfx_cells %d: want at least 8", c.Kernel.SdfxCells))
	}
	if c.Cleanup.WeldTolerance <= 0 {
		errs = append(errs, fmt.Errorf("cleanup.weld_tolerance %g: must be positive", c.Cleanup.WeldTolerance))
	}
	if c.Rig.ScriptTimeout < 0 {
		errs = append(errs, fmt.Errorf("rig.script_timeout %v: must not be negative", c.Rig.ScriptTimeout))
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

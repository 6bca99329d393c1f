package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Kernel.Backend != "bsp" {
		t.Errorf("expected backend bsp, got %s", cfg.Kernel.Backend)
	}
	if cfg.Kernel.SdfxCells != 120 {
		t.Errorf("expected sdfx cells 120, got %d", cfg.Kernel.SdfxCells)
	}
	if cfg.Cleanup.WeldTolerance != 1e-4 {
		t.Errorf("expected weld tolerance 1e-4, got %g", cfg.Cleanup.WeldTolerance)
	}
	if cfg.Scene.OrientationOffsetDeg != [3]float64{-90, 0, 0} {
		t.Errorf("expected orientation offset [-90 0 0], got %v", cfg.Scene.OrientationOffsetDeg)
	}
	if cfg.Rig.ScriptTimeout != 2*time.Second {
		t.Errorf("expected script timeout 2s, got %v", cfg.Rig.ScriptTimeout)
	}
	if len(cfg.Rig.BaseTrimPrefixes) != 2 {
		t.Errorf("expected 2 base trim prefixes, got %v", cfg.Rig.BaseTrimPrefixes)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archfuse.yaml")
	yamlContent := `
kernel:
  backend: sdfx
  sdfx_cells: 64
cleanup:
  weld_tolerance: 0.001
scene:
  orientation_offset_deg: [0, 0, 90]
rig:
  screw_hole_prefixes: [screw, drill]
  script_timeout: 500ms
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Kernel.Backend != "sdfx" || cfg.Kernel.SdfxCells != 64 {
		t.Errorf("kernel = %+v, want sdfx/64", cfg.Kernel)
	}
	if cfg.Cleanup.WeldTolerance != 0.001 {
		t.Errorf("weld tolerance = %g, want 0.001", cfg.Cleanup.WeldTolerance)
	}
	if cfg.Scene.OrientationOffsetDeg != [3]float64{0, 0, 90} {
		t.Errorf("orientation offset = %v", cfg.Scene.OrientationOffsetDeg)
	}
	if strings.Join(cfg.Rig.ScrewHolePrefixes, ",") != "screw,drill" {
		t.Errorf("screw prefixes = %v", cfg.Rig.ScrewHolePrefixes)
	}
	if cfg.Rig.ScriptTimeout != 500*time.Millisecond {
		t.Errorf("script timeout = %v, want 500ms", cfg.Rig.ScriptTimeout)
	}
	// Keys absent from the file keep their defaults.
	if strings.Join(cfg.Rig.FillerPrefixes, ",") != "filler" {
		t.Errorf("filler prefixes = %v, want default", cfg.Rig.FillerPrefixes)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil, want error")
	}

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("kernel:\n  engine: bsp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(unknown); err == nil {
		t.Error("Load(unknown key) error = nil, want error")
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(empty)
	if err != nil {
		t.Fatalf("Load(empty) error = %v", err)
	}
	if cfg.Kernel.Backend != "bsp" {
		t.Errorf("empty file should keep defaults, got backend %q", cfg.Kernel.Backend)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "archfuse.yaml")

	cfg := Default()
	cfg.Kernel.Backend = "manifold"
	cfg.Rig.ClassifierScript = "classify.zy"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Kernel.Backend != "manifold" || loaded.Rig.ClassifierScript != "classify.zy" {
		t.Errorf("round trip lost settings: %+v", loaded)
	}
	if loaded.Rig.ScriptTimeout != cfg.Rig.ScriptTimeout {
		t.Errorf("script timeout = %v, want %v", loaded.Rig.ScriptTimeout, cfg.Rig.ScriptTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Kernel.Backend = "cgal" }, "kernel.backend"},
		{"coarse sdfx", func(c *Config) { c.Kernel.Backend = "sdfx"; c.Kernel.SdfxCells = 2 }, "sdfx_cells"},
		{"zero tolerance", func(c *Config) { c.Cleanup.WeldTolerance = 0 }, "weld_tolerance"},
		{"negative timeout", func(c *Config) { c.Rig.ScriptTimeout = -time.Second }, "script_timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}

	t.Run("all problems reported", func(t *testing.T) {
		cfg := Default()
		cfg.Kernel.Backend = "cgal"
		cfg.Cleanup.WeldTolerance = -1
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), "kernel.backend") || !strings.Contains(err.Error(), "weld_tolerance") {
			t.Errorf("Validate() error = %v, want both problems", err)
		}
	})
}

func TestOverridesApply(t *testing.T) {
	cfg := Default()
	Overrides{}.Apply(cfg)
	if cfg.Kernel.Backend != "bsp" || cfg.Logging.Level != "info" {
		t.Fatalf("empty overrides changed the config: %+v", cfg)
	}

	Overrides{Backend: "sdfx", SdfxCells: 40, WeldTolerance: 0.01, Debug: true, LogFile: "run.log"}.Apply(cfg)
	if cfg.Kernel.Backend != "sdfx" || cfg.Kernel.SdfxCells != 40 {
		t.Errorf("kernel = %+v", cfg.Kernel)
	}
	if cfg.Cleanup.WeldTolerance != 0.01 {
		t.Errorf("weld tolerance = %g", cfg.Cleanup.WeldTolerance)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.LogFile != "run.log" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

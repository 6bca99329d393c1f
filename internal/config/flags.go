package config

// Overrides holds command-line values that take priority over the file.
// Zero values leave the loaded setting alone.
type Overrides struct {
	Backend       string
	SdfxCells     int
	WeldTolerance float64
	Debug         bool
	LogFile       string
}

// Apply copies the set overrides into c.
func (o Overrides) Apply(c *Config) {
	if o.Backend != "" {
		c.Kernel.Backend = o.Backend
	}
	if o.SdfxCells > 0 {
		c.Kernel.SdfxCells = o.SdfxCells
	}
	if o.WeldTolerance > 0 {
		c.Cleanup.WeldTolerance = o.WeldTolerance
	}
	if o.Debug {
		c.Logging.Level = "debug"
	}
	if o.LogFile != "" {
		c.Logging.LogFile = o.LogFile
	}
}

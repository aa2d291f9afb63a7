package ui

// Config contains window/input/audio related settings.
type Config struct {
	Title   string // window title
	Scale   int    // integer upscaling factor
	ROMsDir string // ROM directory; Defaults fills it in, but nothing in the app reads it
}

// Defaults fills missing fields with reasonable defaults.
func (c *Config) Defaults() {
	if c.Title == "" {
		c.Title = "dmgcore"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
	if c.ROMsDir == "" {
		c.ROMsDir = "roms"
	}
}

package config

// DiffResult describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; everything else needs a restart.
type DiffResult struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RainBedChanged bool
	NewRainBed     string
}

// Changed reports whether any hot-reloadable field differs.
func (d DiffResult) Changed() bool {
	return d.LogLevelChanged || d.RainBedChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) DiffResult {
	d := DiffResult{}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Rain.BedPath != new.Rain.BedPath {
		d.RainBedChanged = true
		d.NewRainBed = new.Rain.BedPath
	}
	return d
}

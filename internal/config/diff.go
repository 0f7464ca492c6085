package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; changing the
// listen address, audio encoding, or frame geometry requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TuningChanged bool
	NewTuning     VADTuning
}

// VADTuning bundles the detector parameters that can be applied to live
// sessions without resetting them.
type VADTuning struct {
	CalibrationMultiplier float64
	TTSMultiplier         float64
	MaxThreshold          float64
	TTSCeiling            float64
}

// Tuning extracts the hot-reloadable detector parameters from a config.
func (c *Config) Tuning() VADTuning {
	return VADTuning{
		CalibrationMultiplier: c.VAD.CalibrationMultiplier,
		TTSMultiplier:         c.VAD.TTSMultiplier,
		MaxThreshold:          c.VAD.MaxThreshold,
		TTSCeiling:            c.VAD.TTSCeiling,
	}
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Tuning() != new.Tuning() {
		d.TuningChanged = true
		d.NewTuning = new.Tuning()
	}

	return d
}

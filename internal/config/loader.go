package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
// Fields absent from the document keep their [Default] values.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.VAD.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad.sample_rate must be positive, got %d", cfg.VAD.SampleRate))
	}
	if cfg.VAD.FrameLengthMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.frame_length_ms must be positive, got %d", cfg.VAD.FrameLengthMs))
	}
	if cfg.VAD.InitialThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.initial_threshold must not be negative, got %g", cfg.VAD.InitialThreshold))
	}
	if m := cfg.VAD.CalibrationMultiplier; m != 0 && (m < 1.5 || m > 4.0) {
		errs = append(errs, fmt.Errorf("vad.calibration_multiplier %g is outside [1.5, 4.0]", m))
	}
	if m := cfg.VAD.TTSMultiplier; m != 0 && (m < 2.0 || m > 5.0) {
		errs = append(errs, fmt.Errorf("vad.tts_multiplier %g is outside [2.0, 5.0]", m))
	}
	if cfg.VAD.MaxThreshold < 0 || cfg.VAD.TTSCeiling < 0 {
		errs = append(errs, errors.New("vad threshold caps must not be negative"))
	}

	if enc := cfg.Audio.Encoding; enc != "" && !enc.IsValid() {
		errs = append(errs, fmt.Errorf("audio.encoding %q is invalid; valid values: pcm16, ulaw", enc))
	}

	if cfg.Profiles.Enabled && cfg.Profiles.DatabaseURL == "" {
		errs = append(errs, errors.New("profiles.database_url is required when profiles.enabled is true"))
	}

	return errors.Join(errs...)
}

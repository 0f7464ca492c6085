// Package config provides the configuration schema, loader, and file watcher
// for the Tacet voice activity detection server.
package config

import (
	"time"

	"github.com/veskar/tacet/pkg/audio"
)

// LogLevel controls log verbosity for the Tacet server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Tacet.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	VAD      VADConfig      `yaml:"vad"`
	Audio    AudioConfig    `yaml:"audio"`
	Profiles ProfilesConfig `yaml:"profiles"`
}

// ServerConfig holds network and logging settings for the Tacet server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// VADConfig holds the detection parameters applied to every new session.
// Zero-valued fields fall back to the engine defaults.
type VADConfig struct {
	// SampleRate of incoming audio in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameLengthMs is the frame duration in milliseconds.
	FrameLengthMs int `yaml:"frame_length_ms"`

	// InitialThreshold is the RMS detection threshold before calibration.
	InitialThreshold float64 `yaml:"initial_threshold"`

	// CalibrationMultiplier scales the measured ambient noise into the
	// detection threshold. Valid range [1.5, 4.0].
	CalibrationMultiplier float64 `yaml:"calibration_multiplier"`

	// TTSMultiplier scales the threshold during TTS playback.
	// Valid range [2.0, 5.0].
	TTSMultiplier float64 `yaml:"tts_multiplier"`

	// MaxThreshold caps the calibrated threshold. Tie this to the signal's
	// normalization convention; the default assumes floats in [-1, 1].
	MaxThreshold float64 `yaml:"max_threshold"`

	// TTSCeiling caps the elevated threshold during playback.
	TTSCeiling float64 `yaml:"tts_ceiling"`

	// CalibrationFrames is the number of frames a calibration pass collects.
	CalibrationFrames int `yaml:"calibration_frames"`

	// CalibrationTimeoutMs bounds how long a calibration pass waits for
	// frames before completing with whatever it has.
	CalibrationTimeoutMs int `yaml:"calibration_timeout_ms"`

	// CalibrateOnConnect starts an ambient noise calibration pass
	// automatically when a session connects.
	CalibrateOnConnect bool `yaml:"calibrate_on_connect"`
}

// FrameLength returns the configured frame duration.
func (v VADConfig) FrameLength() time.Duration {
	return time.Duration(v.FrameLengthMs) * time.Millisecond
}

// CalibrationTimeout returns the configured calibration timeout.
func (v VADConfig) CalibrationTimeout() time.Duration {
	return time.Duration(v.CalibrationTimeoutMs) * time.Millisecond
}

// AudioConfig describes the wire format of incoming audio payloads.
type AudioConfig struct {
	// Encoding of binary audio messages: "pcm16" or "ulaw".
	Encoding audio.Encoding `yaml:"encoding"`
}

// ProfilesConfig enables persistence of completed calibration results so a
// returning device can seed its threshold instead of re-running the warm-up.
type ProfilesConfig struct {
	// Enabled turns the profile store on.
	Enabled bool `yaml:"enabled"`

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string `yaml:"database_url"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		VAD: VADConfig{
			SampleRate:         16000,
			FrameLengthMs:      100,
			CalibrateOnConnect: true,
		},
		Audio: AudioConfig{
			Encoding: audio.EncodingPCM16,
		},
	}
}

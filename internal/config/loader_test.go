package config_test

import (
	"strings"
	"testing"

	"github.com/veskar/tacet/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, ":8080")
	}
	if cfg.VAD.SampleRate != 16000 {
		t.Errorf("sample_rate = %d, want 16000", cfg.VAD.SampleRate)
	}
	if cfg.VAD.FrameLengthMs != 100 {
		t.Errorf("frame_length_ms = %d, want 100", cfg.VAD.FrameLengthMs)
	}
	if !cfg.VAD.CalibrateOnConnect {
		t.Error("calibrate_on_connect should default to true")
	}
}

func TestLoadFromReader_OverridesDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
vad:
  sample_rate: 8000
  frame_length_ms: 20
  calibration_multiplier: 3.0
audio:
  encoding: ulaw
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.VAD.SampleRate != 8000 {
		t.Errorf("sample_rate = %d, want 8000", cfg.VAD.SampleRate)
	}
	if cfg.VAD.CalibrationMultiplier != 3.0 {
		t.Errorf("calibration_multiplier = %g, want 3.0", cfg.VAD.CalibrationMultiplier)
	}
	if cfg.Audio.Encoding != "ulaw" {
		t.Errorf("encoding = %q, want %q", cfg.Audio.Encoding, "ulaw")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  bananas: 12
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "empty listen addr",
			mutate:  func(c *config.Config) { c.Server.ListenAddr = "" },
			wantSub: "listen_addr",
		},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "loud" },
			wantSub: "log_level",
		},
		{
			name:    "zero sample rate",
			mutate:  func(c *config.Config) { c.VAD.SampleRate = 0 },
			wantSub: "sample_rate",
		},
		{
			name:    "zero frame length",
			mutate:  func(c *config.Config) { c.VAD.FrameLengthMs = 0 },
			wantSub: "frame_length_ms",
		},
		{
			name:    "negative initial threshold",
			mutate:  func(c *config.Config) { c.VAD.InitialThreshold = -0.1 },
			wantSub: "initial_threshold",
		},
		{
			name:    "calibration multiplier out of range",
			mutate:  func(c *config.Config) { c.VAD.CalibrationMultiplier = 10 },
			wantSub: "calibration_multiplier",
		},
		{
			name:    "tts multiplier out of range",
			mutate:  func(c *config.Config) { c.VAD.TTSMultiplier = 1.0 },
			wantSub: "tts_multiplier",
		},
		{
			name:    "bad encoding",
			mutate:  func(c *config.Config) { c.Audio.Encoding = "mp3" },
			wantSub: "encoding",
		},
		{
			name:    "profiles enabled without url",
			mutate:  func(c *config.Config) { c.Profiles.Enabled = true },
			wantSub: "database_url",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should mention %q, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	cfg.VAD.SampleRate = -1
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, sub := range []string{"listen_addr", "sample_rate"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("joined error should mention %q, got: %v", sub, err)
		}
	}
}

func TestValidate_ZeroMultipliersUseDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.VAD.CalibrationMultiplier = 0
	cfg.VAD.TTSMultiplier = 0
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("zero multipliers should be accepted: %v", err)
	}
}

// Package profilestore persists completed calibration results so a returning
// device can seed its detection threshold instead of re-running the ambient
// noise warm-up from scratch.
package profilestore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CalibrationProfile is a persisted calibration result for one device.
type CalibrationProfile struct {
	// DeviceID identifies the device (or installation) the profile belongs
	// to. The caller chooses the scheme; it is an opaque key here.
	DeviceID string

	// Ambient is the measured ambient noise RMS level.
	Ambient float64

	// Threshold is the detection threshold derived from Ambient.
	Threshold float64

	// Multiplier is the calibration multiplier in effect when the profile
	// was captured.
	Multiplier float64

	// SampleRate and FrameLengthMs record the audio geometry the profile
	// was captured under. A profile only seeds sessions with matching
	// geometry.
	SampleRate    int
	FrameLengthMs int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks that the profile holds a usable calibration result.
func (p *CalibrationProfile) Validate() error {
	var errs []error
	if p.DeviceID == "" {
		errs = append(errs, errors.New("profile device_id must not be empty"))
	}
	if p.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("profile threshold must be positive, got %g", p.Threshold))
	}
	if p.Ambient < 0 {
		errs = append(errs, fmt.Errorf("profile ambient must not be negative, got %g", p.Ambient))
	}
	if p.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("profile sample_rate must be positive, got %d", p.SampleRate))
	}
	if p.FrameLengthMs <= 0 {
		errs = append(errs, fmt.Errorf("profile frame_length_ms must be positive, got %d", p.FrameLengthMs))
	}
	return errors.Join(errs...)
}

// Matches reports whether the profile was captured under the given audio
// geometry.
func (p *CalibrationProfile) Matches(sampleRate, frameLengthMs int) bool {
	return p.SampleRate == sampleRate && p.FrameLengthMs == frameLengthMs
}

// Store persists calibration profiles keyed by device ID.
type Store interface {
	// Upsert creates or replaces the profile for its device ID.
	Upsert(ctx context.Context, p *CalibrationProfile) error

	// Get retrieves a profile by device ID. It returns (nil, nil) when no
	// profile exists for the device.
	Get(ctx context.Context, deviceID string) (*CalibrationProfile, error)

	// Delete removes a profile. Deleting a non-existent profile is not an
	// error.
	Delete(ctx context.Context, deviceID string) error

	// List returns all stored profiles ordered by device ID.
	List(ctx context.Context) ([]CalibrationProfile, error)
}

// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (thresholds, hysteresis counters, energy history) so that multiple
// concurrent audio streams can be processed independently.
//
// Detection is synchronous: ProcessFrame returns immediately with a result,
// making it suitable for low-latency pipeline stages that gate STT input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "github.com/veskar/tacet/pkg/audio"

// Config holds the parameters for a VAD session. Energy values are expressed
// in the normalized [-1, 1] sample domain; an RMS of 0.005 roughly
// corresponds to a quiet room on consumer microphones.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameLength is the duration of each audio frame. Energy VAD is
	// typically run on 100 ms frames; shorter frames increase event latency
	// sensitivity to the hysteresis counters.
	FrameLength float64

	// InitialThreshold is the starting RMS energy threshold above which a
	// frame is classified as voiced. Calibration replaces it with an
	// adaptive value derived from ambient noise.
	InitialThreshold float64

	// CalibrationMultiplier scales the measured ambient noise level into the
	// detection threshold. Clamped to [1.5, 4.0].
	CalibrationMultiplier float64

	// TTSThresholdMultiplier scales the threshold while the system plays
	// back its own synthesized speech. Clamped to [2.0, 5.0].
	TTSThresholdMultiplier float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Each session maintains its own detection state;
// Reset clears this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must match the SampleRate configured when the
	// session was created. Empty frames are treated as silence, never an
	// error.
	//
	// This method is designed to be called synchronously in the audio
	// pipeline loop; it must not block.
	ProcessFrame(frame audio.Frame) (Event, error)

	// Reset clears all accumulated detection state (hysteresis counters,
	// energy history) without closing the session. Use this when the audio
	// stream is interrupted or restarted to avoid stale state from the
	// previous segment affecting subsequent frames.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame and Reset must return errors or be no-ops. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., non-positive
	// sample rate or frame length) or if the engine cannot allocate
	// resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}

package energy

import (
	"errors"
	"time"

	"github.com/veskar/tacet/pkg/audio"
	"github.com/veskar/tacet/pkg/vad"
)

// Engine adapts the energy detector to the [vad.Engine] factory interface so
// callers that program against the provider seam can use it interchangeably
// with other VAD backends. Safe for concurrent use.
type Engine struct{}

// Compile-time interface assertions.
var (
	_ vad.Engine        = Engine{}
	_ vad.SessionHandle = (*Session)(nil)
)

// NewSession creates an energy VAD session. The session's detector starts
// active with calibration running, so the first ~2 s of audio are used to
// measure ambient noise.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	d, err := New(Config{
		SampleRate:            cfg.SampleRate,
		FrameLength:           time.Duration(cfg.FrameLength * float64(time.Second)),
		InitialThreshold:      cfg.InitialThreshold,
		CalibrationMultiplier: cfg.CalibrationMultiplier,
		TTSMultiplier:         cfg.TTSThresholdMultiplier,
	})
	if err != nil {
		return nil, err
	}
	d.Start()
	if err := d.StartCalibration(); err != nil {
		d.Close()
		return nil, err
	}
	return &Session{detector: d}, nil
}

// Session is a per-stream energy VAD session. It wraps a [Detector] and maps
// its boolean per-frame output onto the start/continue/end/silence event
// vocabulary of [vad.SessionHandle].
//
// Not safe for concurrent use; process frames from a single goroutine.
type Session struct {
	detector *Detector
	closed   bool
}

// Detector exposes the underlying detector for control-plane operations
// (playback notifications, recalibration, manual threshold overrides).
func (s *Session) Detector() *Detector { return s.detector }

// ProcessFrame classifies one frame. Empty frames are treated as silence.
func (s *Session) ProcessFrame(frame audio.Frame) (vad.Event, error) {
	if s.closed {
		return vad.Event{Type: vad.Silence}, errors.New("energy: session is closed")
	}

	wasSpeaking := s.detector.IsSpeechActive()
	s.detector.ProcessFrame(frame.Samples)
	speaking := s.detector.IsSpeechActive()

	ev := vad.Event{Energy: s.detector.Stats().Current}
	switch {
	case speaking && !wasSpeaking:
		ev.Type = vad.SpeechStart
	case speaking:
		ev.Type = vad.SpeechContinue
	case wasSpeaking:
		ev.Type = vad.SpeechEnd
	default:
		ev.Type = vad.Silence
	}
	return ev, nil
}

// Reset clears accumulated detection state without closing the session.
func (s *Session) Reset() {
	if s.closed {
		return
	}
	s.detector.Reset()
	s.detector.Start()
}

// Close releases the session's detector. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.detector.Close()
}

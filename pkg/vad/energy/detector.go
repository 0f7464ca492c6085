package energy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veskar/tacet/pkg/vad"
)

// Defaults for [Config] fields left at their zero value.
const (
	// DefaultThreshold is the starting RMS detection threshold before
	// calibration, in the normalized [-1, 1] sample domain.
	DefaultThreshold = 0.005

	// DefaultMinThreshold is the absolute floor a calibrated threshold can
	// never go below, guarding against near-silent calibration rooms.
	DefaultMinThreshold = 0.002

	// DefaultMaxThreshold caps the calibrated threshold so a noisy room
	// cannot make the detector arbitrarily insensitive.
	DefaultMaxThreshold = 0.02

	// DefaultTTSCeiling caps the elevated threshold during TTS playback.
	DefaultTTSCeiling = 0.1

	// DefaultVoiceStartFrames is the consecutive voiced frames required to
	// enter the speaking state.
	DefaultVoiceStartFrames = 1

	// DefaultVoiceEndFrames is the consecutive silent frames required to
	// leave the speaking state (~1.2 s at 100 ms frames).
	DefaultVoiceEndFrames = 12

	// DefaultTTSVoiceStartFrames is the elevated start run while TTS
	// playback is active.
	DefaultTTSVoiceStartFrames = 10

	// DefaultTTSVoiceEndFrames is the reduced end run while TTS playback is
	// active.
	DefaultTTSVoiceEndFrames = 5

	// DefaultCalibrationFrames is the number of frames a calibration session
	// collects (~2 s at 100 ms frames).
	DefaultCalibrationFrames = 20

	// DefaultCalibrationTimeout bounds how long a calibration session waits
	// for frames before completing with whatever it has.
	DefaultCalibrationTimeout = 3 * time.Second

	// DefaultStatsWindow is the number of recent frames retained for
	// diagnostics snapshots.
	DefaultStatsWindow = 50

	// DefaultEventBuffer is the capacity of the activity event dispatch
	// channel. When a slow consumer lets it fill, the oldest undelivered
	// event is dropped rather than stalling frame processing.
	DefaultEventBuffer = 16

	defaultCalibrationMultiplier = 2.5
	defaultTTSMultiplier         = 3.0
)

// Clamp ranges for the tunable multipliers.
const (
	minCalibrationMultiplier = 1.5
	maxCalibrationMultiplier = 4.0
	minTTSMultiplier         = 2.0
	maxTTSMultiplier         = 5.0
)

// ErrCalibrationWhilePaused is returned by StartCalibration when the
// detector is paused. Calibration and pause are mutually exclusive; resume
// first, then calibrate.
var ErrCalibrationWhilePaused = errors.New("energy: cannot start calibration while paused")

// ErrCalibrationDuringPlayback is returned by StartCalibration while TTS
// playback is active. A session started then would measure the system's own
// playback audio as ambient noise and overwrite the base threshold that the
// playback cycle must restore.
var ErrCalibrationDuringPlayback = errors.New("energy: cannot start calibration during TTS playback")

// ErrClosed is returned by operations on a closed detector.
var ErrClosed = errors.New("energy: detector is closed")

// Config holds the construction-time parameters for a [Detector]. The zero
// value of every field except SampleRate and FrameLength selects a sensible
// default; multipliers outside their valid range are silently clamped.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Required, must be positive.
	SampleRate int

	// FrameLength is the nominal duration of each frame. Required, must be
	// positive.
	FrameLength time.Duration

	// InitialThreshold is the RMS detection threshold used until
	// calibration completes. Default [DefaultThreshold].
	InitialThreshold float64

	// CalibrationMultiplier scales the ambient noise estimate into the
	// detection threshold. Clamped to [1.5, 4.0].
	CalibrationMultiplier float64

	// TTSMultiplier scales the threshold during TTS playback.
	// Clamped to [2.0, 5.0].
	TTSMultiplier float64

	// MinThreshold is the absolute floor for calibrated thresholds.
	MinThreshold float64

	// MaxThreshold caps calibrated thresholds. Tie this to the signal's
	// normalization convention; the default assumes float samples in [-1, 1].
	MaxThreshold float64

	// TTSCeiling caps the elevated threshold during playback.
	TTSCeiling float64

	// VoiceStartFrames / VoiceEndFrames are the hysteresis runs in normal
	// operation; the TTS variants apply while playback is active.
	VoiceStartFrames    int
	VoiceEndFrames      int
	TTSVoiceStartFrames int
	TTSVoiceEndFrames   int

	// CalibrationFrames is the number of energy samples a calibration
	// session collects before completing.
	CalibrationFrames int

	// CalibrationTimeout completes an underfilled calibration session once
	// elapsed. Completion is cooperative — driven by a timer and by frame
	// arrivals, whichever settles the session first.
	CalibrationTimeout time.Duration

	// StatsWindow is the diagnostics ring buffer capacity.
	StatsWindow int

	// EventBuffer is the dispatch channel capacity.
	EventBuffer int

	// OnActivity receives speech activity transitions. It is invoked from a
	// dedicated dispatch goroutine, never from the frame-processing path, so
	// a slow consumer cannot stall processing. May be nil.
	OnActivity func(Activity)

	// OnDroppedEvent is invoked (under the detector lock — keep it cheap)
	// each time an undelivered activity event is discarded because the
	// dispatch buffer was full. May be nil.
	OnDroppedEvent func()

	// OnCalibrationComplete is invoked (under the detector lock) when a
	// calibration session derives a new threshold. May be nil.
	OnCalibrationComplete func(ambient, threshold float64)

	// OnCalibrationAbandoned is invoked (under the detector lock) when a
	// calibration session ends without producing a threshold. The reason is
	// "timeout" for a session whose deadline expired before any frame
	// arrived, or "cancelled" for one discarded by pause, stop, reset,
	// playback, close, or a restart. May be nil.
	OnCalibrationAbandoned func(reason string)

	// OnSuppressed is invoked (under the detector lock — keep it cheap) each
	// time a voice onset is suppressed because TTS playback is active. May
	// be nil.
	OnSuppressed func()
}

// withDefaults returns cfg with zero-valued optional fields replaced by
// defaults and multipliers clamped into range.
func (cfg Config) withDefaults() Config {
	if cfg.InitialThreshold == 0 {
		cfg.InitialThreshold = DefaultThreshold
	}
	if cfg.CalibrationMultiplier == 0 {
		cfg.CalibrationMultiplier = defaultCalibrationMultiplier
	}
	cfg.CalibrationMultiplier = clamp(cfg.CalibrationMultiplier, minCalibrationMultiplier, maxCalibrationMultiplier)
	if cfg.TTSMultiplier == 0 {
		cfg.TTSMultiplier = defaultTTSMultiplier
	}
	cfg.TTSMultiplier = clamp(cfg.TTSMultiplier, minTTSMultiplier, maxTTSMultiplier)
	if cfg.MinThreshold == 0 {
		cfg.MinThreshold = DefaultMinThreshold
	}
	if cfg.MaxThreshold == 0 {
		cfg.MaxThreshold = DefaultMaxThreshold
	}
	if cfg.TTSCeiling == 0 {
		cfg.TTSCeiling = DefaultTTSCeiling
	}
	if cfg.VoiceStartFrames == 0 {
		cfg.VoiceStartFrames = DefaultVoiceStartFrames
	}
	if cfg.VoiceEndFrames == 0 {
		cfg.VoiceEndFrames = DefaultVoiceEndFrames
	}
	if cfg.TTSVoiceStartFrames == 0 {
		cfg.TTSVoiceStartFrames = DefaultTTSVoiceStartFrames
	}
	if cfg.TTSVoiceEndFrames == 0 {
		cfg.TTSVoiceEndFrames = DefaultTTSVoiceEndFrames
	}
	if cfg.CalibrationFrames == 0 {
		cfg.CalibrationFrames = DefaultCalibrationFrames
	}
	if cfg.CalibrationTimeout == 0 {
		cfg.CalibrationTimeout = DefaultCalibrationTimeout
	}
	if cfg.StatsWindow == 0 {
		cfg.StatsWindow = DefaultStatsWindow
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return cfg
}

// validate checks the required construction parameters. Called before any
// processing begins so misconfiguration fails fast.
func (cfg Config) validate() error {
	var errs []error
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("energy: frame length must be positive, got %v", cfg.FrameLength))
	}
	if cfg.InitialThreshold < 0 {
		errs = append(errs, fmt.Errorf("energy: initial threshold must not be negative, got %g", cfg.InitialThreshold))
	}
	return errors.Join(errs...)
}

// Detector is the authoritative energy VAD instance for one audio stream.
//
// A single mutex guards all state: frames arrive at tens-of-milliseconds
// granularity, so one mutual-exclusion region covering the whole instance is
// the simplest correct design. Control-plane calls (pause, playback
// notifications, calibration) may come from any goroutine. Activity events
// are delivered asynchronously through a bounded channel so the
// frame-processing path never blocks on a consumer.
type Detector struct {
	cfg Config

	mu sync.Mutex

	threshold     float64 // active RMS threshold; always > 0
	thresholdSq   float64 // threshold², for sqrt-free hot-path comparison
	baseThreshold float64 // threshold to restore after TTS playback

	calibrationMultiplier float64
	ttsMultiplier         float64

	machine stateMachine
	window  *energyWindow

	active    bool
	paused    bool
	ttsActive bool

	calib   *calibration // non-nil only during an active calibration pass
	ambient float64

	events    chan Activity
	drainDone chan struct{}
	closed    bool
}

// New constructs a Detector from cfg. It returns a configuration error
// before any processing begins if the sample rate or frame length is
// invalid. The detector starts inactive; call [Detector.Start].
func New(cfg Config) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	d := &Detector{
		cfg:                   cfg,
		threshold:             cfg.InitialThreshold,
		baseThreshold:         cfg.InitialThreshold,
		calibrationMultiplier: cfg.CalibrationMultiplier,
		ttsMultiplier:         cfg.TTSMultiplier,
		machine: stateMachine{
			startFrames:    cfg.VoiceStartFrames,
			endFrames:      cfg.VoiceEndFrames,
			ttsStartFrames: cfg.TTSVoiceStartFrames,
			ttsEndFrames:   cfg.TTSVoiceEndFrames,
		},
		window:    newEnergyWindow(cfg.StatsWindow),
		events:    make(chan Activity, cfg.EventBuffer),
		drainDone: make(chan struct{}),
	}
	d.thresholdSq = d.threshold * d.threshold

	go d.dispatch()

	return d, nil
}

// dispatch delivers activity events to the OnActivity callback, decoupled
// from the processing path. Runs until the events channel is closed.
func (d *Detector) dispatch() {
	defer close(d.drainDone)
	for ev := range d.events {
		if d.cfg.OnActivity != nil {
			d.cfg.OnActivity(ev)
		}
	}
}

// publishLocked enqueues an activity event without ever blocking. When the
// buffer is full the oldest undelivered event is discarded first
// (drop-oldest policy: a late SpeechEnded beats a stalled pipeline).
// Caller must hold d.mu.
func (d *Detector) publishLocked(a Activity) {
	if d.closed {
		return
	}
	for {
		select {
		case d.events <- a:
			return
		default:
		}
		select {
		case <-d.events:
			if d.cfg.OnDroppedEvent != nil {
				d.cfg.OnDroppedEvent()
			}
		default:
		}
	}
}

// ProcessFrame classifies one frame of normalized float samples and reports
// whether it contained voice. Empty or malformed frames count as zero energy
// — never a fault. Frames are ignored (reported voiceless) while the
// detector is inactive or paused, and consumed by the calibration session
// while one is running.
//
// Exactly one goroutine should deliver frames, in capture order.
func (d *Detector) ProcessFrame(samples []float32) bool {
	// Pure math first; no shared state touched.
	meanSq := meanSquare(samples)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active || d.paused || d.closed {
		return false
	}

	if d.calib != nil {
		d.window.push(meanSq)
		if d.calib.observe(RMS(samples)) {
			d.finishCalibrationLocked()
		}
		return false
	}

	d.window.push(meanSq)

	hasVoice := meanSq > d.thresholdSq
	ev, suppressed := d.machine.observe(hasVoice, d.ttsActive)
	if suppressed {
		if d.cfg.OnSuppressed != nil {
			d.cfg.OnSuppressed()
		}
		slog.Warn("vad: voice detected during TTS playback, likely feedback; ignoring",
			"threshold", d.threshold,
		)
	}
	if ev != activityNone {
		if ev == ActivityStarted {
			slog.Info("vad: speech started", "threshold", d.threshold)
		} else {
			slog.Info("vad: speech ended")
		}
		d.publishLocked(ev)
	}
	return hasVoice
}

// Start activates frame processing. Idempotent.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active || d.closed {
		return
	}
	d.active = true
	d.machine.reset()
	slog.Debug("vad: started", "sampleRate", d.cfg.SampleRate, "frameLength", d.cfg.FrameLength)
}

// Stop deactivates processing. If an utterance is in flight, a SpeechEnded
// event is emitted so downstream consumers never see a dangling start. Any
// running calibration session is cancelled without touching the threshold.
// Idempotent.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.cancelCalibrationLocked("stopped")
	if d.machine.forceEnd() {
		slog.Info("vad: speech ended (stopped)")
		d.publishLocked(ActivityEnded)
	}
	d.active = false
	slog.Debug("vad: stopped")
}

// Pause suspends frame processing without deactivating. If an utterance is
// in flight, SpeechEnded is emitted immediately, bypassing the end-run
// hysteresis. Counters and the rolling energy history are cleared so stale
// state cannot cause a false trigger on resume. A running calibration
// session is cancelled. Idempotent.
func (d *Detector) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused {
		return
	}
	d.paused = true
	d.cancelCalibrationLocked("paused")
	if d.machine.forceEnd() {
		d.publishLocked(ActivityEnded)
	}
	d.window.reset()
	slog.Info("vad: paused")
}

// Resume lifts a pause and begins fresh in silence. Idempotent.
func (d *Detector) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused {
		return
	}
	d.paused = false
	d.machine.reset()
	d.window.reset()
	slog.Info("vad: resumed")
}

// Reset clears all detection state — counters, speaking flag, energy
// history, any calibration session — without emitting events and without
// touching the threshold. Callers that need a guaranteed SpeechEnded for an
// in-flight utterance must call Pause or Stop instead.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelCalibrationLocked("reset")
	d.machine.reset()
	d.window.reset()
	d.active = false
	d.paused = false
}

// Close stops the event dispatcher and releases resources. An in-flight
// utterance is flushed with SpeechEnded first, same as [Detector.Stop].
// Calling Close more than once is safe.
func (d *Detector) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.cancelCalibrationLocked("closed")
	if d.machine.forceEnd() {
		d.publishLocked(ActivityEnded)
	}
	d.active = false
	d.closed = true
	d.mu.Unlock()

	close(d.events)
	<-d.drainDone
	return nil
}

// StartCalibration begins a bounded warm-up pass that measures ambient
// noise and derives an adaptive threshold. Any previous session is
// discarded. Returns [ErrCalibrationWhilePaused] when paused and
// [ErrCalibrationDuringPlayback] while TTS playback is active; calibration
// is mutually exclusive with both.
func (d *Detector) StartCalibration() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.paused {
		return ErrCalibrationWhilePaused
	}
	if d.ttsActive {
		return ErrCalibrationDuringPlayback
	}

	d.cancelCalibrationLocked("restarted")

	c := &calibration{
		samples:      make([]float64, 0, d.cfg.CalibrationFrames),
		framesNeeded: d.cfg.CalibrationFrames,
	}
	c.timer = time.AfterFunc(d.cfg.CalibrationTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		// Only the session this timer belongs to may be completed; a newer
		// session owns its own timer.
		if d.calib == c {
			d.finishCalibrationLocked()
		}
	})
	d.calib = c

	slog.Info("vad: calibration started, measuring ambient noise",
		"framesNeeded", c.framesNeeded,
		"timeout", d.cfg.CalibrationTimeout,
	)
	return nil
}

// finishCalibrationLocked completes the current calibration session,
// deriving the ambient noise level and a new threshold. A session that
// collected zero samples completes as a no-op with a diagnostic, preserving
// the prior threshold. Caller must hold d.mu.
func (d *Detector) finishCalibrationLocked() {
	c := d.calib
	if c == nil {
		return
	}
	c.cancel()
	d.calib = nil

	ambient, threshold, ok := deriveThreshold(c.samples, d.calibrationMultiplier, d.cfg.MinThreshold, d.cfg.MaxThreshold)
	if !ok {
		if d.cfg.OnCalibrationAbandoned != nil {
			d.cfg.OnCalibrationAbandoned("timeout")
		}
		slog.Warn("vad: calibration collected no samples before timeout; keeping existing threshold",
			"threshold", d.threshold,
		)
		return
	}

	d.ambient = ambient
	if threshold >= d.cfg.MaxThreshold {
		slog.Warn("vad: high ambient noise, capping threshold", "ambient", ambient, "cap", d.cfg.MaxThreshold)
	}
	d.setThresholdLocked(threshold)
	d.baseThreshold = threshold

	if d.cfg.OnCalibrationComplete != nil {
		d.cfg.OnCalibrationComplete(ambient, threshold)
	}
	slog.Info("vad: calibration complete",
		"ambient", ambient,
		"threshold", threshold,
		"samples", len(c.samples),
	)
}

// cancelCalibrationLocked discards any running calibration session without
// changing the threshold. Caller must hold d.mu.
func (d *Detector) cancelCalibrationLocked(reason string) {
	if d.calib == nil {
		return
	}
	d.calib.cancel()
	d.calib = nil
	if d.cfg.OnCalibrationAbandoned != nil {
		d.cfg.OnCalibrationAbandoned("cancelled")
	}
	slog.Warn("vad: calibration cancelled", "reason", reason)
}

// IsCalibrating reports whether a calibration session is running.
func (d *Detector) IsCalibrating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calib != nil
}

// IsSpeechActive reports whether the detector currently considers the user
// to be speaking.
func (d *Detector) IsSpeechActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.speaking
}

// Threshold returns the active RMS detection threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// SetThreshold manually overrides the detection threshold, replacing both
// the active and base values. Non-positive thresholds are rejected — the
// detector's threshold must stay above zero at all times.
func (d *Detector) SetThreshold(t float64) error {
	if t <= 0 {
		return fmt.Errorf("energy: threshold must be positive, got %g", t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setThresholdLocked(t)
	d.baseThreshold = t
	return nil
}

// setThresholdLocked updates the active threshold and its squared form.
// Caller must hold d.mu.
func (d *Detector) setThresholdLocked(t float64) {
	d.threshold = t
	d.thresholdSq = t * t
}

// SetCalibrationMultiplier tunes how aggressively calibration scales the
// ambient noise estimate. Out-of-range values are silently clamped to
// [1.5, 4.0].
func (d *Detector) SetCalibrationMultiplier(m float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calibrationMultiplier = clamp(m, minCalibrationMultiplier, maxCalibrationMultiplier)
}

// CalibrationMultiplier returns the multiplier the next calibration pass
// will apply to its ambient noise estimate.
func (d *Detector) CalibrationMultiplier() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calibrationMultiplier
}

// SetTTSMultiplier tunes the threshold elevation applied during TTS
// playback. Out-of-range values are silently clamped to [2.0, 5.0].
func (d *Detector) SetTTSMultiplier(m float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ttsMultiplier = clamp(m, minTTSMultiplier, maxTTSMultiplier)
}

// NotifyPlaybackWillStart biases detection against self-feedback while the
// system plays back its own synthesized speech: the threshold is elevated
// (capped at the TTS ceiling), the state machine switches to its elevated
// hysteresis runs, and an in-flight utterance is flushed with SpeechEnded.
// A running calibration session is cancelled — it would otherwise measure
// the playback audio as ambient noise. Detection stays running rather than
// being disabled outright, leaving room for future barge-in support.
// Idempotent while playback is active.
func (d *Detector) NotifyPlaybackWillStart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ttsActive {
		return
	}
	d.cancelCalibrationLocked("playback")
	d.ttsActive = true
	d.baseThreshold = d.threshold

	elevated := d.threshold * d.ttsMultiplier
	if elevated > d.cfg.TTSCeiling {
		elevated = d.cfg.TTSCeiling
	}
	d.setThresholdLocked(elevated)

	if d.machine.forceEnd() {
		d.publishLocked(ActivityEnded)
	}

	slog.Info("vad: playback starting, threshold elevated",
		"base", d.baseThreshold,
		"elevated", d.threshold,
	)
}

// NotifyPlaybackDidFinish restores the exact pre-playback threshold and
// clears counters and the rolling energy history for a clean restart.
// Idempotent while playback is inactive.
func (d *Detector) NotifyPlaybackDidFinish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ttsActive {
		return
	}
	d.ttsActive = false
	d.setThresholdLocked(d.baseThreshold)
	d.machine.reset()
	d.window.reset()
	slog.Info("vad: playback finished, threshold restored", "threshold", d.threshold)
}

// SampleRate returns the configured sample rate in Hz.
func (d *Detector) SampleRate() int { return d.cfg.SampleRate }

// FrameLength returns the configured nominal frame duration.
func (d *Detector) FrameLength() time.Duration { return d.cfg.FrameLength }

// FrameSamples returns the expected number of samples per frame.
func (d *Detector) FrameSamples() int {
	return int(float64(d.cfg.SampleRate) * d.cfg.FrameLength.Seconds())
}

// Stats returns a read-only snapshot of recent energy history. Safe to call
// at any time; it never affects processing state.
func (d *Detector) Stats() vad.Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, avg, max := d.window.snapshot()
	return vad.Statistics{
		Current:   current,
		Threshold: d.threshold,
		Ambient:   d.ambient,
		RecentAvg: avg,
		RecentMax: max,
	}
}

package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/veskar/tacet/internal/config"
	"github.com/veskar/tacet/internal/observe"
	"github.com/veskar/tacet/internal/profilestore"
	"github.com/veskar/tacet/pkg/audio"
	"github.com/veskar/tacet/pkg/vad/energy"
)

// session is one live detection session bound to a WebSocket connection.
type session struct {
	id       string
	conn     *websocket.Conn
	detector *energy.Detector
	decoder  *audio.Decoder
	metrics  *observe.Metrics
	profiles profilestore.Store
	log      *slog.Logger

	// frameSamples is the number of samples per detection frame; pending
	// accumulates decoded samples until a full frame is available.
	frameSamples int
	pending      []float32

	// writeMu serialises websocket writes: detection events arrive from the
	// detector's dispatch goroutine while control replies come from the
	// read loop.
	writeMu sync.Mutex

	mu          sync.Mutex
	deviceID    string
	speechStart time.Time
	calibStart  time.Time
}

// sendEvent serialises and writes a server message. Write failures are
// logged and otherwise ignored; the read loop notices the broken connection
// and tears the session down.
func (s *session) sendEvent(ctx context.Context, msg ServerMessage) {
	data, err := EncodeServerMessage(msg)
	if err != nil {
		s.log.Error("encode event", "err", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Debug("write event", "type", msg.Type, "err", err)
	}
}

func (s *session) sendError(ctx context.Context, err error) {
	s.sendEvent(ctx, ServerMessage{Type: EvtError, Error: err.Error()})
}

// onActivity forwards a detector transition to the client and records
// segment metrics. Runs on the detector's dispatch goroutine.
func (s *session) onActivity(ctx context.Context, a energy.Activity) {
	switch a {
	case energy.ActivityStarted:
		s.mu.Lock()
		s.speechStart = time.Now()
		s.mu.Unlock()
		s.sendEvent(ctx, ServerMessage{Type: EvtSpeechStarted})
	case energy.ActivityEnded:
		s.mu.Lock()
		started := s.speechStart
		s.speechStart = time.Time{}
		s.mu.Unlock()
		if !started.IsZero() {
			s.metrics.RecordSegment(ctx, time.Since(started).Seconds())
		}
		s.sendEvent(ctx, ServerMessage{Type: EvtSpeechEnded})
	}
}

// onCalibrated reports a completed calibration pass to the client and, when
// the client identified itself, persists the result as a device profile.
// Invoked under the detector lock, so the actual work moves to a goroutine.
func (s *session) onCalibrated(ctx context.Context, ambient, threshold float64) {
	s.mu.Lock()
	started := s.calibStart
	s.calibStart = time.Time{}
	deviceID := s.deviceID
	s.mu.Unlock()

	go func() {
		if !started.IsZero() {
			s.metrics.RecordCalibration(ctx, "completed", time.Since(started).Seconds())
		}
		s.metrics.RecordThreshold(ctx, "calibration", threshold)
		s.sendEvent(ctx, ServerMessage{
			Type:      EvtCalibrated,
			Ambient:   ambient,
			Threshold: threshold,
		})
		if s.profiles == nil || deviceID == "" {
			return
		}
		s.persistProfile(ctx, &profilestore.CalibrationProfile{
			DeviceID:      deviceID,
			Ambient:       ambient,
			Threshold:     threshold,
			Multiplier:    s.detector.CalibrationMultiplier(),
			SampleRate:    s.detector.SampleRate(),
			FrameLengthMs: int(s.detector.FrameLength().Milliseconds()),
		})
	}()
}

// onCalibrationAbandoned records a calibration pass that ended without a new
// threshold. Invoked under the detector lock, so only counters are touched.
func (s *session) onCalibrationAbandoned(ctx context.Context, reason string) {
	s.mu.Lock()
	started := s.calibStart
	s.calibStart = time.Time{}
	s.mu.Unlock()

	var elapsed float64
	if !started.IsZero() {
		elapsed = time.Since(started).Seconds()
	}
	s.metrics.RecordCalibration(ctx, reason, elapsed)
}

func (s *session) persistProfile(ctx context.Context, p *profilestore.CalibrationProfile) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.profiles.Upsert(ctx, p); err != nil {
		s.log.Warn("persist calibration profile", "device_id", p.DeviceID, "err", err)
		return
	}
	s.log.Info("calibration profile saved", "device_id", p.DeviceID, "threshold", p.Threshold)
}

// handleAudio decodes a binary payload and feeds complete frames to the
// detector. Payload boundaries need not align with frame boundaries.
func (s *session) handleAudio(ctx context.Context, payload []byte) {
	frame := s.decoder.Decode(payload)
	if frame.NumSamples() == 0 {
		return
	}
	s.pending = append(s.pending, frame.Samples...)
	for len(s.pending) >= s.frameSamples {
		chunk := s.pending[:s.frameSamples]
		voice := s.detector.ProcessFrame(chunk)
		s.metrics.RecordFrame(ctx, voice)
		s.pending = s.pending[s.frameSamples:]
	}
	// Reclaim the backing array once everything buffered has been consumed.
	if len(s.pending) == 0 {
		s.pending = nil
	}
}

// handleControl executes one client control message.
func (s *session) handleControl(ctx context.Context, data []byte) {
	msg, err := DecodeClientMessage(data)
	if err != nil {
		s.sendError(ctx, err)
		return
	}

	s.log.Debug("control message", "type", msg.Type)

	switch msg.Type {
	case MsgHello:
		s.hello(ctx, msg.DeviceID)
	case MsgStart:
		s.detector.Start()
	case MsgStop:
		s.detector.Stop()
	case MsgPause:
		s.detector.Pause()
	case MsgResume:
		s.detector.Resume()
	case MsgReset:
		s.detector.Reset()
	case MsgCalibrate:
		// Starting discards any running session, whose abandoned hook clears
		// calibStart; stamp the new session only once it is actually running.
		if err := s.detector.StartCalibration(); err != nil {
			s.sendError(ctx, err)
			return
		}
		s.mu.Lock()
		s.calibStart = time.Now()
		s.mu.Unlock()
	case MsgPlaybackStarted:
		s.detector.NotifyPlaybackWillStart()
	case MsgPlaybackFinished:
		s.detector.NotifyPlaybackDidFinish()
	case MsgSetThreshold:
		if err := s.detector.SetThreshold(msg.Threshold); err != nil {
			s.sendError(ctx, err)
		} else {
			s.metrics.RecordThreshold(ctx, "manual", msg.Threshold)
		}
	case MsgSetMultiplier:
		s.detector.SetCalibrationMultiplier(msg.Multiplier)
	case MsgSetTTSMultiplier:
		s.detector.SetTTSMultiplier(msg.Multiplier)
	case MsgStats:
		s.sendStats(ctx)
	}
}

// hello associates a device ID with the session and seeds the threshold from
// a stored calibration profile when one matches the session's audio geometry.
func (s *session) hello(ctx context.Context, deviceID string) {
	s.mu.Lock()
	s.deviceID = deviceID
	s.mu.Unlock()

	if s.profiles == nil || deviceID == "" {
		return
	}

	p, err := s.profiles.Get(ctx, deviceID)
	if err != nil {
		s.log.Warn("load calibration profile", "device_id", deviceID, "err", err)
		return
	}
	if p == nil {
		return
	}
	if !p.Matches(s.detector.SampleRate(), int(s.detector.FrameLength().Milliseconds())) {
		s.log.Info("stored profile geometry mismatch, ignoring",
			"device_id", deviceID,
			"profile_rate", p.SampleRate,
			"session_rate", s.detector.SampleRate(),
		)
		return
	}
	if err := s.detector.SetThreshold(p.Threshold); err != nil {
		s.log.Warn("seed threshold from profile", "device_id", deviceID, "err", err)
		return
	}
	s.metrics.RecordThreshold(ctx, "profile", p.Threshold)
	s.log.Info("threshold seeded from stored profile",
		"device_id", deviceID,
		"threshold", p.Threshold,
	)
	s.sendStats(ctx)
}

func (s *session) sendStats(ctx context.Context) {
	st := s.detector.Stats()
	s.sendEvent(ctx, ServerMessage{
		Type: EvtStats,
		Stats: &StatsPayload{
			Current:   st.Current,
			Threshold: st.Threshold,
			Ambient:   st.Ambient,
			RecentAvg: st.RecentAvg,
			RecentMax: st.RecentMax,
		},
	})
}

// applyTuning pushes hot-reloaded detector parameters into the live session.
// Construction-time parameters (thresholds caps, frame geometry) only apply
// to sessions created after the reload.
func (s *session) applyTuning(t config.VADTuning) {
	if t.CalibrationMultiplier != 0 {
		s.detector.SetCalibrationMultiplier(t.CalibrationMultiplier)
	}
	if t.TTSMultiplier != 0 {
		s.detector.SetTTSMultiplier(t.TTSMultiplier)
	}
}

func (s *session) close() {
	if err := s.detector.Close(); err != nil {
		s.log.Debug("close detector", "err", err)
	}
}

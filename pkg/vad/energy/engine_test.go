package energy_test

import (
	"testing"
	"time"

	"github.com/veskar/tacet/pkg/audio"
	"github.com/veskar/tacet/pkg/vad"
	"github.com/veskar/tacet/pkg/vad/energy"
)

func audioFrame(n int, amplitude float32) audio.Frame {
	return audio.Frame{
		Samples:    frame(n, amplitude),
		SampleRate: 16000,
		Duration:   100 * time.Millisecond,
	}
}

func TestEngine_NewSessionValidation(t *testing.T) {
	var eng energy.Engine
	if _, err := eng.NewSession(vad.Config{SampleRate: 0, FrameLength: 0.1}); err == nil {
		t.Fatal("NewSession accepted a zero sample rate")
	}
	if _, err := eng.NewSession(vad.Config{SampleRate: 16000}); err == nil {
		t.Fatal("NewSession accepted a zero frame length")
	}
}

func TestSession_EventMapping(t *testing.T) {
	var eng energy.Engine
	handle, err := eng.NewSession(vad.Config{
		SampleRate:       16000,
		FrameLength:      0.1,
		InitialThreshold: 0.005,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer handle.Close()

	sess := handle.(*energy.Session)
	n := sess.Detector().FrameSamples()

	// The session starts calibrating: the first batch of quiet frames is
	// consumed to measure ambient noise and reports silence.
	for i := 0; i < energy.DefaultCalibrationFrames; i++ {
		ev, err := handle.ProcessFrame(audioFrame(n, 0.001))
		if err != nil {
			t.Fatalf("calibration frame %d: %v", i, err)
		}
		if ev.Type != vad.Silence {
			t.Fatalf("calibration frame %d: event = %v, want Silence", i, ev.Type)
		}
	}
	if sess.Detector().IsCalibrating() {
		t.Fatal("still calibrating after the full warm-up window")
	}

	// Voiced frames: start, then continue.
	ev, _ := handle.ProcessFrame(audioFrame(n, 0.01))
	if ev.Type != vad.SpeechStart {
		t.Fatalf("event = %v, want SpeechStart", ev.Type)
	}
	ev, _ = handle.ProcessFrame(audioFrame(n, 0.01))
	if ev.Type != vad.SpeechContinue {
		t.Fatalf("event = %v, want SpeechContinue", ev.Type)
	}

	// Silent run: continue until the hysteresis end, then end, then silence.
	for i := 0; i < 11; i++ {
		ev, _ = handle.ProcessFrame(audioFrame(n, 0.001))
		if ev.Type != vad.SpeechContinue {
			t.Fatalf("silent frame %d: event = %v, want SpeechContinue", i+1, ev.Type)
		}
	}
	ev, _ = handle.ProcessFrame(audioFrame(n, 0.001))
	if ev.Type != vad.SpeechEnd {
		t.Fatalf("event = %v, want SpeechEnd", ev.Type)
	}
	ev, _ = handle.ProcessFrame(audioFrame(n, 0.001))
	if ev.Type != vad.Silence {
		t.Fatalf("event = %v, want Silence", ev.Type)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	var eng energy.Engine
	handle, err := eng.NewSession(vad.Config{SampleRate: 16000, FrameLength: 0.1})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := handle.ProcessFrame(audioFrame(1600, 0.01)); err == nil {
		t.Fatal("ProcessFrame on a closed session did not error")
	}
}

package server_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/veskar/tacet/internal/config"
	"github.com/veskar/tacet/internal/observe"
	"github.com/veskar/tacet/internal/server"
)

// testConfig returns a config with a fixed threshold and no auto-calibration
// so detection behaviour is deterministic.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.VAD.InitialThreshold = 0.005
	cfg.VAD.CalibrateOnConnect = false
	return cfg
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// dial starts an HTTP test server around srv and opens a client connection.
func dial(t *testing.T, srv *server.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+ts.URL[len("http"):]+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

// readUntil reads server messages until one of the wanted type arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want server.ServerMessageType) server.ServerMessage {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read while waiting for %q: %v", want, err)
		}
		var msg server.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal server message: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func sendControl(t *testing.T, ctx context.Context, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write control: %v", err)
	}
}

// pcmFrame builds a little-endian PCM16 payload of n samples at a constant
// amplitude in [-1, 1].
func pcmFrame(n int, amplitude float64) []byte {
	val := int16(amplitude * 32767)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(val))
	}
	return buf
}

func sendAudio(t *testing.T, ctx context.Context, conn *websocket.Conn, payload []byte) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

// frameSamples for the default 16 kHz / 100 ms geometry.
const frameSamples = 1600

func TestSession_ReadyMessage(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)

	msg := readUntil(t, ctx, conn, server.EvtReady)
	if msg.SessionID == "" {
		t.Error("ready message should carry a session ID")
	}
}

func TestSession_SpeechStartAndEnd(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	sendAudio(t, ctx, conn, pcmFrame(frameSamples, 0.05))
	readUntil(t, ctx, conn, server.EvtSpeechStarted)

	for i := 0; i < 12; i++ {
		sendAudio(t, ctx, conn, pcmFrame(frameSamples, 0.0))
	}
	readUntil(t, ctx, conn, server.EvtSpeechEnded)
}

func TestSession_FrameAssemblyAcrossMessages(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	// One loud frame split into two binary payloads.
	full := pcmFrame(frameSamples, 0.05)
	sendAudio(t, ctx, conn, full[:len(full)/2])
	sendAudio(t, ctx, conn, full[len(full)/2:])

	readUntil(t, ctx, conn, server.EvtSpeechStarted)
}

func TestSession_StatsRequest(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	sendControl(t, ctx, conn, `{"type":"stats"}`)
	msg := readUntil(t, ctx, conn, server.EvtStats)
	if msg.Stats == nil {
		t.Fatal("stats message missing payload")
	}
	if msg.Stats.Threshold != 0.005 {
		t.Errorf("threshold = %g, want 0.005", msg.Stats.Threshold)
	}
}

func TestSession_SetThreshold(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	sendControl(t, ctx, conn, `{"type":"set_threshold","threshold":0.02}`)
	sendControl(t, ctx, conn, `{"type":"stats"}`)
	msg := readUntil(t, ctx, conn, server.EvtStats)
	if msg.Stats.Threshold != 0.02 {
		t.Errorf("threshold = %g, want 0.02", msg.Stats.Threshold)
	}
}

func TestSession_InvalidControlReturnsError(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	sendControl(t, ctx, conn, `{"type":"self_destruct"}`)
	msg := readUntil(t, ctx, conn, server.EvtError)
	if msg.Error == "" {
		t.Error("error message should carry a description")
	}
}

func TestSession_NegativeThresholdRejected(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	sendControl(t, ctx, conn, `{"type":"set_threshold","threshold":-1}`)
	readUntil(t, ctx, conn, server.EvtError)

	// Threshold must be unchanged.
	sendControl(t, ctx, conn, `{"type":"stats"}`)
	msg := readUntil(t, ctx, conn, server.EvtStats)
	if msg.Stats.Threshold != 0.005 {
		t.Errorf("threshold = %g, want unchanged 0.005", msg.Stats.Threshold)
	}
}

func TestSession_PauseSuppressesDetection(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	sendControl(t, ctx, conn, `{"type":"pause"}`)
	sendAudio(t, ctx, conn, pcmFrame(frameSamples, 0.05))
	sendControl(t, ctx, conn, `{"type":"stats"}`)

	// The stats reply arriving without a preceding speech_started shows the
	// paused frame was ignored.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg server.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type == server.EvtSpeechStarted {
			t.Fatal("speech event emitted while paused")
		}
		if msg.Type == server.EvtStats {
			return
		}
	}
}

func TestSession_CalibrationReportsResult(t *testing.T) {
	cfg := testConfig()
	cfg.VAD.CalibrationFrames = 5
	srv := server.New(cfg, newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	sendControl(t, ctx, conn, `{"type":"calibrate"}`)
	for i := 0; i < 5; i++ {
		sendAudio(t, ctx, conn, pcmFrame(frameSamples, 0.002))
	}

	msg := readUntil(t, ctx, conn, server.EvtCalibrated)
	if msg.Threshold <= 0 {
		t.Errorf("calibrated threshold = %g, want positive", msg.Threshold)
	}
	if msg.Ambient <= 0 {
		t.Errorf("calibrated ambient = %g, want positive", msg.Ambient)
	}
}

func TestSession_CalibrateDuringPlaybackRejected(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	sendControl(t, ctx, conn, `{"type":"playback_started"}`)
	sendControl(t, ctx, conn, `{"type":"calibrate"}`)
	msg := readUntil(t, ctx, conn, server.EvtError)
	if msg.Error == "" {
		t.Error("error message should carry a description")
	}

	// The playback cycle still restores the configured base threshold.
	sendControl(t, ctx, conn, `{"type":"playback_finished"}`)
	sendControl(t, ctx, conn, `{"type":"stats"}`)
	stats := readUntil(t, ctx, conn, server.EvtStats)
	if stats.Stats.Threshold != 0.005 {
		t.Errorf("threshold = %g after playback cycle, want base 0.005", stats.Stats.Threshold)
	}
}

func TestServer_SessionCount(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	if n := srv.SessionCount(); n != 0 {
		t.Fatalf("initial session count = %d, want 0", n)
	}

	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	if n := srv.SessionCount(); n != 1 {
		t.Errorf("session count = %d, want 1", n)
	}
}

func TestServer_UpdateConfigReachesLiveSessions(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	cfg := testConfig()
	cfg.VAD.CalibrationMultiplier = 3.5
	srv.UpdateConfig(cfg)

	// The session must still be responsive after the tuning pass.
	sendControl(t, ctx, conn, `{"type":"stats"}`)
	readUntil(t, ctx, conn, server.EvtStats)
}

func TestServer_Shutdown(t *testing.T) {
	srv := server.New(testConfig(), newTestMetrics(t), nil)
	conn, ctx := dial(t, srv)
	readUntil(t, ctx, conn, server.EvtReady)

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := srv.SessionCount(); n != 0 {
		t.Errorf("session count after shutdown = %d, want 0", n)
	}

	// The client should observe the connection closing.
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(readCtx); err != nil {
			break
		}
	}
}

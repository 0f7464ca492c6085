package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/veskar/tacet/internal/config"
	"github.com/veskar/tacet/internal/observe"
	"github.com/veskar/tacet/internal/profilestore"
	"github.com/veskar/tacet/pkg/audio"
	"github.com/veskar/tacet/pkg/vad/energy"
)

// Server accepts WebSocket connections and runs one detection session per
// connection.
type Server struct {
	metrics  *observe.Metrics
	profiles profilestore.Store // nil when profile persistence is disabled

	mu       sync.Mutex
	cfg      *config.Config
	sessions map[string]*session
	closed   bool
}

// New creates a Server. profiles may be nil to disable calibration profile
// persistence.
func New(cfg *config.Config, m *observe.Metrics, profiles profilestore.Store) *Server {
	return &Server{
		metrics:  m,
		profiles: profiles,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// Register adds the /ws route to mux.
func (srv *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", srv.HandleWS)
}

// SessionCount returns the number of live sessions.
func (srv *Server) SessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

// UpdateConfig installs a hot-reloaded config: new sessions pick up every
// field, and the safe tuning subset is pushed into live sessions.
func (srv *Server) UpdateConfig(cfg *config.Config) {
	srv.mu.Lock()
	srv.cfg = cfg
	live := make([]*session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		live = append(live, s)
	}
	srv.mu.Unlock()

	t := cfg.Tuning()
	for _, s := range live {
		s.applyTuning(t)
	}
	slog.Info("server: tuning applied to live sessions", "sessions", len(live))
}

// Shutdown closes all live sessions. The server stops accepting new
// connections once its HTTP listener is shut down by the caller.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.mu.Lock()
	srv.closed = true
	live := make([]*session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		live = append(live, s)
	}
	srv.sessions = make(map[string]*session)
	srv.mu.Unlock()

	for _, s := range live {
		s.close()
		s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// HandleWS upgrades the connection and runs the session until the client
// disconnects.
func (srv *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}

	id := uuid.NewString()
	ctx, span := observe.StartSpan(r.Context(), "vad.session",
		trace.WithAttributes(attribute.String("session_id", id)),
	)
	defer span.End()
	log := observe.Logger(ctx).With("session_id", id)

	sess, err := srv.newSession(ctx, id, conn, log)
	if err != nil {
		log.Error("session setup failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		sess.close()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	srv.sessions[id] = sess
	srv.mu.Unlock()

	srv.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("session opened", "remote", r.RemoteAddr)

	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, id)
		srv.mu.Unlock()
		sess.close()
		srv.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		log.Info("session closed")
	}()

	sess.sendEvent(ctx, ServerMessage{Type: EvtReady, SessionID: id})

	srv.readLoop(ctx, sess)
	conn.Close(websocket.StatusNormalClosure, "")
}

// newSession builds a session with a detector configured from the current
// config and wired to the connection.
func (srv *Server) newSession(ctx context.Context, id string, conn *websocket.Conn, log *slog.Logger) (*session, error) {
	srv.mu.Lock()
	cfg := srv.cfg
	srv.mu.Unlock()

	sess := &session{
		id:       id,
		conn:     conn,
		metrics:  srv.metrics,
		profiles: srv.profiles,
		log:      log,
		decoder: &audio.Decoder{
			Encoding:   cfg.Audio.Encoding,
			SampleRate: cfg.VAD.SampleRate,
		},
	}

	det, err := energy.New(energy.Config{
		SampleRate:            cfg.VAD.SampleRate,
		FrameLength:           cfg.VAD.FrameLength(),
		InitialThreshold:      cfg.VAD.InitialThreshold,
		CalibrationMultiplier: cfg.VAD.CalibrationMultiplier,
		TTSMultiplier:         cfg.VAD.TTSMultiplier,
		MaxThreshold:          cfg.VAD.MaxThreshold,
		TTSCeiling:            cfg.VAD.TTSCeiling,
		CalibrationFrames:     cfg.VAD.CalibrationFrames,
		CalibrationTimeout:    cfg.VAD.CalibrationTimeout(),
		OnActivity: func(a energy.Activity) {
			sess.onActivity(ctx, a)
		},
		OnDroppedEvent: func() {
			srv.metrics.DroppedEvents.Add(context.WithoutCancel(ctx), 1)
		},
		OnCalibrationComplete: func(ambient, threshold float64) {
			sess.onCalibrated(ctx, ambient, threshold)
		},
		OnCalibrationAbandoned: func(reason string) {
			sess.onCalibrationAbandoned(context.WithoutCancel(ctx), reason)
		},
		OnSuppressed: func() {
			srv.metrics.PlaybackSuppressions.Add(context.WithoutCancel(ctx), 1)
		},
	})
	if err != nil {
		return nil, err
	}

	sess.detector = det
	sess.frameSamples = det.FrameSamples()

	det.Start()
	if cfg.VAD.CalibrateOnConnect {
		sess.mu.Lock()
		sess.calibStart = time.Now()
		sess.mu.Unlock()
		if err := det.StartCalibration(); err != nil {
			log.Warn("initial calibration failed to start", "err", err)
		}
	}
	return sess, nil
}

// readLoop pumps messages until the connection drops or ctx is cancelled.
func (srv *Server) readLoop(ctx context.Context, sess *session) {
	for {
		typ, data, err := sess.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			sess.log.Debug("read loop ended", "err", err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			sess.handleAudio(ctx, data)
		case websocket.MessageText:
			sess.handleControl(ctx, data)
		}
	}
}

// Package server exposes voice activity detection over WebSocket.
//
// Clients stream audio as binary messages and drive the session with small
// JSON control messages; the server pushes detection events back as JSON.
// One WebSocket connection corresponds to one detection session.
package server

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// ClientMessageType enumerates the control messages a client may send.
type ClientMessageType string

const (
	// MsgHello identifies the client's device so a stored calibration
	// profile can seed the session threshold.
	MsgHello ClientMessageType = "hello"

	MsgStart  ClientMessageType = "start"
	MsgStop   ClientMessageType = "stop"
	MsgPause  ClientMessageType = "pause"
	MsgResume ClientMessageType = "resume"
	MsgReset  ClientMessageType = "reset"

	// MsgCalibrate starts an ambient noise calibration pass.
	MsgCalibrate ClientMessageType = "calibrate"

	// MsgPlaybackStarted / MsgPlaybackFinished bracket output playback so
	// the detector can guard against picking up its own audio.
	MsgPlaybackStarted  ClientMessageType = "playback_started"
	MsgPlaybackFinished ClientMessageType = "playback_finished"

	MsgSetThreshold     ClientMessageType = "set_threshold"
	MsgSetMultiplier    ClientMessageType = "set_multiplier"
	MsgSetTTSMultiplier ClientMessageType = "set_tts_multiplier"

	// MsgStats requests an energy statistics snapshot.
	MsgStats ClientMessageType = "stats"
)

// ClientMessage is the JSON envelope for client control messages. Fields
// beyond Type are interpreted per message type.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// DeviceID accompanies MsgHello.
	DeviceID string `json:"device_id,omitempty"`

	// Threshold accompanies MsgSetThreshold.
	Threshold float64 `json:"threshold,omitempty"`

	// Multiplier accompanies MsgSetMultiplier and MsgSetTTSMultiplier.
	Multiplier float64 `json:"multiplier,omitempty"`
}

// ServerMessageType enumerates the messages the server pushes to clients.
type ServerMessageType string

const (
	// EvtReady confirms session setup and carries the session ID.
	EvtReady ServerMessageType = "ready"

	EvtSpeechStarted ServerMessageType = "speech_started"
	EvtSpeechEnded   ServerMessageType = "speech_ended"

	// EvtCalibrated reports a completed calibration pass.
	EvtCalibrated ServerMessageType = "calibrated"

	EvtStats ServerMessageType = "stats"
	EvtError ServerMessageType = "error"
)

// StatsPayload is the JSON form of an energy statistics snapshot.
type StatsPayload struct {
	Current   float64 `json:"current"`
	Threshold float64 `json:"threshold"`
	Ambient   float64 `json:"ambient"`
	RecentAvg float64 `json:"recent_avg"`
	RecentMax float64 `json:"recent_max"`
}

// ServerMessage is the JSON envelope for server-to-client messages.
type ServerMessage struct {
	Type ServerMessageType `json:"type"`

	// SessionID accompanies EvtReady.
	SessionID string `json:"session_id,omitempty"`

	// Ambient and Threshold accompany EvtCalibrated.
	Ambient   float64 `json:"ambient,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`

	// Stats accompanies EvtStats.
	Stats *StatsPayload `json:"stats,omitempty"`

	// Error accompanies EvtError.
	Error string `json:"error,omitempty"`
}

// DecodeClientMessage parses a client control message. It rejects messages
// without a recognised type so protocol mismatches surface immediately.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("server: decode control message: %w", err)
	}
	switch msg.Type {
	case MsgHello, MsgStart, MsgStop, MsgPause, MsgResume, MsgReset,
		MsgCalibrate, MsgPlaybackStarted, MsgPlaybackFinished,
		MsgSetThreshold, MsgSetMultiplier, MsgSetTTSMultiplier, MsgStats:
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("server: control message missing type")
	default:
		return ClientMessage{}, fmt.Errorf("server: unknown control message type %q", msg.Type)
	}
}

// EncodeServerMessage serialises a server message to JSON.
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("server: encode message: %w", err)
	}
	return data, nil
}

package vad

// Event represents a voice activity detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Energy is the RMS energy of the analysed frame.
	Energy float64
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended.
	SpeechEnd

	// Silence indicates no speech detected.
	Silence
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	}
	return "unknown"
}

// Statistics is a read-only snapshot of a session's recent energy history,
// intended for diagnostics dashboards. All values are RMS energies in the
// normalized sample domain.
type Statistics struct {
	// Current is the energy of the most recently processed frame.
	Current float64

	// Threshold is the active detection threshold.
	Threshold float64

	// Ambient is the noise level measured by the last completed calibration,
	// or 0 when no calibration has completed.
	Ambient float64

	// RecentAvg is the mean energy over the rolling window.
	RecentAvg float64

	// RecentMax is the peak energy over the rolling window.
	RecentMax float64
}

package energy

// Activity is a discrete speech activity transition emitted by the detector.
type Activity int

const (
	// ActivityStarted signals the beginning of a user utterance.
	ActivityStarted Activity = iota

	// ActivityEnded signals the end of a user utterance.
	ActivityEnded
)

// String returns the wire name of the activity.
func (a Activity) String() string {
	if a == ActivityStarted {
		return "speech_started"
	}
	return "speech_ended"
}

// activityNone marks a frame that produced no transition.
const activityNone Activity = -1

// stateMachine turns per-frame voice/silence booleans into speech
// started/ended transitions using hysteresis: a run of consecutive voiced
// frames is required to enter the speaking state, and a run of consecutive
// silent frames to leave it, so noisy input does not toggle rapidly.
//
// While ttsActive the elevated start/end runs apply, and a start transition
// is suppressed entirely — sustained voice during playback is far more
// likely feedback from the loudspeaker than the user.
//
// Not safe for concurrent use; the owning Detector serialises access.
type stateMachine struct {
	startFrames    int // consecutive voiced frames to enter speaking
	endFrames      int // consecutive silent frames to leave speaking
	ttsStartFrames int // start run while TTS playback is active
	ttsEndFrames   int // end run while TTS playback is active

	consecVoice  int
	consecSilent int
	speaking     bool
}

// observe feeds one frame classification into the machine. It returns the
// transition to emit (activityNone for no transition) and whether a start
// transition was suppressed because TTS playback is active.
//
// Invariant: consecVoice and consecSilent are never both positive — one is
// cleared whenever the other increments. The function is total over
// (speaking, hasVoice); no input can fault.
func (m *stateMachine) observe(hasVoice, ttsActive bool) (Activity, bool) {
	start, end := m.startFrames, m.endFrames
	if ttsActive {
		start, end = m.ttsStartFrames, m.ttsEndFrames
	}

	if hasVoice {
		m.consecVoice++
		m.consecSilent = 0

		if !m.speaking && m.consecVoice >= start {
			if ttsActive {
				// Clearing the counter prevents an instant trigger on the
				// first voiced frame after playback finishes: without it the
				// run keeps accumulating for the whole playback duration.
				m.consecVoice = 0
				return activityNone, true
			}
			m.speaking = true
			return ActivityStarted, false
		}
		return activityNone, false
	}

	m.consecSilent++
	m.consecVoice = 0

	if m.speaking && m.consecSilent >= end {
		m.speaking = false
		return ActivityEnded, false
	}
	return activityNone, false
}

// forceEnd leaves the speaking state immediately, bypassing the end-run
// hysteresis, and clears both counters. It reports whether an ended
// transition should be emitted (true only when the machine was speaking).
func (m *stateMachine) forceEnd() bool {
	wasSpeaking := m.speaking
	m.speaking = false
	m.consecVoice = 0
	m.consecSilent = 0
	return wasSpeaking
}

// reset returns the machine to a pristine silence state without emitting
// anything. Callers that need a guaranteed ended transition for an in-flight
// utterance must use forceEnd instead.
func (m *stateMachine) reset() {
	m.speaking = false
	m.consecVoice = 0
	m.consecSilent = 0
}

package audio

import "time"

// Frame represents a single fixed-duration chunk of audio flowing into the
// detector. Frames are the atomic unit of processing — captured from an input
// stream, decoded to normalized float samples, and consumed by VAD.
//
// A Frame is immutable once constructed: create one per captured buffer and
// discard it after processing.
type Frame struct {
	// Samples holds normalized float samples in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for STT-grade capture, 8000 for telephony).
	SampleRate int

	// Duration is the nominal length of this frame (e.g., 100ms).
	Duration time.Duration
}

// NumSamples returns the number of samples in the frame.
func (f Frame) NumSamples() int { return len(f.Samples) }

// Encoding identifies the wire format of incoming audio payloads.
type Encoding string

const (
	// EncodingPCM16 is 16-bit little-endian signed linear PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingULaw is G.711 µ-law companded audio (telephony, 8 kHz).
	EncodingULaw Encoding = "ulaw"
)

// IsValid reports whether e is a recognised audio encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingPCM16 || e == EncodingULaw
}

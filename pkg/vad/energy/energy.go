// Package energy implements an adaptive energy-based voice activity detector.
//
// The detector classifies fixed-duration audio frames as voiced or silent by
// comparing their RMS energy against an adaptive threshold, then runs the
// per-frame booleans through a hysteresis state machine that emits discrete
// speech started/ended events. The threshold is derived from ambient noise
// during a bounded calibration window and temporarily elevated while the
// host application plays back its own synthesized speech, so the microphone
// picking up that playback does not register as user speech.
//
// A [Detector] is an explicitly owned instance: construct one per audio
// stream and close it when the stream ends. There is no package-level shared
// detector.
package energy

import "math"

// RMS returns the root-mean-square energy of the given samples,
// sqrt(mean(x²)). An empty or nil slice yields 0.
func RMS(samples []float32) float64 {
	return math.Sqrt(meanSquare(samples))
}

// meanSquare returns sum(x²)/n without the final sqrt. The hot path compares
// this against the squared threshold so no per-frame sqrt is needed; callers
// that need true RMS apply math.Sqrt themselves.
func meanSquare(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, x := range samples {
		v := float64(x)
		sum += v * v
	}
	return sum / float64(len(samples))
}

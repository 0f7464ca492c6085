package energy

import (
	"sort"
	"time"
)

// calibration is a transient warm-up session that collects per-frame RMS
// energies until enough frames arrive or the timeout fires, whichever comes
// first. It exists only between StartCalibration and completion; the
// Detector owns it exclusively and drops the reference once finished.
type calibration struct {
	samples      []float64
	framesNeeded int
	timer        *time.Timer
}

// observe appends one energy sample and reports whether the session has
// collected enough frames to complete.
func (c *calibration) observe(energy float64) bool {
	c.samples = append(c.samples, energy)
	return len(c.samples) >= c.framesNeeded
}

// cancel stops the timeout timer, if any.
func (c *calibration) cancel() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// deriveThreshold computes the ambient noise level and detection threshold
// from a set of collected energy samples.
//
// The ambient estimate is the 90th percentile of the sorted samples — robust
// against the occasional transient spike (a cough, a dropped object) that
// would wreck a mean or max estimator. The threshold is the ambient level
// scaled by multiplier, floored at max(ambient*2, minThreshold) and capped
// at maxThreshold to bound how insensitive a noisy room can make the
// detector.
//
// ok is false when samples is empty; callers must then leave the existing
// threshold untouched.
func deriveThreshold(samples []float64, multiplier, minThreshold, maxThreshold float64) (ambient, threshold float64, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)-1) * 0.90)
	ambient = sorted[idx]

	floor := ambient * 2.0
	if floor < minThreshold {
		floor = minThreshold
	}

	threshold = ambient * multiplier
	if threshold < floor {
		threshold = floor
	}
	if threshold > maxThreshold {
		threshold = maxThreshold
	}
	return ambient, threshold, true
}

// clamp bounds v to the inclusive range [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

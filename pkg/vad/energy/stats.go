package energy

import "math"

// energyWindow is a fixed-capacity ring buffer of recent per-frame
// mean-square energies. The hot path stores mean-square values to avoid a
// per-frame sqrt; snapshot converts back to RMS since it is called on
// demand, not per frame.
//
// Not safe for concurrent use; the owning Detector serialises access.
type energyWindow struct {
	values   []float64
	writeIdx int
	count    int
}

func newEnergyWindow(capacity int) *energyWindow {
	return &energyWindow{values: make([]float64, capacity)}
}

// push appends one mean-square energy, overwriting the oldest entry once
// the window is full.
func (w *energyWindow) push(meanSq float64) {
	if len(w.values) == 0 {
		return
	}
	w.values[w.writeIdx] = meanSq
	w.writeIdx++
	if w.writeIdx >= len(w.values) {
		w.writeIdx = 0
	}
	if w.count < len(w.values) {
		w.count++
	}
}

// reset empties the window. The backing array is reused; only the indices
// are cleared.
func (w *energyWindow) reset() {
	w.writeIdx = 0
	w.count = 0
}

// snapshot returns the RMS energy of the newest entry plus the average and
// maximum RMS over the retained window. All values are 0 when the window is
// empty.
func (w *energyWindow) snapshot() (current, avg, max float64) {
	if w.count == 0 {
		return 0, 0, 0
	}

	lastIdx := w.writeIdx - 1
	if lastIdx < 0 {
		lastIdx = len(w.values) - 1
	}
	current = math.Sqrt(w.values[lastIdx])

	for i := 0; i < w.count; i++ {
		v := math.Sqrt(w.values[i])
		avg += v
		if v > max {
			max = v
		}
	}
	avg /= float64(w.count)
	return current, avg, max
}

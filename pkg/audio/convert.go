package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/zaf/g711"
)

// Decoder converts raw wire payloads into normalized [Frame] values for a
// single stream. It logs a warning on the first malformed payload and drops
// it instead of failing. Create one per stream; not designed for shared use
// across goroutines.
type Decoder struct {
	// Encoding of incoming payloads. Zero value decodes as PCM16.
	Encoding Encoding

	// SampleRate stamped onto produced frames.
	SampleRate int

	warnedCorrupt sync.Once
}

// Decode converts one payload into a Frame. Malformed payloads (odd byte
// count for PCM16) produce an empty frame, which downstream VAD treats as
// zero energy.
func (d *Decoder) Decode(payload []byte) Frame {
	pcm := payload
	if d.Encoding == EncodingULaw {
		pcm = g711.DecodeUlaw(payload)
	}

	if len(pcm)%2 != 0 {
		d.warnedCorrupt.Do(func() {
			slog.Warn("audio decoder: odd byte count in PCM data, dropping payload",
				"bytes", len(pcm),
				"encoding", d.Encoding,
				"sampleRate", d.SampleRate,
			)
		})
		return Frame{SampleRate: d.SampleRate}
	}

	samples := SamplesFromPCM16(pcm)
	return Frame{
		Samples:    samples,
		SampleRate: d.SampleRate,
		Duration:   frameDuration(len(samples), d.SampleRate),
	}
}

// SamplesFromPCM16 converts 16-bit little-endian signed PCM bytes into
// normalized float32 samples in [-1, 1]. A trailing odd byte is ignored.
func SamplesFromPCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// PCM16FromSamples converts normalized float32 samples back into 16-bit
// little-endian PCM bytes, clamping out-of-range values.
func PCM16FromSamples(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, v := range samples {
		scaled := float64(v) * 32767.0
		s := int16(math.Round(math.Max(-32768, math.Min(32767, scaled))))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// frameDuration derives the nominal frame duration from the sample count.
func frameDuration(numSamples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(numSamples) / float64(sampleRate) * float64(time.Second))
}

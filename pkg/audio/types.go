// Package audio turns captured microphone audio into the transport encoding
// expected by the streaming service: mono 16-bit signed little-endian PCM at a
// fixed target rate.
//
// The package is deliberately stateless on the conversion side. Every
// [AudioFrame] is resampled and encoded on its own by [Encode]; chunking (and
// therefore latency) is decided by the [Capture] that produced it.
package audio

import "time"

// Target sample rates accepted by the streaming service.
const (
	RateNarrowband = 8000
	RateCD         = 44100
)

// AudioFrame is one chunk of captured mono audio. Samples are normalised to
// [-1.0, 1.0]; values outside that range are clamped during encoding.
type AudioFrame struct {
	// Samples holds the captured audio, one value per sample.
	Samples []float32

	// SampleRate is the capture device rate in Hz (e.g. 48000, 44100).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// UnsupportedRateError is returned by [Encode] and [Resample] when asked to
// upsample or when either rate is not positive. It is local to the call; the
// caller may keep using the encoder for later frames.
type UnsupportedRateError struct {
	Source int
	Target int
}

func (e *UnsupportedRateError) Error() string {
	if e.Source <= 0 || e.Target <= 0 {
		return fmt.Sprintf("audio: invalid sample rates %dHz -> %dHz", e.Source, e.Target)
	}
	return fmt.Sprintf("audio: cannot upsample %dHz -> %dHz", e.Source, e.Target)
}

// Encode resamples frame to targetRate and returns it as little-endian
// 16-bit PCM. The result always has an even byte length.
func Encode(frame AudioFrame, targetRate int) ([]byte, error) {
	samples, err := Resample(frame.Samples, frame.SampleRate, targetRate)
	if err != nil {
		return nil, err
	}
	return EncodePCM16(samples), nil
}

// Resample downsamples mono samples from srcRate to dstRate. Each output tick
// is linearly interpolated between the two nearest source samples. The output
// holds round(len(samples) * dstRate / srcRate) samples. If the rates are
// equal the input slice is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 || dstRate > srcRate {
		return nil, &UnsupportedRateError{Source: srcRate, Target: dstRate}
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples, nil
	}

	n := int(math.Round(float64(len(samples)) * float64(dstRate) / float64(srcRate)))
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1

	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out, nil
}

// EncodePCM16 clamps every sample to [-1.0, 1.0], scales it by 32767 and
// writes it as a little-endian int16.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// FrameFromPCM16 converts little-endian int16 PCM into a normalised
// [AudioFrame]. A trailing odd byte is ignored. When channels is 2 the
// interleaved stereo input is averaged down to mono first.
func FrameFromPCM16(pcm []byte, sampleRate, channels int) AudioFrame {
	if channels == 2 {
		pcm = StereoToMono(pcm)
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return AudioFrame{Samples: samples, SampleRate: sampleRate}
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

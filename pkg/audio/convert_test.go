package audio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestEncode_SilenceLengths(t *testing.T) {
	t.Parallel()
	tests := []struct {
		src, dst, in int
	}{
		{48000, 44100, 4800},
		{48000, 8000, 4800},
		{44100, 44100, 4410},
		{44100, 8000, 1000},
		{16000, 8000, 3},
		{22050, 8000, 1},
		{96000, 44100, 12345},
	}
	for _, tc := range tests {
		frame := audio.AudioFrame{Samples: make([]float32, tc.in), SampleRate: tc.src}
		pcm, err := audio.Encode(frame, tc.dst)
		if err != nil {
			t.Fatalf("%d->%d: Encode: %v", tc.src, tc.dst, err)
		}
		if len(pcm)%2 != 0 {
			t.Errorf("%d->%d: odd byte length %d", tc.src, tc.dst, len(pcm))
		}
		want := int(math.Round(float64(tc.in) * float64(tc.dst) / float64(tc.src)))
		got := bytesToSamples(pcm)
		if len(got) != want {
			t.Errorf("%d->%d: got %d samples, want %d", tc.src, tc.dst, len(got), want)
		}
		for i, s := range got {
			if s != 0 {
				t.Fatalf("%d->%d: sample %d = %d, want 0", tc.src, tc.dst, i, s)
			}
		}
	}
}

func TestEncode_Upsample(t *testing.T) {
	t.Parallel()
	frame := audio.AudioFrame{Samples: []float32{0.1, 0.2}, SampleRate: 8000}
	_, err := audio.Encode(frame, 44100)
	var rateErr *audio.UnsupportedRateError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected UnsupportedRateError, got %v", err)
	}
	if rateErr.Source != 8000 || rateErr.Target != 44100 {
		t.Errorf("unexpected rates in error: %+v", rateErr)
	}
}

func TestEncode_InvalidRate(t *testing.T) {
	t.Parallel()
	_, err := audio.Encode(audio.AudioFrame{Samples: []float32{0}, SampleRate: 0}, 8000)
	var rateErr *audio.UnsupportedRateError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected UnsupportedRateError, got %v", err)
	}
}

func TestEncode_SameRatePassThrough(t *testing.T) {
	t.Parallel()
	frame := audio.AudioFrame{Samples: []float32{0, 0.5, -0.5, 1, -1}, SampleRate: 44100}
	pcm, err := audio.Encode(frame, 44100)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := bytesToSamples(pcm)
	want := []int16{0, 16383, -16383, 32767, -32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodePCM16_Clamps(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.EncodePCM16([]float32{2.5, -7}))
	if got[0] != 32767 {
		t.Errorf("positive overflow: got %d, want 32767", got[0])
	}
	if got[1] != -32767 {
		t.Errorf("negative overflow: got %d, want -32767", got[1])
	}
}

func TestResample_Interpolates(t *testing.T) {
	t.Parallel()
	// 4 samples at 16kHz -> 2 samples at 8kHz, ticks at source positions 0 and 2.
	out, err := audio.Resample([]float32{0, 0.25, 0.5, 0.75}, 16000, 8000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[0] != 0 || out[1] != 0.5 {
		t.Errorf("got %v, want [0 0.5]", out)
	}

	// 3 -> 2 puts the second tick halfway between source samples 1 and 2.
	out, err = audio.Resample([]float32{0, 0.2, 0.4}, 48000, 32000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if d := math.Abs(float64(out[1]) - 0.3); d > 1e-6 {
		t.Errorf("interpolated sample = %f, want 0.3", out[1])
	}
}

func TestFrameFromPCM16(t *testing.T) {
	t.Parallel()
	frame := audio.FrameFromPCM16(samplesToBytes([]int16{0, 16384, -32768}), 16000, 1)
	if frame.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", frame.SampleRate)
	}
	want := []float32{0, 0.5, -1}
	if len(frame.Samples) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(frame.Samples), len(want))
	}
	for i := range want {
		if frame.Samples[i] != want[i] {
			t.Errorf("sample %d: got %f, want %f", i, frame.Samples[i], want[i])
		}
	}
}

func TestFrameFromPCM16_OddTrailingByte(t *testing.T) {
	t.Parallel()
	frame := audio.FrameFromPCM16([]byte{0x64, 0x00, 0xFF}, 8000, 1)
	if len(frame.Samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(frame.Samples))
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	mono := audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200}))
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_NoOverflow(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{32767, 32767})))
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

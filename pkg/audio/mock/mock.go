// Package mock provides an in-memory [audio.Capture] for use in unit tests.
//
// The mock is safe for concurrent use. Tests push frames through FramesCh and
// inspect StopCount to assert that the capture device was released.
//
// Typical usage:
//
//	c := mock.NewCapture(48000)
//	c.FramesCh <- audio.AudioFrame{Samples: samples, SampleRate: 48000}
//	// run the system under test …
//	if c.StopCount() != 1 { … }
package mock

import (
	"sync"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu sync.Mutex

	// FramesCh is returned by Frames. Stop closes it exactly once.
	FramesCh chan audio.AudioFrame

	// Rate is returned by SampleRate.
	Rate int

	// StopErr is returned by every Stop call when non-nil.
	StopErr error

	stopCount int
	closed    bool
}

// NewCapture returns a Capture with a buffered frame channel.
func NewCapture(rate int) *Capture {
	return &Capture{
		FramesCh: make(chan audio.AudioFrame, 16),
		Rate:     rate,
	}
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.FramesCh }

// SampleRate implements [audio.Capture].
func (c *Capture) SampleRate() int { return c.Rate }

// Stop implements [audio.Capture]. It records the call and closes FramesCh on
// the first invocation.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCount++
	if !c.closed {
		c.closed = true
		close(c.FramesCh)
	}
	return c.StopErr
}

// StopCount returns how many times Stop was called.
func (c *Capture) StopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCount
}

// Ensure Capture implements audio.Capture at compile time.
var _ audio.Capture = (*Capture)(nil)

package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Capture is a running audio source. It delivers frames until it is stopped
// or its underlying input is exhausted, then closes the Frames channel.
//
// Stop releases the capture device. It is safe to call more than once and
// from any goroutine.
type Capture interface {
	// Frames returns the channel of captured frames.
	Frames() <-chan AudioFrame

	// SampleRate reports the capture device rate in Hz.
	SampleRate() int

	// Stop halts capturing and releases the device.
	Stop() error
}

// ReaderCaptureConfig configures [NewReaderCapture].
type ReaderCaptureConfig struct {
	// SampleRate of the PCM input in Hz. Required.
	SampleRate int

	// Channels of the interleaved PCM input: 1 (default) or 2.
	Channels int

	// Chunk is the amount of audio per emitted frame. Default: 100ms.
	Chunk time.Duration

	// Realtime paces emission to wall-clock speed so a file behaves like a
	// live microphone.
	Realtime bool
}

// ReaderCapture reads raw little-endian int16 PCM from an io.Reader (a file,
// stdin or a pipe from an audio tool) and emits it as [AudioFrame] values.
type ReaderCapture struct {
	r      io.Reader
	cfg    ReaderCaptureConfig
	frames chan AudioFrame

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewReaderCapture starts reading r in a background goroutine. If r is an
// io.Closer it is closed by Stop.
func NewReaderCapture(r io.Reader, cfg ReaderCaptureConfig) (*ReaderCapture, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("audio: capture sample rate must be positive")
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, errors.New("audio: capture supports 1 or 2 channels")
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &ReaderCapture{
		r:      r,
		cfg:    cfg,
		frames: make(chan AudioFrame, 8),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

// Frames implements [Capture].
func (c *ReaderCapture) Frames() <-chan AudioFrame { return c.frames }

// SampleRate implements [Capture].
func (c *ReaderCapture) SampleRate() int { return c.cfg.SampleRate }

// Stop implements [Capture].
func (c *ReaderCapture) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		if closer, ok := c.r.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

// Done is closed once the reader goroutine has exited and Frames is closed.
func (c *ReaderCapture) Done() <-chan struct{} { return c.done }

func (c *ReaderCapture) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.frames)

	samplesPerChunk := int(int64(c.cfg.SampleRate) * int64(c.cfg.Chunk) / int64(time.Second))
	if samplesPerChunk < 1 {
		samplesPerChunk = 1
	}
	buf := make([]byte, samplesPerChunk*2*c.cfg.Channels)

	var ticker *time.Ticker
	if c.cfg.Realtime {
		ticker = time.NewTicker(c.cfg.Chunk)
		defer ticker.Stop()
	}

	var ts time.Duration
	for {
		n, err := io.ReadFull(c.r, buf)
		if n > 0 {
			frame := FrameFromPCM16(buf[:n], c.cfg.SampleRate, c.cfg.Channels)
			frame.Timestamp = ts
			ts += frame.Duration()

			select {
			case c.frames <- frame:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
				slog.Warn("audio capture: read failed", "err", err)
			}
			return
		}
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Package stream runs one real-time transcription session: it opens a
// presigned WebSocket, sends captured audio as event-stream frames, and
// folds the service's transcript events into a running transcript.
//
// A [Session] is single-use. It moves through the [State] machine exactly
// once and reports exactly one terminal outcome. Reconnecting means creating
// a new Session against a freshly signed URL.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/eventstream"
	"github.com/MrWong99/voxscribe/pkg/transcript"
)

// Observer receives session telemetry. Methods are called synchronously from
// session goroutines and must not block.
type Observer interface {
	StateChanged(from, to State)
	FrameSent(bytes int)
	FrameDropped(reason string)
	FrameReceived(messageType, eventType string)
	SegmentApplied(partial bool)
}

// Drop reasons passed to [Observer.FrameDropped].
const (
	DropBusy   = "busy"
	DropEncode = "encode"
	DropWrite  = "write"
)

type nopObserver struct{}

func (nopObserver) StateChanged(State, State)    {}
func (nopObserver) FrameSent(int)                {}
func (nopObserver) FrameDropped(string)          {}
func (nopObserver) FrameReceived(string, string) {}
func (nopObserver) SegmentApplied(bool)          {}

// Update is delivered to the update handler after each applied segment.
type Update struct {
	Segment transcript.Segment

	// Display is the full transcript text to render after the segment.
	Display string
}

// Result is the terminal outcome of a session.
type Result struct {
	State State

	// Err is nil for a normal close, otherwise a *ConnectError,
	// *ServiceException, *StreamError or frame decoding error.
	Err error

	// Transcript is the committed text at termination.
	Transcript string
}

// Message returns the single human-readable outcome message.
func (r Result) Message() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.State == StateClosed:
		return "Streaming finished."
	default:
		return r.State.String()
	}
}

// Option configures a [Session].
type Option func(*Session)

// WithDialer sets the transport dialer. Default: &WebSocketDialer{}.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithCapture attaches the audio capture the session releases on
// termination. The session does not read from it.
func WithCapture(c audio.Capture) Option {
	return func(s *Session) { s.capture = c }
}

// WithAggregator sets the transcript aggregator. Default: a new aggregator
// with no separator.
func WithAggregator(a *transcript.Aggregator) Option {
	return func(s *Session) { s.agg = a }
}

// WithObserver sets the telemetry observer.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithID sets the session ID. Default: a random UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// OnUpdate registers fn to be called, from the read goroutine, after every
// applied transcript segment.
func OnUpdate(fn func(Update)) Option {
	return func(s *Session) { s.onUpdate = fn }
}

// Session is one streaming transcription session. All methods are safe for
// concurrent use.
type Session struct {
	id       string
	dialer   Dialer
	capture  audio.Capture
	agg      *transcript.Aggregator
	observer Observer
	log      *slog.Logger
	onUpdate func(Update)

	mu    sync.Mutex
	state State
	err   error
	conn  Conn

	// writeMu serialises frame writes. Audio sends only TryLock it.
	writeMu sync.Mutex

	releaseOnce sync.Once
	cancelRead  context.CancelFunc
	done        chan struct{}
}

// New creates an idle session.
func New(opts ...Option) *Session {
	s := &Session{
		observer: nopObserver{},
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.dialer == nil {
		s.dialer = &WebSocketDialer{}
	}
	if s.agg == nil {
		s.agg = transcript.NewAggregator()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.log = s.log.With("session_id", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Transcript returns the current display text.
func (s *Session) Transcript() string { return s.agg.Display() }

// Result returns the session outcome. Before termination it reports the
// current state with a nil error.
func (s *Session) Result() Result {
	s.mu.Lock()
	st, err := s.state, s.err
	s.mu.Unlock()
	return Result{State: st, Err: err, Transcript: s.agg.Committed()}
}

// Wait blocks until the session terminates or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return s.Result(), ctx.Err()
	}
}

// Open dials rawURL and starts the read loop. On dial failure the session is
// Failed with a *ConnectError, which is also returned.
func (s *Session) Open(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.observer.StateChanged(StateIdle, StateConnecting)
	s.log.Debug("stream: connecting")

	conn, err := s.dialer.Dial(ctx, rawURL)
	if err != nil {
		cerr := &ConnectError{Err: err}
		s.finish(StateFailed, cerr)
		return cerr
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.conn = conn
	s.cancelRead = cancel
	s.state = StateStreaming
	s.mu.Unlock()
	s.observer.StateChanged(StateConnecting, StateStreaming)
	s.log.Info("stream: streaming")

	go s.readLoop(readCtx, conn)
	return nil
}

// SendAudio sends pcm as one audio event and reports whether it was written.
// Outside Streaming it is a no-op. While another write is in flight the
// chunk is dropped rather than queued. Empty chunks are ignored because a
// zero-length audio event ends the stream.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) bool {
	if len(pcm) == 0 || s.State() != StateStreaming {
		return false
	}
	if !s.writeMu.TryLock() {
		s.observer.FrameDropped(DropBusy)
		return false
	}
	defer s.writeMu.Unlock()

	// Close may have flushed between the state check and TryLock.
	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()
	if st != StateStreaming {
		return false
	}

	b, err := eventstream.Encode(AudioEvent(pcm))
	if err != nil {
		s.observer.FrameDropped(DropEncode)
		s.log.Warn("stream: encode audio event", "err", err, "bytes", len(pcm))
		return false
	}
	if err := conn.Write(ctx, b); err != nil {
		s.observer.FrameDropped(DropWrite)
		s.log.Debug("stream: write audio event", "err", err)
		return false
	}
	s.observer.FrameSent(len(b))
	return true
}

// Close ends the audio stream: it moves to Closing, writes exactly one
// zero-length audio event and returns. The session then waits for the
// service to close the transport; use Wait or Done to observe the outcome.
// Close on a closing or terminated session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStreaming:
	case StateClosing, StateClosed, StateFailed:
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		return ErrNotStreaming
	}
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()
	s.observer.StateChanged(StateStreaming, StateClosing)
	s.log.Debug("stream: closing")

	s.writeMu.Lock()
	b, err := eventstream.Encode(AudioEvent(nil))
	if err == nil {
		err = conn.Write(ctx, b)
	}
	s.writeMu.Unlock()
	if err != nil {
		s.finish(StateFailed, &StreamError{Code: StatusAbnormalClosure, Reason: "end of stream: " + err.Error()})
		return err
	}
	s.observer.FrameSent(len(b))
	return nil
}

// Abort fails a non-terminal session locally with a StreamError carrying
// StatusGoingAway and reason. It does not flush the audio stream. Abort on a
// terminated session is a no-op.
func (s *Session) Abort(reason string) {
	s.finish(StateFailed, &StreamError{Code: StatusGoingAway, Reason: reason})
}

func (s *Session) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.transportClosed(err)
			return
		}
		frame, err := eventstream.Decode(data)
		if err != nil {
			s.observer.FrameReceived("", "")
			s.finish(StateFailed, err)
			return
		}
		s.observer.FrameReceived(frame.MessageType(), frame.EventType())

		switch frame.MessageType() {
		case eventstream.MessageTypeEvent:
			s.handleEvent(frame)
		case eventstream.MessageTypeException:
			s.finish(StateFailed, exceptionFromFrame(frame))
			return
		default:
			s.finish(StateFailed, &eventstream.CorruptFrameError{
				Part:   "headers",
				Reason: "unknown message type " + frame.MessageType(),
			})
			return
		}
	}
}

func (s *Session) handleEvent(frame eventstream.Frame) {
	if frame.EventType() != transcript.EventType {
		s.log.Debug("stream: ignoring event", "event_type", frame.EventType())
		return
	}
	segs, err := transcript.ParseEvent(frame.Body)
	if err != nil {
		s.log.Warn("stream: malformed transcript event", "err", err)
		return
	}
	for _, seg := range segs {
		display := s.agg.Apply(seg)
		s.observer.SegmentApplied(seg.IsPartial)
		if s.onUpdate != nil {
			s.onUpdate(Update{Segment: seg, Display: display})
		}
	}
}

func (s *Session) transportClosed(err error) {
	code, reason := StatusAbnormalClosure, err.Error()
	var ce *CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Reason
	}
	if code == StatusNormalClosure {
		s.finish(StateClosed, nil)
		return
	}
	s.finish(StateFailed, &StreamError{Code: code, Reason: reason})
}

// finish moves the session into a terminal state. Only the first call has
// any effect.
func (s *Session) finish(to State, err error) {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	s.err = err
	conn, cancel := s.conn, s.cancelRead
	s.mu.Unlock()

	s.observer.StateChanged(from, to)
	s.release()

	if conn != nil {
		code, reason := StatusNormalClosure, ""
		if to == StateFailed {
			code, reason = StatusProtocolError, "session failed"
			var se *StreamError
			if errors.As(err, &se) {
				code, reason = StatusGoingAway, ""
			}
		}
		if cerr := conn.Close(code, reason); cerr != nil {
			s.log.Debug("stream: close transport", "err", cerr)
		}
	}
	if cancel != nil {
		cancel()
	}

	if err != nil {
		s.log.Error("stream: session failed", "err", err, "state", to.String())
	} else {
		s.log.Info("stream: session closed")
	}
	close(s.done)
}

// release stops the capture exactly once.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.capture == nil {
			return
		}
		if err := s.capture.Stop(); err != nil {
			s.log.Warn("stream: release capture", "err", err)
		}
	})
}

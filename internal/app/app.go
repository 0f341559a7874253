// Package app wires voxscribe's subsystems into one capture → transcribe →
// archive cycle.
//
// The App owns the configuration-derived pieces (endpoint, capture source,
// archive, publisher). Each call to Run creates a fresh streaming session
// against a freshly signed URL. Tests inject doubles through functional
// options (WithDialer, WithCaptureSource, WithStore, ...).
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/publish"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/sigv4"
	"github.com/MrWong99/voxscribe/pkg/storage"
	"github.com/MrWong99/voxscribe/pkg/storage/memory"
	"github.com/MrWong99/voxscribe/pkg/stream"
	"github.com/MrWong99/voxscribe/pkg/transcript"
)

const (
	// updateBuffer is the number of transcript updates queued for the
	// publisher before further updates are dropped.
	updateBuffer = 64

	defaultCloseTimeout = 5 * time.Second
	defaultDrainTimeout = 10 * time.Second

	defaultPublishTimeout = 5 * time.Second
)

// CaptureSource opens the audio capture for one run.
type CaptureSource func(ctx context.Context) (audio.Capture, error)

// resultPublisher is implemented by publishers that also announce session
// outcomes.
type resultPublisher interface {
	PublishResult(ctx context.Context, msg publish.ResultMessage) error
}

// App runs transcription sessions.
type App struct {
	cfg       *config.Config
	endpoint  stream.Endpoint
	dialer    stream.Dialer
	presigner *sigv4.Presigner
	capture   CaptureSource
	store     storage.Store
	records   *storage.Records
	publisher publish.Publisher
	metrics   *observe.Metrics
	log       *slog.Logger

	closeTimeout   time.Duration
	drainTimeout   time.Duration
	publishTimeout time.Duration

	mu      sync.Mutex
	current *stream.Session

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d stream.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithPresigner sets the presigner, typically to pin its clock.
func WithPresigner(p *sigv4.Presigner) Option {
	return func(a *App) { a.presigner = p }
}

// WithCaptureSource replaces the configured PCM reader capture.
func WithCaptureSource(src CaptureSource) Option {
	return func(a *App) { a.capture = src }
}

// WithStore sets the archive backend. Default: an in-memory store.
func WithStore(s storage.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPublisher sets the live transcript publisher. Default: publish.Discard.
// The App closes it on Shutdown.
func WithPublisher(p publish.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithCloser registers fn to run on Shutdown, after the publisher is closed.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// WithTimeouts overrides how long the end-of-stream flush may take and how
// long a cancelled run waits for the service to close before aborting.
func WithTimeouts(closeTimeout, drainTimeout time.Duration) Option {
	return func(a *App) {
		a.closeTimeout = closeTimeout
		a.drainTimeout = drainTimeout
	}
}

// WithPublishTimeout bounds each segment publication, and the flush of
// queued segments once the session has ended.
func WithPublishTimeout(d time.Duration) Option {
	return func(a *App) { a.publishTimeout = d }
}

// New creates an App from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	a := &App{
		cfg: cfg,
		endpoint: stream.Endpoint{
			Region:     cfg.Region,
			Language:   cfg.Language,
			SampleRate: cfg.Stream.SampleRate,
			Credentials: sigv4.Credentials{
				AccessKeyID:     cfg.Credentials.AccessKeyID,
				SecretAccessKey: cfg.Credentials.SecretAccessKey,
				SessionToken:    cfg.Credentials.SessionToken,
			},
			Expires:  time.Duration(cfg.Stream.Expires) * time.Second,
			Override: cfg.Stream.Endpoint,
		},
		closeTimeout: defaultCloseTimeout,
		drainTimeout: defaultDrainTimeout,

		publishTimeout: defaultPublishTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.dialer == nil {
		a.dialer = &stream.WebSocketDialer{}
	}
	if a.capture == nil {
		a.capture = ReaderSource(cfg.Capture)
	}
	if a.store == nil {
		a.store = memory.New()
	}
	if a.publisher == nil {
		a.publisher = publish.Discard
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	a.records = storage.NewRecords(a.store)
	if strings.HasPrefix(a.endpoint.Override, "ws://") {
		a.log.Warn("stream endpoint is not TLS protected", "endpoint", a.endpoint.Override)
	}
	return a, nil
}

// ReaderSource opens cfg.Path ("-" for stdin) as a raw PCM capture.
func ReaderSource(cfg config.CaptureConfig) CaptureSource {
	return func(context.Context) (audio.Capture, error) {
		var r io.Reader = os.Stdin
		if cfg.Path != "" && cfg.Path != "-" {
			f, err := os.Open(cfg.Path)
			if err != nil {
				return nil, err
			}
			r = f
		}
		return audio.NewReaderCapture(r, audio.ReaderCaptureConfig{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			Chunk:      cfg.Chunk,
			Realtime:   cfg.Realtime,
		})
	}
}

// Records returns the archive.
func (a *App) Records() *storage.Records { return a.records }

// Store returns the archive backend.
func (a *App) Store() storage.Store { return a.store }

// SessionState returns the state of the most recent session, or
// stream.StateIdle before the first run.
func (a *App) SessionState() stream.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return stream.StateIdle
	}
	return a.current.State()
}

// Run performs one transcription cycle and blocks until the session has
// terminated and its transcript is archived. Cancelling ctx ends the audio
// stream gracefully; the service then has the drain timeout to close.
//
// The returned error joins the session failure, if any, with archiving
// errors. The Result is valid even when an error is returned.
func (a *App) Run(ctx context.Context) (stream.Result, error) {
	ctx, span := observe.StartTranscribe(ctx, a.endpoint.Language, a.endpoint.Rate())
	res, err := a.run(ctx, span.SetAttributes)
	observe.EndTranscribe(span, res, err)
	return res, err
}

func (a *App) run(ctx context.Context, annotate func(...attribute.KeyValue)) (stream.Result, error) {
	failed := func(err error) (stream.Result, error) {
		return stream.Result{State: stream.StateFailed, Err: err}, err
	}

	rawURL, err := a.endpoint.PresignedURL(a.presigner)
	if err != nil {
		return failed(fmt.Errorf("app: presign: %w", err))
	}
	capture, err := a.capture(ctx)
	if err != nil {
		return failed(fmt.Errorf("app: open capture: %w", err))
	}
	if rate := a.endpoint.Rate(); capture.SampleRate() < rate {
		_ = capture.Stop()
		return failed(fmt.Errorf("app: capture: %w",
			&audio.UnsupportedRateError{Source: capture.SampleRate(), Target: rate}))
	}

	updates := make(chan stream.Update, updateBuffer)
	sess := stream.New(
		stream.WithDialer(a.dialer),
		stream.WithCapture(capture),
		stream.WithAggregator(transcript.NewAggregator(transcript.WithSeparator(a.cfg.Transcript.Separator))),
		stream.WithObserver(a.metrics.StreamObserver()),
		stream.WithLogger(a.log),
		stream.OnUpdate(func(u stream.Update) {
			select {
			case updates <- u:
			default:
				a.log.Warn("app: publish queue full, dropping update", "result_id", u.Segment.ResultID)
			}
		}),
	)
	a.mu.Lock()
	a.current = sess
	a.mu.Unlock()
	annotate(attribute.String("session_id", sess.ID()))
	log := observe.WithTrace(ctx, a.log).With("session_id", sess.ID())

	if err := sess.Open(ctx, rawURL); err != nil {
		return sess.Result(), fmt.Errorf("app: open session: %w", err)
	}
	log.Info("transcribing", "language", a.endpoint.Language, "sample_rate", a.endpoint.Rate())

	var g errgroup.Group
	g.Go(func() error { return a.pump(ctx, sess, capture) })
	g.Go(func() error { return a.publishUpdates(ctx, sess, updates) })
	g.Go(func() error { return a.drain(ctx, sess) })
	_ = g.Wait()

	res := sess.Result()
	log.Info("session finished", "state", res.State.String(), "message", res.Message())

	// Archiving must survive the cancellation that ended the session.
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.closeTimeout)
	defer cancel()
	return res, errors.Join(res.Err, a.archive(archiveCtx, sess.ID(), res))
}

// pump encodes captured frames and sends them until the capture ends or ctx
// is cancelled, then ends the audio stream.
func (a *App) pump(ctx context.Context, sess *stream.Session, capture audio.Capture) error {
	rate := a.endpoint.Rate()
	frames := capture.Frames()
	for {
		select {
		case <-sess.Done():
			return nil
		case <-ctx.Done():
			a.endStream(ctx, sess)
			return nil
		case frame, ok := <-frames:
			if !ok {
				a.endStream(ctx, sess)
				return nil
			}
			pcm, err := audio.Encode(frame, rate)
			if err != nil {
				a.log.Warn("app: encode frame", "err", err)
				continue
			}
			sess.SendAudio(ctx, pcm)
		}
	}
}

func (a *App) endStream(ctx context.Context, sess *stream.Session) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.closeTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil && !errors.Is(err, stream.ErrNotStreaming) {
		a.log.Warn("app: end audio stream", "session_id", sess.ID(), "err", err)
	}
}

// drain waits for the session to terminate. Once ctx is cancelled the
// service gets drainTimeout to close before the session is aborted.
func (a *App) drain(ctx context.Context, sess *stream.Session) error {
	select {
	case <-sess.Done():
		return nil
	case <-ctx.Done():
	}
	timer := time.NewTimer(a.drainTimeout)
	defer timer.Stop()
	select {
	case <-sess.Done():
	case <-timer.C:
		sess.Abort("shutdown timeout")
	}
	return nil
}

// publishUpdates forwards transcript updates to the publisher until the
// session ends. Each publication is bounded by publishTimeout and the backlog
// left at termination shares one such window; whatever is still queued then
// is dropped.
func (a *App) publishUpdates(ctx context.Context, sess *stream.Session, updates <-chan stream.Update) error {
	base := context.WithoutCancel(ctx)
	send := func(parent context.Context, u stream.Update) {
		pctx, cancel := context.WithTimeout(parent, a.publishTimeout)
		defer cancel()
		if err := a.publisher.Publish(pctx, sess.ID(), u.Segment); err != nil {
			a.metrics.RecordPublishError(base, "segment")
			a.log.Warn("app: publish segment", "session_id", sess.ID(), "err", err)
		}
	}
	for {
		select {
		case u := <-updates:
			send(base, u)
		case <-sess.Done():
			// Updates are queued before the session terminates.
			flushCtx, cancel := context.WithTimeout(base, a.publishTimeout)
			defer cancel()
			for {
				if flushCtx.Err() != nil {
					if n := len(updates); n > 0 {
						a.log.Warn("app: dropping unpublished updates", "session_id", sess.ID(), "count", n)
					}
					return nil
				}
				select {
				case u := <-updates:
					send(flushCtx, u)
				default:
					return nil
				}
			}
		}
	}
}

// archive writes the committed transcript to the output file, stores it in
// the configured record and publishes the outcome.
func (a *App) archive(ctx context.Context, sessionID string, res stream.Result) error {
	var errs []error

	if out := a.cfg.Transcript.Output; out != "" {
		if err := os.WriteFile(out, []byte(res.Transcript), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("app: write transcript: %w", err))
		}
	}

	if record := a.cfg.Storage.Record; record != "" && res.Transcript != "" {
		if obj, err := a.records.SaveTranscript(ctx, record, sessionID, res.Transcript); err != nil {
			errs = append(errs, fmt.Errorf("app: archive: %w", err))
		} else {
			a.log.Info("transcript archived", "session_id", sessionID, "key", obj.Key, "bytes", obj.Size)
		}
	}

	if rp, ok := a.publisher.(resultPublisher); ok {
		err := rp.PublishResult(ctx, publish.ResultMessage{
			SessionID:  sessionID,
			State:      res.State.String(),
			Message:    res.Message(),
			Transcript: res.Transcript,
		})
		if err != nil {
			a.metrics.RecordPublishError(ctx, "result")
			a.log.Warn("app: publish result", "session_id", sessionID, "err", err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown aborts a running session, closes the publisher and runs the
// registered closers. It respects the ctx deadline: remaining closers are
// skipped once it expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		sess := a.current
		a.mu.Unlock()
		if sess != nil {
			sess.Abort("shutdown")
		}

		closers := append([]func() error{a.publisher.Close}, a.closers...)
		for i, closer := range closers {
			if err := ctx.Err(); err != nil {
				a.log.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

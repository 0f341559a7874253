package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/voxscribe/internal/app"
	"github.com/MrWong99/voxscribe/internal/config"
	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/publish"
	"github.com/MrWong99/voxscribe/pkg/audio"
	audiomock "github.com/MrWong99/voxscribe/pkg/audio/mock"
	"github.com/MrWong99/voxscribe/pkg/eventstream"
	"github.com/MrWong99/voxscribe/pkg/storage"
	"github.com/MrWong99/voxscribe/pkg/storage/memory"
	"github.com/MrWong99/voxscribe/pkg/stream"
	"github.com/MrWong99/voxscribe/pkg/stream/mock"
	"github.com/MrWong99/voxscribe/pkg/transcript"
)

// testConfig returns a validated-looking config streaming en-US at 44100 Hz.
func testConfig() *config.Config {
	cfg := &config.Config{
		Region:   "us-west-2",
		Language: "en-US",
		Credentials: config.CredentialsConfig{
			AccessKeyID:     "AKIDEXAMPLE",
			SecretAccessKey: "secret",
		},
		Stream: config.StreamConfig{Endpoint: "ws://transcribe.test"},
	}
	cfg.ApplyDefaults()
	return cfg
}

type recordingPublisher struct {
	mu       sync.Mutex
	segments []transcript.Segment
	results  []publish.ResultMessage
	closed   int
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, seg transcript.Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segments = append(p.segments, seg)
	return nil
}

func (p *recordingPublisher) PublishResult(_ context.Context, msg publish.ResultMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, msg)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type harness struct {
	app     *app.App
	conn    *mock.Conn
	dialer  *mock.Dialer
	capture *audiomock.Capture
	store   *memory.Store
	pub     *recordingPublisher
}

func newHarness(t *testing.T, cfg *config.Config, captureRate int, opts ...app.Option) *harness {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h := &harness{
		conn:    mock.NewConn(),
		capture: audiomock.NewCapture(captureRate),
		store:   memory.New(),
		pub:     &recordingPublisher{},
	}
	h.dialer = &mock.Dialer{Conn: h.conn}
	opts = append([]app.Option{
		app.WithDialer(h.dialer),
		app.WithCaptureSource(func(context.Context) (audio.Capture, error) { return h.capture, nil }),
		app.WithStore(h.store),
		app.WithPublisher(h.pub),
		app.WithMetrics(metrics),
	}, opts...)
	h.app, err = app.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

type runResult struct {
	res stream.Result
	err error
}

func (h *harness) start(ctx context.Context) <-chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		res, err := h.app.Run(ctx)
		ch <- runResult{res, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return runResult{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func frame48k(n int) audio.AudioFrame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return audio.AudioFrame{Samples: samples, SampleRate: 48000}
}

func transcriptFrame(t *testing.T, text string, partial bool) []byte {
	t.Helper()
	body := fmt.Sprintf(`{"Transcript":{"Results":[{"ResultId":"r-1","IsPartial":%t,"Alternatives":[{"Transcript":%q}]}]}}`, partial, text)
	b, err := eventstream.Encode(eventstream.Frame{
		Headers: eventstream.Headers{
			{Name: eventstream.HeaderMessageType, Value: eventstream.StringValue(eventstream.MessageTypeEvent)},
			{Name: eventstream.HeaderEventType, Value: eventstream.StringValue("TranscriptEvent")},
		},
		Body: []byte(body),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

// endOfStream reports whether the last write is the empty audio event.
func endOfStream(conn *mock.Conn) bool {
	w := conn.Writes()
	if len(w) == 0 {
		return false
	}
	f, err := eventstream.Decode(w[len(w)-1])
	return err == nil && f.EventType() == stream.EventAudio && len(f.Body) == 0
}

func TestRun_StreamsPublishesAndArchives(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Transcript.Separator = " "
	cfg.Transcript.Output = filepath.Join(t.TempDir(), "transcript.txt")
	cfg.Storage.Record = "patient-7"
	h := newHarness(t, cfg, 48000)

	h.capture.FramesCh <- frame48k(4800)
	h.capture.FramesCh <- frame48k(4800)
	done := h.start(context.Background())

	waitFor(t, "audio frames", func() bool { return len(h.conn.Writes()) >= 2 })
	h.conn.Deliver(transcriptFrame(t, "hello", true))
	h.conn.Deliver(transcriptFrame(t, "hello world.", false))
	_ = h.capture.Stop()
	waitFor(t, "end of stream", func() bool { return endOfStream(h.conn) })
	h.conn.CloseWith(stream.StatusNormalClosure, "")

	r := await(t, done)
	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.res.State != stream.StateClosed || r.res.Transcript != "hello world. " {
		t.Errorf("result = %+v", r.res)
	}

	first, err := eventstream.Decode(h.conn.Writes()[0])
	if err != nil {
		t.Fatalf("decode first write: %v", err)
	}
	if got := len(first.Body); got != 4410*2 {
		t.Errorf("first audio event body = %d bytes, want %d", got, 4410*2)
	}

	urls := h.dialer.URLs()
	if len(urls) != 1 || !strings.HasPrefix(urls[0], "ws://transcribe.test/stream-transcription-websocket?") ||
		!strings.Contains(urls[0], "sample-rate=44100") || !strings.Contains(urls[0], "X-Amz-Signature=") {
		t.Errorf("dialed URLs = %v", urls)
	}

	out, err := os.ReadFile(cfg.Transcript.Output)
	if err != nil || string(out) != "hello world. " {
		t.Errorf("output file = %q, %v", out, err)
	}

	files, err := h.app.Records().Files(context.Background(), "patient-7")
	if err != nil || len(files) != 1 || !strings.HasSuffix(files[0].Key, ".txt") {
		t.Fatalf("archived files = %+v, %v", files, err)
	}

	h.pub.mu.Lock()
	defer h.pub.mu.Unlock()
	if len(h.pub.segments) != 2 || !h.pub.segments[0].IsPartial || h.pub.segments[1].Text != "hello world." {
		t.Errorf("published segments = %+v", h.pub.segments)
	}
	if len(h.pub.results) != 1 || h.pub.results[0].Message != "Streaming finished." {
		t.Errorf("published results = %+v", h.pub.results)
	}
}

// stalledPublisher blocks every call until its ctx ends, like a paho client
// holding QoS 1 tokens while it reconnects to a broker that is down.
type stalledPublisher struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (p *stalledPublisher) block(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	<-ctx.Done()
	p.mu.Lock()
	p.errs = append(p.errs, ctx.Err())
	p.mu.Unlock()
	return ctx.Err()
}

func (p *stalledPublisher) Publish(ctx context.Context, _ string, _ transcript.Segment) error {
	return p.block(ctx)
}

func (p *stalledPublisher) PublishResult(ctx context.Context, _ publish.ResultMessage) error {
	return p.block(ctx)
}

func (p *stalledPublisher) Close() error { return nil }

func TestRun_StalledPublisherDoesNotBlockArchive(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Storage.Record = "patient-9"
	pub := &stalledPublisher{}
	h := newHarness(t, cfg, 48000,
		app.WithPublisher(pub),
		app.WithPublishTimeout(50*time.Millisecond),
		app.WithTimeouts(100*time.Millisecond, time.Second),
	)

	done := h.start(context.Background())
	waitFor(t, "streaming", func() bool { return h.app.SessionState() == stream.StateStreaming })
	h.conn.Deliver(transcriptFrame(t, "one", true))
	h.conn.Deliver(transcriptFrame(t, "one two.", false))
	h.conn.Deliver(transcriptFrame(t, "three", true))
	waitFor(t, "first publication", func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return pub.calls > 0
	})
	h.conn.CloseWith(stream.StatusNormalClosure, "")

	r := await(t, done)
	if r.err != nil {
		t.Fatalf("Run: %v", r.err)
	}
	if r.res.State != stream.StateClosed || r.res.Transcript != "one two." {
		t.Errorf("result = %+v", r.res)
	}
	files, err := h.app.Records().Files(context.Background(), "patient-9")
	if err != nil || len(files) != 1 {
		t.Errorf("archived files = %+v, %v", files, err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, err := range pub.errs {
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("publish ended with %v, want deadline exceeded", err)
		}
	}
}

func TestRun_ConnectError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), 48000)
	h.dialer.DialErr = errors.New("connection refused")

	res, err := h.app.Run(context.Background())
	var ce *stream.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConnectError", err)
	}
	if res.State != stream.StateFailed {
		t.Errorf("state = %v, want failed", res.State)
	}
	if got := h.capture.StopCount(); got != 1 {
		t.Errorf("capture stops = %d, want 1", got)
	}
	if got := h.app.SessionState(); got != stream.StateFailed {
		t.Errorf("SessionState = %v, want failed", got)
	}
}

func TestRun_CaptureRateBelowTarget(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), 16000)

	_, err := h.app.Run(context.Background())
	var ue *audio.UnsupportedRateError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UnsupportedRateError", err)
	}
	if ue.Source != 16000 || ue.Target != 44100 {
		t.Errorf("rates = %d -> %d", ue.Source, ue.Target)
	}
	if len(h.dialer.URLs()) != 0 {
		t.Error("dialed despite unusable capture")
	}
}

func TestRun_PresignFailure(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Credentials = config.CredentialsConfig{}
	h := newHarness(t, cfg, 48000)

	if _, err := h.app.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "presign") {
		t.Fatalf("err = %v, want presign error", err)
	}
}

func TestRun_CancelFlushesThenAborts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), 48000, app.WithTimeouts(time.Second, 50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	waitFor(t, "streaming", func() bool { return h.app.SessionState() == stream.StateStreaming })
	cancel()

	r := await(t, done)
	if !endOfStream(h.conn) {
		t.Error("end-of-stream event not written")
	}
	var se *stream.StreamError
	if !errors.As(r.err, &se) || se.Code != stream.StatusGoingAway {
		t.Fatalf("err = %v, want going-away StreamError", r.err)
	}
	if got := h.capture.StopCount(); got != 1 {
		t.Errorf("capture stops = %d, want 1", got)
	}
}

func TestRun_EachRunUsesFreshSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), 48000)
	h.dialer.DialErr = errors.New("down")

	_, _ = h.app.Run(context.Background())
	_, _ = h.app.Run(context.Background())
	if got := len(h.dialer.URLs()); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

// TestTelemetry_FailedSession swaps the global otel providers, so it does
// not run in parallel.
func TestTelemetry_FailedSession(t *testing.T) {
	prevMP, prevTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMP)
		otel.SetTracerProvider(prevTP)
	})
	p, err := observe.InitProvider(context.Background(), observe.ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTracerProvider(tp)

	h := newHarness(t, testConfig(), 48000, app.WithMetrics(p.Metrics))
	srv := httptest.NewServer(h.app.TelemetryHandler(p.Registry))
	defer srv.Close()
	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}

	h.dialer.DialErr = errors.New("connection refused")
	if _, err := h.app.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded against a refusing dialer")
	}

	code, body := get("/readyz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "streaming session failed") {
		t.Errorf("/readyz = %d %s, want 503 naming the failed session", code, body)
	}

	_, exposition := get("/metrics")
	for _, want := range []string{
		`voxscribe_stream_sessions_total{`,
		`state="failed"`,
		`voxscribe_stream_connect_duration_seconds_count{`,
		`status="error"`,
		`voxscribe_http_request_duration_seconds_count{`,
		`route="GET /readyz"`,
		`status="503"`,
	} {
		if !strings.Contains(exposition, want) {
			t.Errorf("/metrics missing %s", want)
		}
	}

	var run *tracetest.SpanStub
	for _, s := range spans.GetSpans() {
		if s.Name == "voxscribe.transcribe" {
			run = &s
		}
	}
	if run == nil {
		t.Fatal("no voxscribe.transcribe span")
	}
	got := make(map[string]string)
	for _, a := range run.Attributes {
		got[string(a.Key)] = a.Value.Emit()
	}
	if got["state"] != "failed" || got["language"] != "en-US" || got["sample_rate"] != "44100" || got["session_id"] == "" {
		t.Errorf("transcribe span attributes = %v", got)
	}
	if run.Status.Code != codes.Error {
		t.Errorf("transcribe span status = %v, want error", run.Status.Code)
	}
}

func TestShutdown_ClosesOnce(t *testing.T) {
	t.Parallel()
	var closed int
	h := newHarness(t, testConfig(), 48000, app.WithCloser(func() error {
		closed++
		return nil
	}))

	for range 2 {
		if err := h.app.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
	if h.pub.closed != 1 || closed != 1 {
		t.Errorf("publisher closed %d, closer ran %d; want 1, 1", h.pub.closed, closed)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	a, err := app.New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := a.Store().(*memory.Store); !ok {
		t.Errorf("default store = %T, want *memory.Store", a.Store())
	}
	if a.SessionState() != stream.StateIdle {
		t.Errorf("SessionState = %v, want idle", a.SessionState())
	}
	if _, err := a.Records().ListRecords(context.Background()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ListRecords: %v", err)
	}
}

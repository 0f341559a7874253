// Package observe provides voxscribe's observability primitives:
// OpenTelemetry metrics for streaming sessions, tracing helpers,
// trace-aware logging, and HTTP middleware for the telemetry server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter installed by [InitProvider].
// Tests should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxscribe/pkg/stream"
)

// meterName is the instrumentation scope name used for all voxscribe metrics.
const meterName = "github.com/MrWong99/voxscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// ConnectDuration tracks the time from dial to streaming (or failure).
	// Attribute: "status" = ok|error.
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks the lifetime of a session from open to its
	// terminal state. Attribute: "state".
	SessionDuration metric.Float64Histogram

	// FramesSent counts audio event frames written, BytesSent their size.
	FramesSent metric.Int64Counter
	BytesSent  metric.Int64Counter

	// FramesDropped counts audio chunks not written. Attribute: "reason".
	FramesDropped metric.Int64Counter

	// FramesReceived counts inbound frames. Attributes: "message_type",
	// "event_type". Undecodable frames have empty values.
	FramesReceived metric.Int64Counter

	// Segments counts applied transcript segments. Attribute: "partial".
	Segments metric.Int64Counter

	// SessionOutcomes counts terminal states. Attribute: "state".
	SessionOutcomes metric.Int64Counter

	// ActiveSessions tracks sessions currently streaming or closing.
	ActiveSessions metric.Int64UpDownCounter

	// PublishErrors counts failed transcript publications.
	PublishErrors metric.Int64Counter

	// HTTPRequestDuration tracks telemetry server requests. Attributes:
	// "route" (the mux pattern), "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("voxscribe.stream.connect.duration",
		metric.WithDescription("Time to establish the streaming connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxscribe.stream.session.duration",
		metric.WithDescription("Lifetime of a streaming session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesSent, err = m.Int64Counter("voxscribe.stream.frames.sent",
		metric.WithDescription("Audio event frames written to the service."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("voxscribe.stream.bytes.sent",
		metric.WithDescription("Encoded bytes written to the service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxscribe.stream.frames.dropped",
		metric.WithDescription("Audio chunks dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voxscribe.stream.frames.received",
		metric.WithDescription("Frames received by message and event type."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("voxscribe.transcript.segments",
		metric.WithDescription("Transcript segments applied, by partial flag."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("voxscribe.stream.sessions",
		metric.WithDescription("Sessions by terminal state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxscribe.stream.active_sessions",
		metric.WithDescription("Sessions currently streaming or closing."),
	); err != nil {
		return nil, err
	}
	if met.PublishErrors, err = m.Int64Counter("voxscribe.publish.errors",
		metric.WithDescription("Failed transcript publications."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxscribe.http.request.duration",
		metric.WithDescription("Telemetry server latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPublishError increments the publish error counter.
func (m *Metrics) RecordPublishError(ctx context.Context, target string) {
	m.PublishErrors.Add(ctx, 1, metric.WithAttributes(Attr("target", target)))
}

// StreamObserver returns a [stream.Observer] recording into m. Use one
// observer per session; it tracks that session's timings.
func (m *Metrics) StreamObserver() stream.Observer {
	return &streamObserver{m: m, now: time.Now}
}

type streamObserver struct {
	m   *Metrics
	now func() time.Time

	mu        sync.Mutex
	opened    time.Time
	connected bool
}

func (o *streamObserver) StateChanged(from, to stream.State) {
	ctx := context.Background()
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case to == stream.StateConnecting:
		o.opened = o.now()
	case from == stream.StateConnecting:
		status := "ok"
		if to != stream.StateStreaming {
			status = "error"
		}
		o.m.ConnectDuration.Record(ctx, o.now().Sub(o.opened).Seconds(),
			metric.WithAttributes(Attr("status", status)))
	}

	if to == stream.StateStreaming {
		o.connected = true
		o.m.ActiveSessions.Add(ctx, 1)
	}
	if to.IsTerminal() {
		if o.connected {
			o.m.ActiveSessions.Add(ctx, -1)
		}
		state := metric.WithAttributes(Attr("state", to.String()))
		o.m.SessionOutcomes.Add(ctx, 1, state)
		if !o.opened.IsZero() {
			o.m.SessionDuration.Record(ctx, o.now().Sub(o.opened).Seconds(), state)
		}
	}
}

func (o *streamObserver) FrameSent(bytes int) {
	ctx := context.Background()
	o.m.FramesSent.Add(ctx, 1)
	o.m.BytesSent.Add(ctx, int64(bytes))
}

func (o *streamObserver) FrameDropped(reason string) {
	o.m.FramesDropped.Add(context.Background(), 1, metric.WithAttributes(Attr("reason", reason)))
}

func (o *streamObserver) FrameReceived(messageType, eventType string) {
	o.m.FramesReceived.Add(context.Background(), 1, metric.WithAttributes(
		Attr("message_type", messageType),
		Attr("event_type", eventType),
	))
}

func (o *streamObserver) SegmentApplied(partial bool) {
	o.m.Segments.Add(context.Background(), 1,
		metric.WithAttributes(Attr("partial", strconv.FormatBool(partial))))
}

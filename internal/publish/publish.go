// Package publish fans live transcript segments out to subscribers.
//
// The MQTT publisher sends every applied segment of a session as JSON to
//
//	<prefix>/session/<session-id>/partial   (QoS 0, not retained)
//	<prefix>/session/<session-id>/final     (configured QoS)
//
// and the terminal outcome, retained, to <prefix>/session/<session-id>/result.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/voxscribe/pkg/transcript"
)

// Publisher delivers transcript segments for a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, seg transcript.Segment) error
	Close() error
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, transcript.Segment) error { return nil }
func (discard) Close() error                                              { return nil }

// SegmentMessage is the JSON payload of a segment publication.
type SegmentMessage struct {
	SessionID string    `json:"session_id"`
	ResultID  string    `json:"result_id,omitempty"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Time      time.Time `json:"time"`
}

// ResultMessage is the JSON payload of a session outcome.
type ResultMessage struct {
	SessionID  string    `json:"session_id"`
	State      string    `json:"state"`
	Message    string    `json:"message"`
	Transcript string    `json:"transcript"`
	Time       time.Time `json:"time"`
}

// TopicSegment returns the topic a segment is published on.
func TopicSegment(prefix, sessionID string, partial bool) string {
	kind := "final"
	if partial {
		kind = "partial"
	}
	return fmt.Sprintf("%s/session/%s/%s", prefix, sessionID, kind)
}

// TopicResult returns the retained outcome topic of a session.
func TopicResult(prefix, sessionID string) string {
	return fmt.Sprintf("%s/session/%s/result", prefix, sessionID)
}

// MQTTConfig configures [NewMQTT].
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string

	// QoS applies to final segments and results.
	QoS byte

	// Timeout bounds each publication whose ctx has no deadline. paho keeps
	// QoS 1 and 2 tokens pending while it reconnects. Default:
	// DefaultPublishTimeout.
	Timeout time.Duration
}

// DefaultPublishTimeout is the fallback bound on one publication.
const DefaultPublishTimeout = 5 * time.Second

// client is the subset of paho.Client used here.
type client interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

// MQTT publishes to an MQTT broker.
type MQTT struct {
	cfg    MQTTConfig
	client client
	log    *slog.Logger
	now    func() time.Time
}

// NewMQTT connects to cfg.BrokerURL. The client reconnects on its own after
// the initial connection succeeds.
func NewMQTT(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("publish: broker URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("mqtt connection lost", "err", err)
	})

	c := paho.NewClient(opts)
	if err := wait(ctx, c.Connect()); err != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", cfg.BrokerURL, err)
	}
	logger.Info("mqtt connected", "broker", cfg.BrokerURL)
	return newMQTT(cfg, c, logger), nil
}

func newMQTT(cfg MQTTConfig, c client, logger *slog.Logger) *MQTT {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPublishTimeout
	}
	return &MQTT{cfg: cfg, client: c, log: logger, now: time.Now}
}

// Publish implements [Publisher]. Partial segments are sent at QoS 0 since
// the next partial supersedes them.
func (m *MQTT) Publish(ctx context.Context, sessionID string, seg transcript.Segment) error {
	body, err := json.Marshal(SegmentMessage{
		SessionID: sessionID,
		ResultID:  seg.ResultID,
		Text:      seg.Text,
		Partial:   seg.IsPartial,
		Time:      m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish: encode segment: %w", err)
	}
	qos := m.cfg.QoS
	if seg.IsPartial {
		qos = 0
	}
	return m.send(ctx, TopicSegment(m.cfg.TopicPrefix, sessionID, seg.IsPartial), qos, false, body)
}

// PublishResult sends the retained outcome of a finished session.
func (m *MQTT) PublishResult(ctx context.Context, msg ResultMessage) error {
	if msg.Time.IsZero() {
		msg.Time = m.now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("publish: encode result: %w", err)
	}
	return m.send(ctx, TopicResult(m.cfg.TopicPrefix, msg.SessionID), m.cfg.QoS, true, body)
}

// Close disconnects, allowing in-flight publications 250ms to complete.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

func (m *MQTT) send(ctx context.Context, topic string, qos byte, retained bool, body []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	if err := wait(ctx, m.client.Publish(topic, qos, retained, body)); err != nil {
		return fmt.Errorf("publish: %s: %w", topic, err)
	}
	return nil
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

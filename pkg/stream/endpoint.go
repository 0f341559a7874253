package stream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/eventstream"
	"github.com/MrWong99/voxscribe/pkg/sigv4"
)

// Fixed service parameters of the streaming transcription endpoint.
const (
	ServiceName    = "transcribe"
	Path           = "/stream-transcription-websocket"
	Port           = 8443
	DefaultExpires = 15 * time.Second

	// EventAudio is the :event-type of outbound audio frames.
	EventAudio = "AudioEvent"

	// MediaEncoding is the only supported encoding: signed 16-bit LE PCM.
	MediaEncoding = "pcm"
)

// SampleRateFor returns the sample rate the service expects for the given
// language code: 44100 Hz for en-US and es-US, 8000 Hz otherwise.
func SampleRateFor(language string) int {
	switch language {
	case "en-US", "es-US":
		return audio.RateCD
	default:
		return audio.RateNarrowband
	}
}

// Host returns the service host (with port) for a region.
func Host(region string) string {
	return "transcribestreaming." + region + ".amazonaws.com:" + strconv.Itoa(Port)
}

// Endpoint describes one streaming request before signing.
type Endpoint struct {
	Region   string
	Language string

	// SampleRate defaults to SampleRateFor(Language).
	SampleRate int

	Credentials sigv4.Credentials

	// Expires defaults to DefaultExpires.
	Expires time.Duration

	// Override replaces scheme and host, e.g. "ws://127.0.0.1:9000" for a
	// local stand-in service. Empty means wss and the regional host.
	Override string
}

// Rate returns the effective sample rate of e.
func (e Endpoint) Rate() int {
	if e.SampleRate > 0 {
		return e.SampleRate
	}
	return SampleRateFor(e.Language)
}

// Query returns the request-specific query string in the service's
// parameter order.
func (e Endpoint) Query() string {
	var b strings.Builder
	b.WriteString("language-code=")
	b.WriteString(url.QueryEscape(e.Language))
	b.WriteString("&media-encoding=")
	b.WriteString(MediaEncoding)
	b.WriteString("&sample-rate=")
	b.WriteString(strconv.Itoa(e.Rate()))
	return b.String()
}

// SigningRequest builds the presign input for e.
func (e Endpoint) SigningRequest() (sigv4.Request, error) {
	if e.Language == "" {
		return sigv4.Request{}, &sigv4.SigningError{Field: "language", Reason: "must not be empty"}
	}
	protocol, host := "wss", Host(e.Region)
	if e.Override != "" {
		u, err := url.Parse(e.Override)
		if err != nil || u.Host == "" {
			return sigv4.Request{}, &sigv4.SigningError{Field: "endpoint", Reason: fmt.Sprintf("invalid override %q", e.Override)}
		}
		protocol, host = u.Scheme, u.Host
	}
	expires := e.Expires
	if expires == 0 {
		expires = DefaultExpires
	}
	return sigv4.Request{
		Credentials: e.Credentials,
		Region:      e.Region,
		Service:     ServiceName,
		Method:      "GET",
		Host:        host,
		Path:        Path,
		Protocol:    protocol,
		Query:       e.Query(),
		Expires:     expires,
	}, nil
}

// PresignedURL signs e with p. A nil p signs with the wall clock.
func (e Endpoint) PresignedURL(p *sigv4.Presigner) (string, error) {
	req, err := e.SigningRequest()
	if err != nil {
		return "", err
	}
	if p == nil {
		p = &sigv4.Presigner{}
	}
	return p.Presign(req)
}

// AudioEvent wraps raw PCM in an outbound audio frame. A zero-length pcm
// produces the end-of-stream marker.
func AudioEvent(pcm []byte) eventstream.Frame {
	return eventstream.Frame{
		Headers: eventstream.Headers{
			{Name: eventstream.HeaderMessageType, Value: eventstream.StringValue(eventstream.MessageTypeEvent)},
			{Name: eventstream.HeaderEventType, Value: eventstream.StringValue(EventAudio)},
		},
		Body: pcm,
	}
}

// exceptionFromFrame extracts the service error carried by an exception frame.
func exceptionFromFrame(f eventstream.Frame) *ServiceException {
	ex := &ServiceException{Type: f.Headers.GetString(eventstream.HeaderExceptionType)}
	var body struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(f.Body, &body); err == nil && body.Message != "" {
		ex.Message = body.Message
	} else {
		ex.Message = strings.TrimSpace(string(f.Body))
	}
	return ex
}

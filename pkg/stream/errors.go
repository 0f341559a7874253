package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyOpened is returned by Open on a session that has left Idle.
	// Sessions are single-use; create a new one (and re-sign the URL) instead.
	ErrAlreadyOpened = errors.New("stream: session already opened")

	// ErrNotStreaming is returned by Close before the session is streaming.
	ErrNotStreaming = errors.New("stream: session is not streaming")
)

// ConnectError reports that the transport could not be established.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return "WebSocket connection error: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ServiceException is an error the remote service reported inside an
// exception frame. Error returns the service message verbatim.
type ServiceException struct {
	// Type is the :exception-type header, e.g. "BadRequestException".
	Type string

	// Message is the human-readable message from the frame body.
	Message string
}

func (e *ServiceException) Error() string {
	if e.Message == "" {
		return "service exception: " + e.Type
	}
	return e.Message
}

// StreamError reports an abnormal transport close.
type StreamError struct {
	Code   int
	Reason string
}

func (e *StreamError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("Streaming Exception (code %d)", e.Code)
	}
	return fmt.Sprintf("Streaming Exception (code %d): %s", e.Code, e.Reason)
}

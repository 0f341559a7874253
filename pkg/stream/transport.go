package stream

import (
	"context"
	"fmt"
)

// WebSocket close codes the session distinguishes.
const (
	StatusNormalClosure   = 1000
	StatusGoingAway       = 1001
	StatusProtocolError   = 1002
	StatusAbnormalClosure = 1006
)

// Conn is one established duplex connection carrying binary messages.
// Write may be called concurrently with Read.
type Conn interface {
	// Read blocks for the next binary message. When the peer closes the
	// connection it returns a *CloseError.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one binary message.
	Write(ctx context.Context, p []byte) error

	// Close closes the connection with the given close code and reason.
	Close(code int, reason string) error
}

// Dialer opens connections to a presigned URL.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, rawURL string) (Conn, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, rawURL string) (Conn, error) { return f(ctx, rawURL) }

// CloseError is returned by [Conn.Read] when the peer closed the connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("stream: connection closed: status = %d reason = %q", e.Code, e.Reason)
}

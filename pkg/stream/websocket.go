package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxscribe/pkg/eventstream"
)

// WebSocketDialer dials presigned URLs with github.com/coder/websocket.
type WebSocketDialer struct {
	// HTTPClient is used for the opening handshake. Nil uses http.DefaultClient.
	HTTPClient *http.Client

	// ReadLimit caps inbound message size. Default: eventstream.MaxFrameLen.
	ReadLimit int64
}

// Dial implements [Dialer].
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = eventstream.MaxFrameLen
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); code != -1 {
			var ce websocket.CloseError
			errors.As(err, &ce)
			return nil, &CloseError{Code: int(code), Reason: ce.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, p []byte) error {
	return w.c.Write(ctx, websocket.MessageBinary, p)
}

func (w *wsConn) Close(code int, reason string) error {
	return w.c.Close(websocket.StatusCode(code), reason)
}

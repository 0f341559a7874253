// Package mock provides test doubles for the stream transport interfaces.
//
// Use Conn to play a scripted service: push inbound messages with Deliver or
// CloseWith and inspect the frames the session wrote with Writes. Use Dialer
// to hand a Conn (or a dial error) to a session.
//
// Example:
//
//	conn := mock.NewConn()
//	sess := stream.New(stream.WithDialer(&mock.Dialer{Conn: conn}))
//	_ = sess.Open(ctx, "wss://example.invalid")
//	conn.CloseWith(1000, "")
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxscribe/pkg/stream"
)

// ErrClosed is returned by Conn operations after Close.
var ErrClosed = errors.New("mock: connection closed")

// CloseCall records a single invocation of Conn.Close.
type CloseCall struct {
	Code   int
	Reason string
}

type inbound struct {
	data []byte
	err  error
}

// Conn is a mock implementation of stream.Conn.
type Conn struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every Write.
	WriteErr error

	// WriteHook, if set, is called with each message before it is recorded.
	// It runs without the mock's lock held and may block.
	WriteHook func(p []byte)

	in         chan inbound
	closed     chan struct{}
	closeOnce  sync.Once
	writes     [][]byte
	closeCalls []CloseCall
}

// NewConn returns an open Conn.
func NewConn() *Conn {
	return &Conn{
		in:     make(chan inbound, 64),
		closed: make(chan struct{}),
	}
}

// Deliver queues one inbound binary message.
func (c *Conn) Deliver(p []byte) { c.in <- inbound{data: p} }

// CloseWith queues a peer close with the given code and reason.
func (c *Conn) CloseWith(code int, reason string) {
	c.in <- inbound{err: &stream.CloseError{Code: code, Reason: reason}}
}

// Fail queues a non-close read error.
func (c *Conn) Fail(err error) { c.in <- inbound{err: err} }

// Read returns queued messages in order.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.in:
		return m.data, m.err
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write records a copy of p.
func (c *Conn) Write(_ context.Context, p []byte) error {
	if hook := c.hook(); hook != nil {
		hook(p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *Conn) hook() func([]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteHook
}

// Close records the call and unblocks pending reads.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCalls = append(c.closeCalls, CloseCall{Code: code, Reason: reason})
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Writes returns copies of every message written so far.
func (c *Conn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// CloseCalls returns every recorded Close invocation.
func (c *Conn) CloseCalls() []CloseCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CloseCall(nil), c.closeCalls...)
}

// Dialer is a mock implementation of stream.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Conn is returned by Dial. If nil, Dial returns a new Conn.
	Conn *Conn

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	urls []string
}

// Dial records the URL and returns Conn, DialErr.
func (d *Dialer) Dial(_ context.Context, rawURL string) (stream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Conn == nil {
		d.Conn = NewConn()
	}
	return d.Conn, nil
}

// URLs returns every URL passed to Dial.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

var (
	_ stream.Conn   = (*Conn)(nil)
	_ stream.Dialer = (*Dialer)(nil)
)

package publish

import (
	"context"

	"github.com/MrWong99/voxscribe/internal/resilience"
	"github.com/MrWong99/voxscribe/pkg/transcript"
)

// Guarded routes publications through a circuit breaker so an unreachable
// broker fails fast instead of delaying every segment.
type Guarded struct {
	next    Publisher
	breaker *resilience.Breaker
}

// Guard wraps p with b.
func Guard(p Publisher, b *resilience.Breaker) *Guarded {
	return &Guarded{next: p, breaker: b}
}

// Publish implements [Publisher].
func (g *Guarded) Publish(ctx context.Context, sessionID string, seg transcript.Segment) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.next.Publish(ctx, sessionID, seg)
	})
}

// PublishResult forwards to the wrapped publisher when it announces
// outcomes, and is a no-op otherwise.
func (g *Guarded) PublishResult(ctx context.Context, msg ResultMessage) error {
	rp, ok := g.next.(interface {
		PublishResult(context.Context, ResultMessage) error
	})
	if !ok {
		return nil
	}
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return rp.PublishResult(ctx, msg)
	})
}

// Close closes the wrapped publisher.
func (g *Guarded) Close() error { return g.next.Close() }

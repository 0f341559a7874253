// Package transcript merges the partial and final results of a streaming
// recognition session into one growing transcript.
package transcript

import (
	"strings"
	"sync"
)

// Segment is one recognised unit of speech as reported by the service.
type Segment struct {
	// Text is the recognised text of the top-ranked alternative.
	Text string

	// IsPartial marks an in-progress guess that later results replace.
	IsPartial bool

	// ResultID identifies the utterance the segment belongs to, when known.
	ResultID string
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithSeparator sets the text appended after every committed segment.
// The default is the empty string.
func WithSeparator(sep string) Option {
	return func(a *Aggregator) { a.separator = sep }
}

// Aggregator keeps the committed (final) text and the single live partial.
// It is safe for concurrent use.
type Aggregator struct {
	separator string

	mu        sync.Mutex
	committed strings.Builder
	pending   string
}

// NewAggregator returns an empty Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Apply folds seg into the transcript and returns the text to display.
//
// A partial replaces the previous partial wholesale. A final appends its text
// and the separator to the committed transcript and clears the partial.
func (a *Aggregator) Apply(seg Segment) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seg.IsPartial {
		a.pending = seg.Text
	} else {
		a.committed.WriteString(seg.Text)
		a.committed.WriteString(a.separator)
		a.pending = ""
	}
	return a.committed.String() + a.pending
}

// Display returns committed text followed by the live partial.
func (a *Aggregator) Display() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed.String() + a.pending
}

// Committed returns only the finalised text.
func (a *Aggregator) Committed() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed.String()
}

// Pending returns the live partial, or "" when none is in flight.
func (a *Aggregator) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Reset clears both the committed text and the live partial.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed.Reset()
	a.pending = ""
}

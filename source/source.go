// Package source streams ordered messages from the Sequencer Unit for a
// given (process, from, to) range (spec.md §4.E).
package source

import (
	"context"
	"fmt"

	"github.com/aonet/cu/aomsg"
	"github.com/aonet/cu/sortkey"
)

// Page is one page of SU results, as returned over the wire: descending by
// block height, with a paging cursor for continuation.
type Page struct {
	Interactions []RawInteraction
	HasMore      bool
	Cursor       string
}

// RawInteraction is a single `{interaction: {...}}` entry from the SU
// response (spec.md §6). Block fields may arrive as strings over the wire;
// the SUClient implementation is responsible for coercing them to numbers
// before they reach this struct.
type RawInteraction struct {
	SortKey     string
	BlockHeight int64
	Timestamp   int64
	Tags        []aomsg.Tag
	Message     aomsg.Message
}

// SUClient is the boundary interface to the Sequencer Unit's paginated
// interactions-sort-key endpoint.
type SUClient interface {
	FetchPage(ctx context.Context, processID string, from, to sortkey.SortKey, cursor string) (Page, error)
}

// Opener opens a Message Source stream.
type Opener interface {
	Open(ctx context.Context, processID string, from, to string) (*Stream, error)
}

// clientOpener is the default Opener, backed by a real SUClient.
type clientOpener struct {
	Client SUClient
}

// NewOpener wraps client as an Opener.
func NewOpener(client SUClient) Opener {
	return &clientOpener{Client: client}
}

// Open canonicalizes from/to per §4.A (to is incremented first if it is a
// bare block height) and returns a forward-only Stream.
func (o *clientOpener) Open(ctx context.Context, processID string, from, to string) (*Stream, error) {
	cFrom, err := sortkey.Canonicalize(from)
	if err != nil {
		return nil, fmt.Errorf("source: bad from bound: %w", err)
	}
	cTo, err := sortkey.IncrementBound(to)
	if err != nil {
		return nil, fmt.Errorf("source: bad to bound: %w", err)
	}
	return &Stream{
		client:    o.Client,
		processID: processID,
		from:      cFrom,
		to:        cTo,
	}, nil
}

// Stream is a finite, forward-only, pull-based sequence of messages in
// ascending sortKey order. No network call is made until Next is first
// called (explicit pull-based iteration, spec.md §9).
type Stream struct {
	client    SUClient
	processID string
	from, to  sortkey.SortKey

	cursor    string
	buffered  []RawInteraction // one page, already reversed to ascending
	exhausted bool
}

// Next returns the next message in ascending sortKey order, or (zero,
// false, nil) once the stream is exhausted. A malformed page fails the
// stream per spec.md §4.E.
func (s *Stream) Next(ctx context.Context) (aomsg.Message, bool, error) {
	for len(s.buffered) == 0 {
		if s.exhausted {
			return aomsg.Message{}, false, nil
		}
		page, err := s.client.FetchPage(ctx, s.processID, s.from, s.to, s.cursor)
		if err != nil {
			return aomsg.Message{}, false, err
		}
		for _, ri := range page.Interactions {
			if err := ri.Message.Validate(); err != nil {
				return aomsg.Message{}, false, fmt.Errorf("source: malformed page entry: %w", err)
			}
		}
		// SU pages are descending by block height; reverse into ascending
		// order before handing messages to the consumer.
		s.buffered = reverse(page.Interactions)
		s.cursor = page.Cursor
		s.exhausted = !page.HasMore
	}
	next := s.buffered[0]
	s.buffered = s.buffered[1:]
	return next.Message, true, nil
}

func reverse(in []RawInteraction) []RawInteraction {
	out := make([]RawInteraction, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

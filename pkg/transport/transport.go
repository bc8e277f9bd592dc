package transport

import (
	"errors"
	"sync/atomic"
)

// ErrBackPressured is the soft-fail sentinel Offer returns when the
// transport cannot accept more data right now. Callers must retry on a
// later tick without reordering.
var ErrBackPressured = errors.New("transport: back-pressured")

// ErrPublicationClosed is returned by Offer/Position once a Publication has
// been closed.
var ErrPublicationClosed = errors.New("transport: publication closed")

// Fragment is one delivered frame, handed to a FragmentHandler by Poll.
type Fragment struct {
	SessionID int32
	Data      []byte
}

// FragmentHandler consumes fragments delivered by Subscription.Poll.
type FragmentHandler func(Fragment)

// ImageUnavailableHandler is invoked when a per-publisher image within a
// subscription goes away (the publisher closed or timed out).
type ImageUnavailableHandler func(sessionID int32)

// Publication is the leader/sender side of a channel+streamID. Offer
// appends a frame and returns the resulting logical position, or
// ErrBackPressured if the transport cannot accept it right now.
type Publication interface {
	Offer(data []byte) (int64, error)
	Position() int64
	Close() error
}

// Subscription is the receiver side of a channel+streamID, possibly
// aggregating frames from more than one Publication (more than one Image).
type Subscription interface {
	// Poll delivers up to limit fragments to handler and returns the count
	// delivered. It never blocks.
	Poll(handler FragmentHandler, limit int) int
	Close() error
}

// Transport is the reliable ordered log-streaming transport consumed by
// the module. Channels are opaque URIs; AddPublication and
// AddSubscription on the same (channel, streamID) pair are wired together
// by whichever concrete Transport implementation is in use.
type Transport interface {
	AddPublication(channel string, streamID int32) (Publication, error)
	AddSubscription(channel string, streamID int32, onUnavailable ImageUnavailableHandler) (Subscription, error)

	// AgentInvoker drives the transport's own internal housekeeping one
	// step. Bounded long-running waits call this on every
	// idle iteration so the transport is kept alive while the caller
	// blocks on something else (a service ack, a recording counter).
	AgentInvoker()
}

// Counter is a single-writer, multi-reader position counter published with
// release-store semantics, backing
// commit/appended position publication for external observers.
type Counter struct {
	v atomic.Int64
}

// NewCounter returns a Counter initialised to value.
func NewCounter(value int64) *Counter {
	c := &Counter{}
	c.v.Store(value)
	return c
}

// Set publishes a new value with release semantics.
func (c *Counter) Set(value int64) {
	c.v.Store(value)
}

// Get reads the current value with acquire semantics.
func (c *Counter) Get() int64 {
	return c.v.Load()
}

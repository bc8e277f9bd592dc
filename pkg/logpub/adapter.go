package logpub

import (
	"github.com/cuemby/clustercore/pkg/transport"
)

// Handler receives each decoded record the Adapter consumes from the
// replicated stream, in order. Returning an error stops Poll and
// propagates it to the caller; the same record will be redelivered on the
// next Poll since the underlying subscription has not advanced past it.
type Handler func(Record) error

// Adapter is the follower-side consumer of the replicated log stream: it
// decodes each frame Poll delivers and dispatches it to Handler in order,
// treating the record's timestamp as the authoritative cluster time.
type Adapter struct {
	sub     transport.Subscription
	handler Handler
	err     error
}

// NewAdapter wraps sub, dispatching every decoded record to handler.
func NewAdapter(sub transport.Subscription, handler Handler) *Adapter {
	return &Adapter{sub: sub, handler: handler}
}

// Poll delivers up to limit records to the handler and returns how many
// were delivered. If the handler returns an error, Poll stops immediately,
// delivers no further records this call, and the error is available from
// Err() until the next successful Poll.
func (a *Adapter) Poll(limit int) int {
	a.err = nil
	delivered := 0
	a.sub.Poll(func(frag transport.Fragment) {
		if a.err != nil {
			return
		}
		record, err := Decode(frag.Data)
		if err != nil {
			a.err = err
			return
		}
		if err := a.handler(record); err != nil {
			a.err = err
			return
		}
		delivered++
	}, limit)
	return delivered
}

// Err returns the error, if any, raised by the most recent Poll.
func (a *Adapter) Err() error {
	return a.err
}

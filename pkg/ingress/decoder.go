package ingress

import "github.com/cuemby/clustercore/pkg/transport"

// FrameHandler receives each decoded client frame, in delivery order.
type FrameHandler func(Frame)

// Decoder wraps a transport.Subscription on the client-facing ingress
// channel, decoding each fragment into a Frame for the leader's session
// admission and steady-state ingest paths.
type Decoder struct {
	sub     transport.Subscription
	handler FrameHandler
	err     error
}

// NewDecoder wraps sub, dispatching every decoded frame to handler.
func NewDecoder(sub transport.Subscription, handler FrameHandler) *Decoder {
	return &Decoder{sub: sub, handler: handler}
}

// Poll delivers up to limit frames to the handler and returns how many
// were delivered. A frame that fails to decode is skipped and recorded as
// Err rather than stopping delivery of the rest of the batch — a single
// malformed client frame must not starve every other session's traffic.
func (d *Decoder) Poll(limit int) int {
	d.err = nil
	delivered := 0
	d.sub.Poll(func(frag transport.Fragment) {
		frame, err := Decode(frag.Data)
		if err != nil {
			d.err = err
			return
		}
		d.handler(frame)
		delivered++
	}, limit)
	return delivered
}

// Err returns the error, if any, raised while decoding the most recent
// Poll's batch.
func (d *Decoder) Err() error {
	return d.err
}

package serviceproxy

import "sync"

// ChannelLink is an in-process Link: module-to-service and
// service-to-module messages each sit in their own bounded queue, drained
// by Poll/Send rather than by blocking channel receives, so the agent's
// single-threaded tick never blocks on a hosted service.
type ChannelLink struct {
	mu       sync.Mutex
	outbound []ModuleMessage
	inbound  []ServiceMessage
	capacity int
}

// NewChannelLink returns a ChannelLink whose queues hold up to capacity
// messages each before Send starts dropping the oldest.
func NewChannelLink(capacity int) *ChannelLink {
	if capacity <= 0 {
		capacity = 256
	}
	return &ChannelLink{capacity: capacity}
}

// Send enqueues msg for the hosted service side to drain via DrainOutbound.
func (l *ChannelLink) Send(msg ModuleMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outbound = append(l.outbound, msg)
	if len(l.outbound) > l.capacity {
		l.outbound = l.outbound[len(l.outbound)-l.capacity:]
	}
	return nil
}

// DrainOutbound is called from the hosted-service side to take every
// module message sent since the last drain.
func (l *ChannelLink) DrainOutbound() []ModuleMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.outbound
	l.outbound = nil
	return out
}

// PushInbound is called from the hosted-service side to enqueue a message
// for the module to observe on its next Poll.
func (l *ChannelLink) PushInbound(msg ServiceMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound = append(l.inbound, msg)
	if len(l.inbound) > l.capacity {
		l.inbound = l.inbound[len(l.inbound)-l.capacity:]
	}
}

// Poll delivers up to limit queued inbound messages to handler, in order.
func (l *ChannelLink) Poll(handler func(ServiceMessage), limit int) int {
	l.mu.Lock()
	if limit <= 0 || limit > len(l.inbound) {
		limit = len(l.inbound)
	}
	batch := l.inbound[:limit]
	l.inbound = l.inbound[limit:]
	l.mu.Unlock()

	for _, msg := range batch {
		handler(msg)
	}
	return len(batch)
}

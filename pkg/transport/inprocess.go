package transport

import (
	"strconv"
	"sync"
)

// FrameAlignment is the byte alignment every offered frame is padded to;
// log positions advance in these aligned increments.
const FrameAlignment = 32

func alignedLen(n int) int64 {
	rem := n % FrameAlignment
	if rem == 0 {
		return int64(n)
	}
	return int64(n + (FrameAlignment - rem))
}

// queueCapacity bounds each subscription's pending-fragment queue; a full
// queue on any subscriber of a topic makes Offer return ErrBackPressured,
// the in-process stand-in for the real transport running out of term
// buffer space.
const queueCapacity = 4096

// Bus is the shared "network" multiple InProcessTransport instances plug
// into, so that publications from one member are delivered to
// subscriptions opened by another — enough to run multi-member cluster
// scenarios against a single process.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// NewBus creates an empty shared bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

type topic struct {
	mu            sync.Mutex
	nextSessionID int32
	subs          []*inprocessSubscription
}

func (t *topic) snapshotSubs() []*inprocessSubscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*inprocessSubscription(nil), t.subs...)
}

func topicKey(channel string, streamID int32) string {
	return channel + "#" + strconv.Itoa(int(streamID))
}

func (b *Bus) topicFor(channel string, streamID int32) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := topicKey(channel, streamID)
	t, ok := b.topics[key]
	if !ok {
		t = &topic{}
		b.topics[key] = t
	}
	return t
}

// InProcessTransport is a Transport implementation backed by a shared Bus.
// Every member in a single-process test constructs its own
// InProcessTransport over the same Bus so publications and subscriptions
// on matching (channel, streamID) pairs are wired together.
type InProcessTransport struct {
	bus *Bus
}

// NewInProcessTransport returns a Transport view onto bus.
func NewInProcessTransport(bus *Bus) *InProcessTransport {
	return &InProcessTransport{bus: bus}
}

func (t *InProcessTransport) AddPublication(channel string, streamID int32) (Publication, error) {
	tp := t.bus.topicFor(channel, streamID)
	tp.mu.Lock()
	tp.nextSessionID++
	sessionID := tp.nextSessionID
	tp.mu.Unlock()
	return &inprocessPublication{topic: tp, sessionID: sessionID}, nil
}

func (t *InProcessTransport) AddSubscription(channel string, streamID int32, onUnavailable ImageUnavailableHandler) (Subscription, error) {
	tp := t.bus.topicFor(channel, streamID)
	sub := &inprocessSubscription{onUnavailable: onUnavailable}
	tp.mu.Lock()
	tp.subs = append(tp.subs, sub)
	tp.mu.Unlock()
	return sub, nil
}

// AgentInvoker is a no-op for the in-process transport: there is no real
// I/O multiplexer to drive a step of.
func (t *InProcessTransport) AgentInvoker() {}

type inprocessPublication struct {
	topic     *topic
	sessionID int32
	mu        sync.Mutex
	position  int64
	closed    bool
}

func (p *inprocessPublication) Offer(data []byte) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPublicationClosed
	}

	subs := p.topic.snapshotSubs()
	for _, sub := range subs {
		if sub.isFull() {
			return 0, ErrBackPressured
		}
	}
	for _, sub := range subs {
		sub.push(Fragment{SessionID: p.sessionID, Data: append([]byte(nil), data...)})
	}

	p.position += alignedLen(len(data))
	return p.position, nil
}

func (p *inprocessPublication) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *inprocessPublication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type inprocessSubscription struct {
	mu            sync.Mutex
	queue         []Fragment
	closed        bool
	onUnavailable ImageUnavailableHandler
}

func (s *inprocessSubscription) isFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) >= queueCapacity
}

func (s *inprocessSubscription) push(f Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, f)
}

func (s *inprocessSubscription) Poll(handler FragmentHandler, limit int) int {
	s.mu.Lock()
	if limit <= 0 || limit > len(s.queue) {
		limit = len(s.queue)
	}
	batch := s.queue[:limit]
	s.queue = s.queue[limit:]
	s.mu.Unlock()

	for _, f := range batch {
		handler(f)
	}
	return len(batch)
}

func (s *inprocessSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

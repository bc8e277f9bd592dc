package events

import (
	"sync"
	"time"

	"github.com/cuemby/clustercore/pkg/types"
)

// EventType identifies the kind of cluster notification a Broker carries.
type EventType string

const (
	EventLeaderElected  EventType = "leader.elected"
	EventRoleChanged    EventType = "role.changed"
	EventMemberJoined   EventType = "member.joined"
	EventMemberLeft     EventType = "member.left"
	EventStateChanged   EventType = "state.changed"
	EventSnapshotTaken  EventType = "snapshot.taken"
	EventTerminationSet EventType = "termination.position_set"
)

// Event is one cluster notification, published locally as the agent moves
// through elections, membership changes, snapshots, and shutdown.
type Event struct {
	Type      EventType
	Timestamp time.Time
	MemberID  types.MemberID
	Term      int64
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker is a non-blocking, in-memory pub/sub bus for the agent's own
// state-transition notifications: nothing leaves the process, but it is a
// clean seam for an audit logger or a CLI --watch command to hang off of
// without coupling them to the orchestrator directly.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a broker and starts its distribution loop.
func NewBroker() *Broker {
	b := &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Stop halts the broadcast loop. Subscriber channels are left open;
// callers unsubscribe explicitly.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a new buffered channel registered with the broker.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe deregisters and closes sub.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish hands event to the broadcast loop without blocking: the agent's
// do_work tick cannot stall waiting on a slow subscriber or a full event
// buffer.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip rather than backing up the bus.
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

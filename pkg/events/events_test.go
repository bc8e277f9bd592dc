package events

import (
	"testing"
	"time"

	"github.com/cuemby/clustercore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventLeaderElected, MemberID: types.MemberID(1), Term: 3})

	select {
	case ev := <-sub:
		assert.Equal(t, EventLeaderElected, ev.Type)
		assert.Equal(t, types.MemberID(1), ev.MemberID)
		assert.Equal(t, int64(3), ev.Term)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	b := NewBroker()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventMemberJoined})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventMemberJoined, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("event never delivered to one subscriber")
		}
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBroker()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open, "unsubscribed channel must be closed")
}

func TestPublishNeverBlocksOnAFullSubscriberBuffer(t *testing.T) {
	b := NewBroker()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventStateChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked instead of dropping for a full subscriber")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	b := NewBroker()
	b.Stop()
	assert.NotPanics(t, func() { b.Stop() })
}

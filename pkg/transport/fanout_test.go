package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOutPublicationOffersToEveryMember(t *testing.T) {
	bus := NewBus()
	tpA := NewInProcessTransport(bus)
	tpB := NewInProcessTransport(bus)

	pubA, err := tpA.AddPublication("peer-a", 1)
	require.NoError(t, err)
	pubB, err := tpB.AddPublication("peer-b", 1)
	require.NoError(t, err)
	subA, err := NewInProcessTransport(bus).AddSubscription("peer-a", 1, nil)
	require.NoError(t, err)
	subB, err := NewInProcessTransport(bus).AddSubscription("peer-b", 1, nil)
	require.NoError(t, err)

	fanout := NewFanOutPublication(pubA, pubB)
	_, err = fanout.Offer([]byte("hi"))
	require.NoError(t, err)

	var gotA, gotB []byte
	subA.Poll(func(f Fragment) { gotA = f.Data }, 1)
	subB.Poll(func(f Fragment) { gotB = f.Data }, 1)
	assert.Equal(t, "hi", string(gotA))
	assert.Equal(t, "hi", string(gotB))
}

func TestFanOutPublicationBackPressureWhenAnyMemberIs(t *testing.T) {
	bus := NewBus()
	tp := NewInProcessTransport(bus)
	pub, err := tp.AddPublication("p", 1)
	require.NoError(t, err)
	_, err = NewInProcessTransport(bus).AddSubscription("p", 1, nil)
	require.NoError(t, err)

	for i := 0; i < queueCapacity; i++ {
		_, err := pub.Offer([]byte{0})
		require.NoError(t, err)
	}

	fanout := NewFanOutPublication(pub)
	_, err = fanout.Offer([]byte{1})
	assert.ErrorIs(t, err, ErrBackPressured)
}

func TestFanOutPublicationClose(t *testing.T) {
	bus := NewBus()
	tp := NewInProcessTransport(bus)
	pubA, err := tp.AddPublication("p", 1)
	require.NoError(t, err)
	pubB, err := tp.AddPublication("p", 2)
	require.NoError(t, err)

	fanout := NewFanOutPublication(pubA, pubB)
	require.NoError(t, fanout.Close())

	_, err = pubA.Offer([]byte{0})
	assert.ErrorIs(t, err, ErrPublicationClosed)
}

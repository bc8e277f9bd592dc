package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessPubSubDeliversInOrder(t *testing.T) {
	bus := NewBus()
	pubTransport := NewInProcessTransport(bus)
	subTransport := NewInProcessTransport(bus)

	pub, err := pubTransport.AddPublication("log", 1)
	require.NoError(t, err)
	sub, err := subTransport.AddSubscription("log", 1, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := pub.Offer([]byte{byte(i)})
		require.NoError(t, err)
	}

	var got []byte
	n := sub.Poll(func(f Fragment) { got = append(got, f.Data[0]) }, 10)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, got)
}

func TestInProcessPositionAligned(t *testing.T) {
	bus := NewBus()
	pub, err := NewInProcessTransport(bus).AddPublication("log", 1)
	require.NoError(t, err)

	pos, err := pub.Offer([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(FrameAlignment), pos)
}

func TestInProcessBackPressure(t *testing.T) {
	bus := NewBus()
	pubTransport := NewInProcessTransport(bus)
	subTransport := NewInProcessTransport(bus)

	pub, err := pubTransport.AddPublication("log", 1)
	require.NoError(t, err)
	_, err = subTransport.AddSubscription("log", 1, nil)
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < queueCapacity+1; i++ {
		_, lastErr = pub.Offer([]byte{0})
		if lastErr != nil {
			break
		}
	}
	assert.ErrorIs(t, lastErr, ErrBackPressured)
}

func TestMemoryArchiveRecordAndReplay(t *testing.T) {
	bus := NewBus()
	archive := NewMemoryArchive(bus)

	recordingID, err := archive.StartRecording("log", 1, "source")
	require.NoError(t, err)

	require.NoError(t, archive.Append(recordingID, []byte("one")))
	require.NoError(t, archive.Append(recordingID, []byte("two")))
	require.NoError(t, archive.StopRecording(recordingID))

	stop, err := archive.GetStopPosition(recordingID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*FrameAlignment), stop)

	replaySub, err := NewInProcessTransport(bus).AddSubscription("replay", 2, nil)
	require.NoError(t, err)

	_, err = archive.StartReplay(recordingID, 0, -1, "replay", 2)
	require.NoError(t, err)

	var frames [][]byte
	replaySub.Poll(func(f Fragment) { frames = append(frames, f.Data) }, 10)
	require.Len(t, frames, 2)
	assert.Equal(t, "one", string(frames[0]))
	assert.Equal(t, "two", string(frames[1]))
}

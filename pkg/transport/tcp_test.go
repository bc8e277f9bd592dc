package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForFragments(t *testing.T, sub Subscription, want int) []Fragment {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got []Fragment
	for time.Now().Before(deadline) {
		sub.Poll(func(f Fragment) { got = append(got, f) }, 10)
		if len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	return got
}

func TestTCPPubSubDeliversAcrossConnection(t *testing.T) {
	server, err := NewTCPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	sub, err := server.AddSubscription("ignored", 7, nil)
	require.NoError(t, err)

	client, err := NewTCPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	pub, err := client.AddPublication(server.ln.Addr().String(), 7)
	require.NoError(t, err)

	_, err = pub.Offer([]byte("hello"))
	require.NoError(t, err)
	_, err = pub.Offer([]byte("world"))
	require.NoError(t, err)

	got := waitForFragments(t, sub, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", string(got[0].Data))
	assert.Equal(t, "world", string(got[1].Data))
}

func TestTCPPublicationPositionAligned(t *testing.T) {
	server, err := NewTCPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := NewTCPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	pub, err := client.AddPublication(server.ln.Addr().String(), 1)
	require.NoError(t, err)

	pos, err := pub.Offer([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(FrameAlignment), pos)
	assert.Equal(t, pos, pub.Position())
}

func TestTCPPublicationClosed(t *testing.T) {
	server, err := NewTCPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	pub, err := server.AddPublication("127.0.0.1:1", 1)
	require.NoError(t, err)
	require.NoError(t, pub.Close())

	_, err = pub.Offer([]byte("x"))
	assert.ErrorIs(t, err, ErrPublicationClosed)
}

func TestTCPOfferToUnreachableAddrIsBackPressured(t *testing.T) {
	client, err := NewTCPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	// Port 0 on an already-bound address never accepts connections, so the
	// dial fails the same way a peer that is down or unreachable would.
	pub, err := client.AddPublication("127.0.0.1:0", 1)
	require.NoError(t, err)

	_, err = pub.Offer([]byte("x"))
	assert.ErrorIs(t, err, ErrBackPressured)
}

package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailbox_PutNeverBlocksAndPreservesOrder(t *testing.T) {
	box := newMailbox[int](0)
	for i := 0; i < 5000; i++ {
		dropped, ok := box.put(i)
		require.True(t, ok)
		require.False(t, dropped)
	}
	for i := 0; i < 5000; i++ {
		select {
		case got := <-box.out:
			require.Equal(t, i, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for value %d", i)
		}
	}
	box.finish()
	_, open := <-box.out
	require.False(t, open)
}

func TestMailbox_FullQueueDropsOldest(t *testing.T) {
	box := newMailbox[int](3)
	drops := 0
	for i := 0; i < 20; i++ {
		dropped, ok := box.put(i)
		require.True(t, ok)
		if dropped {
			drops++
		}
	}
	box.finish()

	var got []int
	for v := range box.out {
		got = append(got, v)
	}
	// The pump may already hold one value outside the queue.
	require.GreaterOrEqual(t, drops, 16)
	require.Len(t, got, 20-drops)
	require.Equal(t, []int{17, 18, 19}, got[len(got)-3:])
	require.IsIncreasing(t, got)
}

func TestMailbox_FinishDeliversQueuedValues(t *testing.T) {
	box := newMailbox[string](0)
	box.put("a")
	box.put("b")
	box.finish()
	_, ok := box.put("c")
	require.False(t, ok)

	var got []string
	for v := range box.out {
		got = append(got, v)
	}
	require.Equal(t, []string{"a", "b"}, got)
}

func TestMailbox_DiscardClosesWithoutConsumer(t *testing.T) {
	box := newMailbox[int](0)
	box.put(1)
	box.put(2)
	box.discard()
	box.discard()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-box.out:
			return !open
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

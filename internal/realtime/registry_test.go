package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func channels(entries []*channelEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.channel)
	}
	return out
}

func TestRegistry_SharesEntryPerChannelInRegistrationOrder(t *testing.T) {
	r := newRegistry()
	a1 := &Subscription{channel: "/a"}
	b := &Subscription{channel: "/b"}
	a2 := &Subscription{channel: "/a"}

	_, first := r.add(a1)
	require.True(t, first)
	r.add(b)
	entry, first := r.add(a2)
	require.False(t, first)
	require.Len(t, entry.subs, 2)

	require.Equal(t, []string{"/a", "/b"}, channels(r.pending()))
	require.Len(t, r.drain(), 3)
}

func TestRegistry_WiringAndReset(t *testing.T) {
	r := newRegistry()
	a := &Subscription{channel: "/a"}
	b := &Subscription{channel: "/b"}
	entryA, _ := r.add(a)
	r.add(b)

	r.markWired(entryA, "sub-1")
	require.Same(t, entryA, r.lookup("sub-1"))
	require.Equal(t, []string{"/b"}, channels(r.pending()))

	r.unmarkWired(entryA)
	require.Nil(t, r.lookup("sub-1"))
	require.Equal(t, []string{"/a", "/b"}, channels(r.pending()))

	r.markWired(entryA, "sub-2")
	r.unwireAll()
	require.Nil(t, r.lookup("sub-2"))
	require.Equal(t, []string{"/a", "/b"}, channels(r.pending()))
}

func TestRegistry_RemoveReportsLastSubscriber(t *testing.T) {
	r := newRegistry()
	a1 := &Subscription{channel: "/a"}
	a2 := &Subscription{channel: "/a"}
	entry, _ := r.add(a1)
	r.add(a2)
	r.markWired(entry, "sub-1")

	_, last := r.remove(a1)
	require.False(t, last)
	require.True(t, r.contains(entry))
	removed, last := r.remove(a2)
	require.True(t, last)
	require.False(t, r.contains(entry))
	require.Equal(t, "sub-1", removed.wireID)
	require.Nil(t, r.lookup("sub-1"))

	missing, last := r.remove(a2)
	require.Nil(t, missing)
	require.False(t, last)
	require.Empty(t, r.pending())
}

func TestRegistry_ReaddedChannelMovesToEnd(t *testing.T) {
	r := newRegistry()
	a := &Subscription{channel: "/a"}
	r.add(a)
	r.add(&Subscription{channel: "/b"})
	r.remove(a)
	r.add(&Subscription{channel: "/a"})

	require.Equal(t, []string{"/b", "/a"}, channels(r.pending()))
	require.Len(t, r.drain(), 2)
	require.Empty(t, r.pending())
}

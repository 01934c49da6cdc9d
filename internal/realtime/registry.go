package realtime

import "slices"

// channelEntry groups the local subscriptions of one channel. They share a
// single transport subscription, identified by wireID once wired.
type channelEntry struct {
	channel string
	wireID  string
	subs    []*Subscription
}

func (e *channelEntry) wired() bool {
	return e.wireID != ""
}

// registry tracks subscription intents in registration order. It is guarded
// by the owning Conn's mutex.
type registry struct {
	byChannel map[string]*channelEntry
	byWire    map[string]*channelEntry
	order     []*channelEntry
}

func newRegistry() *registry {
	return &registry{
		byChannel: map[string]*channelEntry{},
		byWire:    map[string]*channelEntry{},
	}
}

// add records sub and reports whether it is the first subscriber of its
// channel.
func (r *registry) add(sub *Subscription) (*channelEntry, bool) {
	entry, ok := r.byChannel[sub.channel]
	if !ok {
		entry = &channelEntry{channel: sub.channel}
		r.byChannel[sub.channel] = entry
		r.order = append(r.order, entry)
	}
	entry.subs = append(entry.subs, sub)
	return entry, !ok
}

// remove forgets sub and reports whether it was the last subscriber of its
// channel. The returned entry is nil when sub was not registered.
func (r *registry) remove(sub *Subscription) (*channelEntry, bool) {
	entry, ok := r.byChannel[sub.channel]
	if !ok {
		return nil, false
	}
	idx := slices.Index(entry.subs, sub)
	if idx < 0 {
		return nil, false
	}
	entry.subs = slices.Delete(entry.subs, idx, idx+1)
	if len(entry.subs) > 0 {
		return entry, false
	}
	delete(r.byChannel, entry.channel)
	if entry.wired() {
		delete(r.byWire, entry.wireID)
	}
	r.order = slices.DeleteFunc(r.order, func(e *channelEntry) bool { return e == entry })
	return entry, true
}

func (r *registry) markWired(entry *channelEntry, wireID string) {
	entry.wireID = wireID
	r.byWire[wireID] = entry
}

// unmarkWired turns entry back into a pending one.
func (r *registry) unmarkWired(entry *channelEntry) {
	if entry.wired() {
		delete(r.byWire, entry.wireID)
	}
	entry.wireID = ""
}

// contains reports whether entry is still the live entry of its channel.
func (r *registry) contains(entry *channelEntry) bool {
	return r.byChannel[entry.channel] == entry
}

// pending returns the entries not wired to the live transport, in
// registration order.
func (r *registry) pending() []*channelEntry {
	out := make([]*channelEntry, 0, len(r.order))
	for _, entry := range r.order {
		if !entry.wired() {
			out = append(out, entry)
		}
	}
	return out
}

// unwireAll turns every entry back into a pending one after the transport
// was lost.
func (r *registry) unwireAll() {
	for _, entry := range r.order {
		entry.wireID = ""
	}
	clear(r.byWire)
}

func (r *registry) lookup(wireID string) *channelEntry {
	return r.byWire[wireID]
}

// drain removes and returns every subscription.
func (r *registry) drain() []*Subscription {
	var subs []*Subscription
	for _, entry := range r.order {
		subs = append(subs, entry.subs...)
	}
	r.order = nil
	clear(r.byChannel)
	clear(r.byWire)
	return subs
}

package realtime

import (
	"sync"
	"sync/atomic"
)

// Subscription receives the messages of one channel in arrival order. It is
// created pending and wired to the transport whenever the connection is up.
type Subscription struct {
	conn    *Conn
	channel string
	box     *mailbox[Message]

	active  atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
}

func newSubscription(conn *Conn, channel string, capacity int) *Subscription {
	s := &Subscription{conn: conn, channel: channel, box: newMailbox[Message](capacity)}
	s.active.Store(true)
	return s
}

func (s *Subscription) Channel() string {
	return s.channel
}

// C delivers messages until the subscription is removed or the connection is
// closed, at which point it is closed.
func (s *Subscription) C() <-chan Message {
	return s.box.out
}

func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Dropped counts the messages discarded because the consumer fell more than
// the mailbox capacity behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe stops delivery. It may be called at any time, more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		s.conn.unsubscribe(s)
		s.box.discard()
	})
}

// deactivate is Unsubscribe without touching the registry, used by Close
// after it has already emptied it.
func (s *Subscription) deactivate() {
	s.once.Do(func() {
		s.active.Store(false)
		s.box.discard()
	})
}

// deliver enqueues msg. dropped is the running drop count when this call
// pushed out an older message and zero otherwise.
func (s *Subscription) deliver(msg Message) (dropped uint64, ok bool) {
	if !s.active.Load() {
		return 0, false
	}
	overflow, ok := s.box.put(msg)
	if !ok || !overflow {
		return 0, ok
	}
	return s.dropped.Add(1), true
}

package realtime

import "sync"

// mailbox is a FIFO queue drained into out by its own goroutine. put never
// blocks, so a slow consumer only delays itself. With a positive capacity the
// oldest queued value is dropped to make room once the queue is full.
type mailbox[T any] struct {
	mu       sync.Mutex
	queue    []T
	capacity int
	closing  bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	out      chan T
}

// newMailbox starts a mailbox. A capacity of zero or less means unbounded.
func newMailbox[T any](capacity int) *mailbox[T] {
	m := &mailbox[T]{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		out:      make(chan T),
	}
	go m.pump()
	return m
}

// put enqueues v. dropped is true when the oldest value was discarded to
// make room. ok is false once the mailbox was closed.
func (m *mailbox[T]) put(v T) (dropped bool, ok bool) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return false, false
	}
	if m.capacity > 0 && len(m.queue) >= m.capacity {
		var zero T
		m.queue[0] = zero
		m.queue = m.queue[1:]
		dropped = true
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return dropped, true
}

// finish stops accepting values. Queued values are still delivered before out
// is closed.
func (m *mailbox[T]) finish() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// discard drops queued values and closes out as soon as possible.
func (m *mailbox[T]) discard() {
	m.mu.Lock()
	m.closing = true
	m.queue = nil
	m.mu.Unlock()
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *mailbox[T]) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closing := m.closing
			m.queue = nil
			m.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-m.wake:
				continue
			case <-m.stop:
				return
			}
		}
		v := m.queue[0]
		var zero T
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- v:
		case <-m.stop:
			return
		}
	}
}

// Package realtimetest provides an in-memory realtime transport for tests.
package realtimetest

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"vaultchat/internal/realtime"
)

// Dialer hands out in-memory transports and records the tokens it was
// dialed with.
type Dialer struct {
	mu       sync.Mutex
	failures []error
	tokens   []string
	gate     chan struct{}
	dialed   chan *Transport
}

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Transport, 64)}
}

// FailNext makes the next Dial return err instead of a transport.
func (d *Dialer) FailNext(err error) {
	d.mu.Lock()
	d.failures = append(d.failures, err)
	d.mu.Unlock()
}

// HoldControl makes SUBSCRIBE and UNSUBSCRIBE writes on every transport
// dialed afterwards block until release is called.
func (d *Dialer) HoldControl() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.gate = nil
			d.mu.Unlock()
			close(gate)
		})
	}
}

func (d *Dialer) Dial(ctx context.Context, token string) (realtime.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.tokens = append(d.tokens, token)
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}
	gate := d.gate
	d.mu.Unlock()

	t := newTransport(token)
	t.gate = gate
	d.dialed <- t
	return t, nil
}

func (d *Dialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// Next waits for the next successful Dial.
func (d *Dialer) Next(timeout time.Duration) (*Transport, error) {
	select {
	case t := <-d.dialed:
		return t, nil
	case <-time.After(timeout):
		return nil, errors.New("timed out waiting for dial")
	}
}

type Sent struct {
	Channel     string
	ContentType string
	Body        []byte
}

type inbound struct {
	delivery realtime.Delivery
	err      error
}

// Transport is an in-memory realtime.Transport. Tests push inbound traffic
// with Deliver and inspect what the connection wrote.
type Transport struct {
	Token string

	mu       sync.Mutex
	subs     map[string]string
	ops      []string
	sent     []Sent
	closed   bool
	inbound  chan inbound
	done     chan struct{}
	closeErr error
	gate     chan struct{}
	held     atomic.Int32
}

func newTransport(token string) *Transport {
	return &Transport{
		Token:   token,
		subs:    map[string]string{},
		inbound: make(chan inbound, 256),
		done:    make(chan struct{}),
	}
}

// HoldControl makes SUBSCRIBE and UNSUBSCRIBE writes block until release is
// called or the transport is closed. Receive keeps working meanwhile.
func (t *Transport) HoldControl() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.gate = gate
	t.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.gate = nil
			t.mu.Unlock()
			close(gate)
		})
	}
}

// Held reports how many control writes are currently blocked.
func (t *Transport) Held() int {
	return int(t.held.Load())
}

func (t *Transport) waitGate() {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate == nil {
		return
	}
	t.held.Add(1)
	defer t.held.Add(-1)
	select {
	case <-gate:
	case <-t.done:
	}
}

func (t *Transport) Subscribe(id string, channel string) error {
	t.waitGate()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return io.ErrClosedPipe
	}
	t.subs[id] = channel
	t.ops = append(t.ops, "SUBSCRIBE "+channel)
	return nil
}

func (t *Transport) Unsubscribe(id string) error {
	t.waitGate()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return io.ErrClosedPipe
	}
	channel := t.subs[id]
	delete(t.subs, id)
	t.ops = append(t.ops, "UNSUBSCRIBE "+channel)
	return nil
}

func (t *Transport) Send(channel string, contentType string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return io.ErrClosedPipe
	}
	t.sent = append(t.sent, Sent{Channel: channel, ContentType: contentType, Body: append([]byte(nil), body...)})
	return nil
}

func (t *Transport) Receive() (realtime.Delivery, error) {
	select {
	case in := <-t.inbound:
		return in.delivery, in.err
	case <-t.done:
		t.mu.Lock()
		err := t.closeErr
		t.mu.Unlock()
		return realtime.Delivery{}, err
	}
}

func (t *Transport) Close() error {
	t.drop(io.EOF)
	return nil
}

// Drop simulates the link failing with err.
func (t *Transport) Drop(err error) {
	t.drop(err)
}

func (t *Transport) drop(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.closeErr = err
	close(t.done)
}

// Deliver pushes a message to every transport subscription on channel and
// reports how many there were.
func (t *Transport) Deliver(channel string, body string) int {
	t.mu.Lock()
	var ids []string
	for id, ch := range t.subs {
		if ch == channel {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.DeliverTo(id, realtime.Message{Channel: channel, ContentType: "application/json", Body: []byte(body)})
	}
	return len(ids)
}

// DeliverTo pushes msg addressed to a raw subscription id.
func (t *Transport) DeliverTo(subscriptionID string, msg realtime.Message) {
	t.inbound <- inbound{delivery: realtime.Delivery{SubscriptionID: subscriptionID, Message: msg}}
}

// DeliverMalformed pushes a frame the transport could not decode.
func (t *Transport) DeliverMalformed() {
	t.inbound <- inbound{err: &realtime.FrameError{Command: "MESSAGE", Err: errors.New("missing subscription header")}}
}

// Ops lists SUBSCRIBE and UNSUBSCRIBE operations in the order they happened.
func (t *Transport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ops...)
}

func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"vaultchat/internal/credential"
	"vaultchat/internal/logging"
	"vaultchat/internal/metrics"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	// DefaultMailboxCapacity is how many undelivered messages a subscription
	// keeps before the oldest are dropped.
	DefaultMailboxCapacity = 4096
	dropWarnInterval       = 1024
)

// Credentials is the session the connection authenticates with.
type Credentials interface {
	Token() string
	Refresh(ctx context.Context, rejected string) (credential.Credential, error)
}

type Options struct {
	ReconnectDelay  time.Duration
	MailboxCapacity int
	Metrics         *metrics.Metrics
}

// Conn is a persistent link that reconnects after failures and re-establishes
// its subscriptions every time it comes back.
type Conn struct {
	dialer  Dialer
	creds   Credentials
	logger  *logging.Logger
	metrics *metrics.Metrics
	delay   time.Duration
	boxCap  int

	// wireMu orders SUBSCRIBE and UNSUBSCRIBE writes. It is never taken
	// while mu is held, and mu is never held across a transport write.
	wireMu sync.Mutex

	mu        sync.Mutex
	state     State
	closed    bool
	running   bool
	transport Transport
	registry  *registry
	changed   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}

	listeners    map[int]func(State)
	nextListener int
	events       *mailbox[State]
}

func New(dialer Dialer, creds Credentials, logger *logging.Logger, opts Options) *Conn {
	if logger == nil {
		panic("realtime.New: logger must not be nil")
	}
	if dialer == nil || creds == nil {
		panic("realtime.New: dialer and credentials must not be nil")
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	boxCap := opts.MailboxCapacity
	if boxCap <= 0 {
		boxCap = DefaultMailboxCapacity
	}
	c := &Conn{
		dialer:    dialer,
		creds:     creds,
		logger:    logger,
		metrics:   opts.Metrics,
		delay:     delay,
		boxCap:    boxCap,
		state:     Disconnected,
		registry:  newRegistry(),
		changed:   make(chan struct{}),
		listeners: map[int]func(State){},
		events:    newMailbox[State](0),
	}
	go c.notifyLoop()
	return c
}

// Connect starts the session loop. The loop keeps reconnecting until Close is
// called, ctx is canceled, or the credential is gone.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.running || c.state != Disconnected {
		return ErrAlreadyStarted
	}
	if strings.TrimSpace(c.creds.Token()) == "" {
		return ErrNoCredential
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.setStateLocked(Connecting)
	go c.run(loopCtx, c.done)
	return nil
}

// Close shuts the connection down for good. Subscriptions are deactivated
// and their channels closed; no reconnect is attempted afterwards.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.setStateLocked(Closing)
	cancel, tr, done, running := c.cancel, c.transport, c.done, c.running
	subs := c.registry.drain()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		_ = tr.Close()
	}
	if running {
		<-done
	}
	for _, sub := range subs {
		sub.deactivate()
	}

	c.mu.Lock()
	c.transport = nil
	c.setStateLocked(Disconnected)
	c.mu.Unlock()
	c.events.finish()
	c.logger.Debug("realtime connection closed", logging.Field("subscriptions", len(subs)))
	return nil
}

// Send publishes body to channel. It never queues: unless the connection is
// live it fails with ErrNotConnected.
func (c *Conn) Send(channel string, contentType string, body []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Connected || c.transport == nil {
		c.mu.Unlock()
		c.metrics.SendRejected()
		return ErrNotConnected
	}
	tr := c.transport
	c.mu.Unlock()

	if err := tr.Send(channel, contentType, body); err != nil {
		return fmt.Errorf("send to %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers interest in channel. The subscription is wired at once
// when connected and otherwise when the next connection is acknowledged.
func (c *Conn) Subscribe(channel string) (*Subscription, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, errors.New("subscription channel must not be empty")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newSubscription(c, channel, c.boxCap)
	entry, first := c.registry.add(sub)
	tr := c.transport
	live := first && c.state == Connected && tr != nil
	c.mu.Unlock()

	wired := false
	if live {
		wired, _ = c.wire(tr, entry)
	}
	c.logger.Debug("realtime subscription added",
		logging.Field("channel", channel),
		logging.Field("pending", !wired),
	)
	return sub, nil
}

func (c *Conn) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	entry, last := c.registry.remove(sub)
	if entry == nil || !last || !entry.wired() || c.transport == nil {
		c.mu.Unlock()
		return
	}
	tr, id := c.transport, entry.wireID
	c.mu.Unlock()

	c.wireMu.Lock()
	defer c.wireMu.Unlock()
	if err := tr.Unsubscribe(id); err != nil {
		c.logger.Warn("realtime unsubscribe failed",
			logging.Field("channel", entry.channel),
			logging.Field("error", err),
		)
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitConnected blocks until the connection is live or ctx is done. It
// returns ErrClosed after Close and ErrStopped when the session loop is not
// running, so a loop that gave up does not leave callers waiting.
func (c *Conn) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, closed, running, changed := c.state, c.closed, c.running, c.changed
		c.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if state == Connected {
			return nil
		}
		if !running {
			return ErrStopped
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnStateChange registers fn for state transitions. Notifications arrive in
// transition order on a dedicated goroutine.
func (c *Conn) OnStateChange(fn func(State)) func() {
	if fn == nil {
		panic("realtime.Conn.OnStateChange: fn must not be nil")
	}
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Conn) notifyLoop() {
	for state := range c.events.out {
		c.mu.Lock()
		fns := make([]func(State), 0, len(c.listeners))
		for id := 0; id < c.nextListener; id++ {
			if fn, ok := c.listeners[id]; ok {
				fns = append(fns, fn)
			}
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(state)
		}
	}
}

// setStateLocked must be called with c.mu held.
func (c *Conn) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.logger.Debug("realtime state change",
		logging.Field("from", c.state.String()),
		logging.Field("to", next.String()),
	)
	c.state = next
	c.wakeLocked()
	c.metrics.ConnectionState(int(next))
	c.events.put(next)
}

// wakeLocked releases WaitConnected callers so they re-check the state.
func (c *Conn) wakeLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// wire subscribes entry on tr. The wire id is reserved under mu before the
// write so frames that arrive early are routed, and the write runs with mu
// released. If the entry is removed meanwhile, unsubscribe sees the reserved
// id and releases it once this write is done. On failure the entry goes back
// to pending; the broken link surfaces in the read loop and the entry is
// wired again after the reconnect. Entries that no longer need wiring are
// skipped with a false result and a nil error.
func (c *Conn) wire(tr Transport, entry *channelEntry) (bool, error) {
	c.wireMu.Lock()
	defer c.wireMu.Unlock()

	c.mu.Lock()
	if c.transport != tr || entry.wired() || !c.registry.contains(entry) {
		c.mu.Unlock()
		return false, nil
	}
	id := uuid.NewString()
	c.registry.markWired(entry, id)
	c.mu.Unlock()

	err := tr.Subscribe(id, entry.channel)
	if err == nil {
		return true, nil
	}
	c.mu.Lock()
	if entry.wireID == id {
		c.registry.unmarkWired(entry)
	}
	c.mu.Unlock()
	c.logger.Warn("realtime subscribe failed",
		logging.Field("channel", entry.channel),
		logging.Field("error", err),
	)
	return false, err
}

// flush wires every pending entry on tr in registration order and publishes
// Connected once nothing is left pending. Entries added during the flush are
// picked up by the next pass.
func (c *Conn) flush(tr Transport) (int, error) {
	wired := 0
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return wired, ErrClosed
		}
		pending := c.registry.pending()
		if len(pending) == 0 {
			c.setStateLocked(Connected)
			c.mu.Unlock()
			return wired, nil
		}
		c.mu.Unlock()

		failed := false
		for _, entry := range pending {
			ok, err := c.wire(tr, entry)
			if ok {
				wired++
			}
			if err != nil {
				failed = true
				break
			}
		}
		if failed {
			// The link is broken; the read loop reports it and the
			// remaining entries are wired after the reconnect.
			c.mu.Lock()
			if !c.closed {
				c.setStateLocked(Connected)
			}
			c.mu.Unlock()
			return wired, nil
		}
	}
}

func (c *Conn) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		token := strings.TrimSpace(c.creds.Token())
		if token == "" {
			return struct{}{}, backoff.Permanent(ErrNoCredential)
		}

		err := c.runSession(ctx, token)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = io.EOF
		}

		if isUnauthorizedHandshake(err) {
			c.logger.Info("realtime handshake unauthorized; refreshing credential")
			if _, refreshErr := c.creds.Refresh(ctx, token); refreshErr != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %w", err, refreshErr))
			}
		}

		c.metrics.Reconnect()
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.delay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Info("realtime disconnected; reconnecting",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()),
			)
		}),
	)

	c.mu.Lock()
	c.running = false
	if !c.closed {
		c.setStateLocked(Disconnected)
	}
	c.wakeLocked()
	c.mu.Unlock()

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.logger.Debug("realtime session loop stopped")
	default:
		c.logger.Warn("realtime session loop stopped", logging.Field("error", err))
	}
}

// runSession performs one connection attempt and blocks while the link is up.
func (c *Conn) runSession(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	c.logger.Debug("dialing realtime endpoint", logging.Field("token", logging.RedactToken(token)))
	tr, err := c.dialer.Dial(ctx, token)
	if err != nil {
		c.markDisconnected()
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = tr.Close() })
	defer stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = tr.Close()
		return ErrClosed
	}
	c.transport = tr
	c.mu.Unlock()

	wired, err := c.flush(tr)
	if err != nil {
		_ = tr.Close()
		return err
	}
	c.logger.Info("realtime connected",
		logging.Field("state", Connected.String()),
		logging.Field("subscriptions", wired),
	)

	err = c.readLoop(tr)
	_ = tr.Close()

	c.mu.Lock()
	if c.transport == tr {
		c.transport = nil
	}
	c.registry.unwireAll()
	if !c.closed {
		c.setStateLocked(Disconnected)
	}
	c.mu.Unlock()
	return err
}

func (c *Conn) markDisconnected() {
	c.mu.Lock()
	if !c.closed {
		c.setStateLocked(Disconnected)
	}
	c.mu.Unlock()
}

func (c *Conn) readLoop(tr Transport) error {
	for {
		delivery, err := tr.Receive()
		if err != nil {
			var frameErr *FrameError
			if errors.As(err, &frameErr) {
				c.metrics.Frame("malformed")
				c.logger.Warn("dropping malformed frame", logging.Field("error", err))
				continue
			}
			return err
		}
		c.dispatch(delivery)
	}
}

// dispatch hands one decoded message to every active subscription of its
// channel. It never blocks on consumers.
func (c *Conn) dispatch(delivery Delivery) {
	c.mu.Lock()
	entry := c.registry.lookup(delivery.SubscriptionID)
	if entry == nil {
		c.mu.Unlock()
		c.metrics.Frame("unknown_subscription")
		c.logger.Debug("dropping message for unknown subscription",
			logging.Field("subscription", delivery.SubscriptionID),
			logging.Field("channel", delivery.Message.Channel),
		)
		return
	}
	subs := append([]*Subscription(nil), entry.subs...)
	c.mu.Unlock()

	if delivery.Message.Channel == "" {
		delivery.Message.Channel = entry.channel
	}
	delivered := 0
	for _, sub := range subs {
		dropped, ok := sub.deliver(delivery.Message)
		if !ok {
			continue
		}
		delivered++
		if dropped == 0 {
			continue
		}
		c.metrics.Frame("overflow")
		if dropped == 1 || dropped%dropWarnInterval == 0 {
			c.logger.Warn("subscriber is falling behind; dropping oldest messages",
				logging.Field("channel", sub.channel),
				logging.Field("capacity", c.boxCap),
				logging.Field("dropped", dropped),
			)
		}
	}
	c.metrics.Frame("dispatched")
	c.metrics.Delivered(delivered)
}

package realtime

import "context"

// Message is one inbound payload. It is decoded once per frame and shared by
// every subscription on its channel, so Body must be treated as read-only.
type Message struct {
	Channel     string
	ID          string
	ContentType string
	Body        []byte
}

// Delivery is an inbound message addressed to a transport-level subscription.
type Delivery struct {
	SubscriptionID string
	Message        Message
}

// Transport is one established link. Receive is only called from a single
// goroutine; the write methods may be called concurrently with it.
type Transport interface {
	Subscribe(id string, channel string) error
	Unsubscribe(id string) error
	Send(channel string, contentType string, body []byte) error
	// Receive blocks for the next message. A *FrameError means the frame was
	// dropped and the link is still usable; any other error ends the link.
	Receive() (Delivery, error)
	Close() error
}

// Dialer opens a link authorized with token. It returns once the server has
// acknowledged the session.
type Dialer interface {
	Dial(ctx context.Context, token string) (Transport, error)
}

package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"vaultchat/internal/logging"
)

const (
	DefaultHeartBeat = 10 * time.Second
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
	closeGrace       = time.Second

	// DefaultMaxMessageBytes caps one inbound WebSocket message.
	DefaultMaxMessageBytes = 1 << 20
)

// StompDialer connects to a STOMP broker endpoint exposed over WebSocket. The
// token is passed both as the "token" query parameter of the upgrade request
// and as the Authorization header of the upgrade and of the CONNECT frame.
type StompDialer struct {
	URL       string
	HeartBeat time.Duration
	WebSocket *websocket.Dialer
	Logger    *logging.Logger
	// MaxMessageBytes limits inbound messages; larger ones end the link.
	// Zero uses DefaultMaxMessageBytes.
	MaxMessageBytes int64
}

func NewStompDialer(wsURL string, logger *logging.Logger) *StompDialer {
	if logger == nil {
		panic("realtime.NewStompDialer: logger must not be nil")
	}
	return &StompDialer{
		URL:       wsURL,
		HeartBeat: DefaultHeartBeat,
		WebSocket: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		Logger:          logger,
		MaxMessageBytes: DefaultMaxMessageBytes,
	}
}

func (d *StompDialer) Dial(ctx context.Context, token string) (Transport, error) {
	target, host, err := handshakeURL(d.URL, token)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := d.WebSocket
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			d.Logger.Warn("realtime upgrade rejected",
				logging.Field("status", resp.Status),
				logging.Field("response", logging.FormatHTTPPayload(data)),
			)
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
		}
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	limit := d.MaxMessageBytes
	if limit <= 0 {
		limit = DefaultMaxMessageBytes
	}
	ws.SetReadLimit(limit)

	// Abort the STOMP handshake if ctx ends before CONNECTED arrives.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	t := newStompTransport(ws, d.Logger)
	heartBeat := d.HeartBeat
	if heartBeat < 0 {
		heartBeat = 0
	}
	beat := strconv.FormatInt(heartBeat.Milliseconds(), 10)
	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1",
		frame.Host, host,
		frame.HeartBeat, beat+","+beat,
	)
	connect.Header.Set("Authorization", "Bearer "+token)
	if err := t.write(connect); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send CONNECT frame: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	connected, err := t.readFrame()
	if err != nil {
		_ = ws.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read CONNECTED frame: %w", err)
	}
	switch connected.Command {
	case frame.CONNECTED:
	case frame.ERROR:
		_ = ws.Close()
		return nil, &HandshakeError{
			Status: connected.Header.Get(frame.Message),
			Err:    errors.New(string(bytes.TrimSpace(connected.Body))),
		}
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected %s frame during handshake", connected.Command)
	}
	_ = ws.SetReadDeadline(time.Time{})

	sendEvery, expectEvery := negotiateHeartBeat(heartBeat, connected.Header.Get(frame.HeartBeat))
	t.start(sendEvery, expectEvery)
	d.Logger.Debug("stomp session established",
		logging.Field("version", connected.Header.Get(frame.Version)),
		logging.Field("server", connected.Header.Get(frame.Server)),
		logging.Field("heartbeat_send", sendEvery.String()),
		logging.Field("heartbeat_expect", expectEvery.String()),
	)
	return t, nil
}

func handshakeURL(raw string, token string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid realtime URL %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", "", fmt.Errorf("invalid realtime URL %q: scheme must be ws or wss", raw)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), u.Hostname(), nil
}

// negotiateHeartBeat applies the STOMP heart-beat rules to the client
// interval and the server's CONNECTED header. A zero result disables that
// direction.
func negotiateHeartBeat(client time.Duration, serverHeader string) (send time.Duration, expect time.Duration) {
	if client <= 0 || serverHeader == "" {
		return 0, 0
	}
	serverSend, serverExpect, err := frame.ParseHeartBeat(serverHeader)
	if err != nil {
		return 0, 0
	}
	if serverExpect > 0 {
		send = max(client, serverExpect)
	}
	if serverSend > 0 {
		expect = max(client, serverSend)
	}
	return send, expect
}

type stompTransport struct {
	ws     *websocket.Conn
	logger *logging.Logger

	writeMu     sync.Mutex
	reader      *frame.Reader
	readTimeout time.Duration

	stopBeat  chan struct{}
	closeOnce sync.Once
}

func newStompTransport(ws *websocket.Conn, logger *logging.Logger) *stompTransport {
	return &stompTransport{ws: ws, logger: logger, stopBeat: make(chan struct{})}
}

func (t *stompTransport) start(sendEvery time.Duration, expectEvery time.Duration) {
	if expectEvery > 0 {
		// Allow one missed beat before declaring the link dead.
		t.readTimeout = 2 * expectEvery
	}
	if sendEvery > 0 {
		go t.heartBeatLoop(sendEvery)
	}
}

func (t *stompTransport) heartBeatLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopBeat:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			_ = t.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := t.ws.WriteMessage(websocket.TextMessage, []byte("\n"))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("stomp heart-beat failed", logging.Field("error", err))
				return
			}
		}
	}
}

func (t *stompTransport) write(f *frame.Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	w, err := t.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := frame.NewWriter(w).Write(f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// readFrame returns the next non-heart-beat frame. A WebSocket message may
// carry several frames, so the reader is kept until the message is consumed.
func (t *stompTransport) readFrame() (*frame.Frame, error) {
	for {
		if t.reader == nil {
			if t.readTimeout > 0 {
				_ = t.ws.SetReadDeadline(time.Now().Add(t.readTimeout))
			}
			_, data, err := t.ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			t.reader = frame.NewReader(bytes.NewReader(data))
		}
		f, err := t.reader.Read()
		switch {
		case errors.Is(err, io.EOF):
			t.reader = nil
		case err != nil:
			t.reader = nil
			return nil, &FrameError{Err: err}
		case f != nil:
			return f, nil
		}
	}
}

func (t *stompTransport) Receive() (Delivery, error) {
	for {
		f, err := t.readFrame()
		if err != nil {
			return Delivery{}, err
		}
		switch f.Command {
		case frame.MESSAGE:
			return decodeMessage(f)
		case frame.ERROR:
			return Delivery{}, &ServerError{
				Message: f.Header.Get(frame.Message),
				Detail:  string(bytes.TrimSpace(f.Body)),
			}
		default:
			t.logger.Debug("ignoring stomp frame", logging.Field("command", f.Command))
		}
	}
}

func decodeMessage(f *frame.Frame) (Delivery, error) {
	subscription := f.Header.Get(frame.Subscription)
	if subscription == "" {
		return Delivery{}, &FrameError{Command: f.Command, Err: errors.New("missing subscription header")}
	}
	return Delivery{
		SubscriptionID: subscription,
		Message: Message{
			Channel:     f.Header.Get(frame.Destination),
			ID:          f.Header.Get(frame.MessageId),
			ContentType: f.Header.Get(frame.ContentType),
			Body:        f.Body,
		},
	}, nil
}

func (t *stompTransport) Subscribe(id string, channel string) error {
	return t.write(frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, channel,
		frame.Ack, "auto",
	))
}

func (t *stompTransport) Unsubscribe(id string) error {
	return t.write(frame.New(frame.UNSUBSCRIBE, frame.Id, id))
}

func (t *stompTransport) Send(channel string, contentType string, body []byte) error {
	f := frame.New(frame.SEND,
		frame.Destination, channel,
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	if contentType != "" {
		f.Header.Set(frame.ContentType, contentType)
	}
	f.Body = body
	return t.write(f)
}

func (t *stompTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopBeat)
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace),
		)
		err = t.ws.Close()
	})
	return err
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open channel to a broker.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Dialer opens connections to a broker URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Config tunes the websocket dialer. Zero timeouts mean no deadline, which
// is the provider default: only context cancellation interrupts I/O.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	CloseGrace       time.Duration
	Header           http.Header
}

// DefaultCloseGrace bounds the wait for the broker's close reply.
const DefaultCloseGrace = time.Second

func DefaultConfig() Config {
	return Config{
		CloseGrace: DefaultCloseGrace,
	}
}

// WebsocketDialer sends each payload as one websocket text message.
type WebsocketDialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewWebsocketDialer(cfg Config) *WebsocketDialer {
	return &WebsocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := d.dialer.DialContext(ctx, url, d.cfg.Header)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			err = fmt.Errorf("%w: status=%d", err, resp.StatusCode)
		}
		return nil, classify("dial", url, err)
	}
	conn := &wsConn{conn: c, url: url, cfg: d.cfg, done: make(chan struct{})}
	go conn.readLoop()
	return conn, nil
}

// wsConn keeps one reader running so control frames, including the
// broker's close, are processed while the provider only writes.
type wsConn struct {
	conn *websocket.Conn
	url  string
	cfg  Config

	done    chan struct{}
	readErr error

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) readLoop() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.readErr = err
			return
		}
	}
}

// peerClosed reports whether the reader has stopped, and why.
func (c *wsConn) peerClosed() (bool, error) {
	if c.done == nil {
		return false, nil
	}
	select {
	case <-c.done:
		return true, c.readErr
	default:
		return false, nil
	}
}

func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if closed, readErr := c.peerClosed(); closed {
		return c.closedByPeer("send", readErr)
	}
	var deadline time.Time
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return classify("send", c.url, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classify("send", c.url, err)
	}
	return nil
}

// Close runs the closing handshake and releases the socket. A close frame
// the broker sent with a code other than normal closure is reported as
// ErrClosed: the broker may have dropped the connection unread. A bare TCP
// close after a successful write is not.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		grace := c.cfg.CloseGrace
		if grace <= 0 {
			grace = DefaultCloseGrace
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(grace))

		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-c.done:
			if abnormalClose(c.readErr) {
				c.closeErr = c.closedByPeer("close", c.readErr)
			}
		case <-timer.C:
		}
		_ = c.conn.Close()
		<-c.done
	})
	return c.closeErr
}

func abnormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseNoStatusReceived:
		return false
	case websocket.CloseAbnormalClosure:
		// gorilla reports EOF without a close frame as 1006; it is never on the wire.
		return false
	default:
		return true
	}
}

// closedByPeer reports a connection the broker ended as ErrClosed whatever
// the reader's underlying error was.
func (c *wsConn) closedByPeer(op string, readErr error) error {
	return &Error{Op: op, URL: c.url, Kind: ErrClosed, Err: readErr}
}

package websocket

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 4096
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// session is one dialed socket and the loops serving it.
type session struct {
	conn *ws.Conn
	stop chan struct{}
	once sync.Once
}

func newSession(conn *ws.Conn) *session {
	return &session{conn: conn, stop: make(chan struct{})}
}

func (s *session) end() {
	s.once.Do(func() { close(s.stop) })
}

// connection owns the socket to the map page and one write goroutine
// per dialed session. Frames read from the page go to receive.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL   string
	secret  string
	backoff time.Duration

	// snapshot returns the messages that rebuild the page after a reconnect.
	snapshot func() [][]byte
	// receive is called from the read loop for every inbound frame.
	receive func([]byte)

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:  make(chan []byte, sendChSize),
		done:    make(chan struct{}),
		backoff: time.Second,
		logger:  logger,
	}
}

// dial connects to the map page server and starts the session loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	if !c.start(conn) {
		return fmt.Errorf("websocket connection closed")
	}
	return nil
}

// start installs conn and launches its loops. It reports false when the
// connection was closed meanwhile.
func (c *connection) start(conn *ws.Conn) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.mu.Unlock()

	sess := newSession(conn)
	go c.writeLoop(sess)
	go c.readLoop(sess)
	return true
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop sends queued envelopes until the session ends.
// A write error ends the session and starts a reconnect.
func (c *connection) writeLoop(sess *session) {
	for {
		select {
		case <-sess.stop:
			return
		default:
		}

		select {
		case <-c.done:
			return
		case <-sess.stop:
			return
		case data := <-c.sendCh:
			if err := write(sess.conn, data); err != nil {
				c.logger.Warn("Map page write failed", "error", err)
				sess.end()
				go c.reconnect(sess.conn)
				return
			}
		}
	}
}

func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// readLoop reads inbound frames and hands them to receive.
func (c *connection) readLoop(sess *session) {
	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			sess.end()
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("Map page read failed", "error", err)
			go c.reconnect(sess.conn)
			return
		}
		if c.receive != nil {
			c.receive(message)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. On
// success it replays the snapshot and restarts the read/write loops.
// Only the first caller for a given broken conn does any work.
func (c *connection) reconnect(broken *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != broken {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to map page", "attempt", attempt)
		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Map page dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		replay := c.replay()
		failed := false
		for _, msg := range replay {
			if err := write(conn, msg); err != nil {
				c.logger.Warn("Failed to replay map state after reconnect", "error", err)
				_ = conn.Close()
				failed = true
				break
			}
		}
		if failed {
			continue
		}

		if c.start(conn) {
			c.logger.Info("Map page reconnected", "attempt", attempt, "replayed", len(replay))
		}
		return
	}

	c.logger.Error("Giving up on map page", "maxAttempts", maxReconnect)
}

// replay returns the messages that rebuild the page from the current display.
func (c *connection) replay() [][]byte {
	if c.snapshot == nil {
		return nil
	}
	return c.snapshot()
}

// drain empties the send queue. Callers hold the surface lock so no
// message is queued concurrently.
func (c *connection) drain() int {
	n := 0
	for {
		select {
		case <-c.sendCh:
			n++
		default:
			return n
		}
	}
}

// send pushes data to the write loop. It reports false when the queue is
// full or the connection is closed.
func (c *connection) send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("Map page queue full, dropping message")
		return false
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

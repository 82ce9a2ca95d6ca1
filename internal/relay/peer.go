package relay

import (
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// peer is one WebSocket connection attached to the hub. The send channel
// is only written and closed while holding the hub lock.
type peer struct {
	conn   *ws.Conn
	send   chan []byte
	closed bool
}

func newPeer(conn *ws.Conn) *peer {
	return &peer{conn: conn, send: make(chan []byte, sendBuffer)}
}

// enqueue reports false when the peer is closed or too slow to keep up.
func (p *peer) enqueue(frame []byte) bool {
	if p.closed {
		return false
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

// readPump hands every text frame to onFrame until the connection fails.
func (p *peer) readPump(onFrame func([]byte), onDone func()) {
	defer func() {
		onDone()
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	if err := p.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, frame, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == ws.TextMessage {
			onFrame(frame)
		}
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = p.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(ws.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := p.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

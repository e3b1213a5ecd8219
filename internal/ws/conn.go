package ws

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pulsecast/backend/internal/session"
)

var (
	ErrSendQueueFull = errors.New("ws: send queue full")
	ErrConnClosed    = errors.New("ws: connection closed")
)

const writeWait = 10 * time.Second

var lastConnID atomic.Uint64

func nextConnID() session.ConnID {
	return session.ConnID(lastConnID.Add(1))
}

type connOptions struct {
	sendQueue       int
	readLimit       int64
	readBufferSize  int
	writeBufferSize int
}

// Conn is a live connection as tracked by the loop. Plain HTTP connections
// carry only ID and Addr; upgraded ones also own a websocket and its send
// queue. The send queue and closed flag belong to the loop goroutine.
type Conn struct {
	ID   session.ConnID
	Addr string

	ws     *websocket.Conn
	send   chan []byte
	closed bool
	opts   connOptions

	lastFrame atomic.Int64
}

func newConn(id session.ConnID, addr string, wsConn *websocket.Conn, opts connOptions) *Conn {
	return &Conn{
		ID:   id,
		Addr: addr,
		ws:   wsConn,
		send: make(chan []byte, opts.sendQueue),
		opts: opts,
	}
}

func (c *Conn) IsWebSocket() bool {
	return c.ws != nil
}

// Send queues one text frame without blocking.
func (c *Conn) Send(frame []byte) error {
	if c.ws == nil || c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// shutdown closes the send queue so the writer drains and exits. Idempotent.
func (c *Conn) shutdown() {
	if c.ws == nil || c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// abort drops the underlying connection. The reader then reports the close
// back to the loop. Safe from any goroutine.
func (c *Conn) abort() {
	if c.ws != nil {
		c.ws.Close()
	}
}

func (c *Conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// readPump forwards inbound frames to the loop and reports the close when
// the connection ends.
func (c *Conn) readPump(post func(Event) bool) {
	defer func() {
		c.ws.Close()
		post(Event{Kind: EventClose, ID: c.ID})
	}()

	if c.opts.readLimit > 0 {
		c.ws.SetReadLimit(c.opts.readLimit)
	}
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.lastFrame.Store(int64(len(data)))
		if !post(Event{Kind: EventMessage, ID: c.ID, Data: data}) {
			return
		}
	}
}

// Connections is the set of live connections, plain HTTP included. Like the
// session registry it is owned by the loop goroutine.
type Connections struct {
	m map[session.ConnID]*Conn
}

func NewConnections() *Connections {
	return &Connections{m: make(map[session.ConnID]*Conn)}
}

func (cs *Connections) Add(c *Conn) {
	cs.m[c.ID] = c
}

func (cs *Connections) Get(id session.ConnID) (*Conn, bool) {
	c, ok := cs.m[id]
	return c, ok
}

func (cs *Connections) Remove(id session.ConnID) (*Conn, bool) {
	c, ok := cs.m[id]
	if ok {
		delete(cs.m, id)
	}
	return c, ok
}

func (cs *Connections) Len() int {
	return len(cs.m)
}

func (cs *Connections) Each(fn func(*Conn)) {
	for _, c := range cs.m {
		fn(c)
	}
}

package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsConn struct {
	conn   *websocket.Conn
	id     string
	sendMu chan struct{}
	closed chan struct{}

	mu     sync.Mutex
	roomID string
}

func newWsConn(c *websocket.Conn, id string) *wsConn {
	return &wsConn{
		conn:   c,
		id:     id,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	return c.conn.Close()
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *wsConn) setRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

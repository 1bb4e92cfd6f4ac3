package transport

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsConn adapts a raw upgraded socket to the session layer's Conn
// interface. Close is safe to call more than once.
type wsConn struct {
	conn      net.Conn
	closeOnce sync.Once
}

func newWSConn(conn net.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) WriteText(data []byte, deadline time.Time) error {
	c.conn.SetWriteDeadline(deadline)
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

func (c *wsConn) WritePing(deadline time.Time) error {
	c.conn.SetWriteDeadline(deadline)
	return wsutil.WriteServerMessage(c.conn, ws.OpPing, nil)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
		err = c.conn.Close()
	})
	return err
}

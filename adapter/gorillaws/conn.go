package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/trickstertwo/xhub"
)

var ErrConnClosed = errors.New("gorillaws: connection closed")

// conn wraps one websocket. gorilla allows a single concurrent writer, so writes are
// serialized by writeMu; reads happen only in readLoop.
type conn struct {
	id      string
	ws      *websocket.Conn
	tr      *Transport
	handler xhub.ConnHandler
	params  map[string]string

	writeMu sync.Mutex

	closeOnce   sync.Once
	closeMu     sync.Mutex
	localCode   int
	localReason string
	closing     bool
}

var _ xhub.Conn = (*conn)(nil)

func (t *Transport) newConn(ws *websocket.Conn, params map[string]string, h xhub.ConnHandler) *conn {
	ws.SetReadLimit(t.cfg.ReadLimit)
	return &conn{
		id:      fmt.Sprintf("ws-%d", t.seq.Add(1)),
		ws:      ws,
		tr:      t,
		handler: h,
		params:  params,
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Param(key string) string { return c.params[key] }

func (c *conn) Send(ctx context.Context, text []byte) error {
	c.closeMu.Lock()
	closing := c.closing
	c.closeMu.Unlock()
	if closing {
		return ErrConnClosed
	}

	deadline := time.Now().Add(c.tr.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, text)
}

// Close sends a close frame and lets readLoop finish on the echo or after CloseTimeout.
func (c *conn) Close(code int, reason string) error {
	var err error
	reason = xhub.ClipCloseReason(reason)
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closing = true
		c.localCode, c.localReason = code, reason
		c.closeMu.Unlock()

		deadline := time.Now().Add(c.tr.cfg.CloseTimeout)
		c.writeMu.Lock()
		err = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.writeMu.Unlock()
		_ = c.ws.SetReadDeadline(deadline)
		if err != nil {
			_ = c.ws.Close()
		}
	})
	return err
}

// reject closes a connection that was never accepted. No Closed callback follows.
func (c *conn) reject(code int, reason string) {
	_ = c.Close(code, reason)
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			break
		}
	}
	_ = c.ws.Close()
}

func (c *conn) readLoop() {
	var err error
	for {
		var mt int
		var data []byte
		mt, data, err = c.ws.ReadMessage()
		if err != nil {
			break
		}
		if mt == websocket.TextMessage {
			c.handler.Receive(c, data)
		}
	}
	_ = c.ws.Close()
	c.tr.forget(c)

	code, reason := c.closeStatus(err)
	c.handler.Closed(c, code, reason)
}

// closeStatus prefers the code this side sent; otherwise the peer's close frame.
func (c *conn) closeStatus(err error) (int, string) {
	c.closeMu.Lock()
	code, reason := c.localCode, c.localReason
	c.closing = true
	c.closeMu.Unlock()
	if code != 0 {
		return code, reason
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

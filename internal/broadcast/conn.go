package broadcast

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var errSendBufferFull = errors.New("broadcast: send buffer full")

// WSConn adapts a gorilla websocket connection to the hub's Conn contract.
//
// All frame writes go through writePump so the single-writer requirement of
// the underlying connection holds. Send and Ping only enqueue.
type WSConn struct {
	ws        *websocket.Conn
	endUserID string

	send chan Event
	ping chan struct{}
	done chan struct{}

	alive  atomic.Bool
	closed atomic.Bool

	writeTimeout time.Duration
}

type WSConnConfig struct {
	EndUserID    string
	SendBuffer   int
	WriteTimeout time.Duration
	// PongWait bounds how long a read waits for any frame; pongs and client
	// messages both reset it.
	PongWait time.Duration
}

func NewWSConn(ws *websocket.Conn, cfg WSConnConfig) *WSConn {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 75 * time.Second
	}

	c := &WSConn{
		ws:           ws,
		endUserID:    cfg.EndUserID,
		send:         make(chan Event, cfg.SendBuffer),
		ping:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
	}
	// A fresh connection counts as alive until its first missed heartbeat.
	c.alive.Store(true)

	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	_ = ws.SetReadDeadline(time.Now().Add(cfg.PongWait))

	go c.writePump()
	go c.readPump(cfg.PongWait)
	return c
}

func (c *WSConn) EndUserID() string { return c.endUserID }

func (c *WSConn) Send(evt Event) error {
	if c.closed.Load() {
		return errors.New("broadcast: connection closed")
	}
	select {
	case c.send <- evt:
		return nil
	default:
		// A full buffer means the peer stopped draining; treat as broken
		// rather than block the pipeline.
		return errSendBufferFull
	}
}

func (c *WSConn) Ping() error {
	if c.closed.Load() {
		return errors.New("broadcast: connection closed")
	}
	c.alive.Store(false)
	select {
	case c.ping <- struct{}{}:
	default:
	}
	return nil
}

func (c *WSConn) Alive() bool { return c.alive.Load() }

// Done is closed once the connection has shut down, whichever side
// initiated it.
func (c *WSConn) Done() <-chan struct{} { return c.done }

func (c *WSConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	return c.ws.Close()
}

func (c *WSConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case evt := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(evt); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ping:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// readPump drains inbound frames so pong handlers run and closes the
// connection when the peer goes away. Subscriber connections are
// push-only; client payloads are discarded.
func (c *WSConn) readPump(pongWait time.Duration) {
	c.ws.SetReadLimit(4 * 1024)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			_ = c.Close()
			return
		}
		c.alive.Store(true)
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}

package gateway

import (
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/wire"
)

// Conn is one authenticated client connection. The hub only ever queues
// encoded frames on it; the server's write pump drains them to the socket.
type Conn struct {
	ID     string
	UserID string

	codec     wire.Codec
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// rooms is guarded by the hub mutex.
	rooms map[string]struct{}
}

func newConn(id, userID string, codec wire.Codec, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	if codec == nil {
		codec = wire.JSON
	}
	return &Conn{
		ID:     id,
		UserID: userID,
		codec:  codec,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

func (c *Conn) Codec() wire.Codec { return c.codec }

// Done is closed once the connection is shutting down.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue never blocks. A connection that cannot keep up is closed and
// recovers the gap through its sync cursor after reconnecting.
func (c *Conn) enqueue(b []byte) bool {
	if c.closed() {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		telemetry.FramesDropped.Inc()
		logger.Warn("gateway_slow_consumer", "conn", c.ID, "user", c.UserID, "buffer", cap(c.send))
		c.Close()
		return false
	}
}

// reply sends a frame addressed to this connection only.
func (c *Conn) reply(typ, ref string, ts int64, data any) {
	b, err := wire.Encode(c.codec, typ, ref, "", ts, data)
	if err != nil {
		logger.Error("gateway_encode_failed", "type", typ, "error", err)
		return
	}
	c.enqueue(b)
}

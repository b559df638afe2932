package client

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"

	"chatsync/pkg/wire"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

// Conn is one live gateway connection.
type Conn interface {
	Codec() wire.Codec
	// WriteFrame must be safe for concurrent use.
	WriteFrame(b []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

// Dialer opens gateway connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer connects to the gateway's websocket endpoint.
type WSDialer struct {
	// URL is the ws:// or wss:// address of /v1/ws.
	URL   string
	Token string
	// Codecs are offered in order; the server picks one.
	Codecs []wire.Codec
	// NetDial overrides the network dialer, e.g. for in-memory listeners.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	codecs := d.Codecs
	if len(codecs) == 0 {
		codecs = wire.Codecs
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse gateway url %q", d.URL)
	}
	q := u.Query()
	q.Set("token", d.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{Subprotocols: wire.Names(codecs), NetDialContext: d.NetDial}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Wrap(ErrUnauthorized, "gateway handshake")
		}
		return nil, errors.Wrap(err, "dial gateway")
	}
	codec := wire.JSON
	if c, ok := wire.Lookup(ws.Subprotocol()); ok {
		codec = c
	}
	return &wsConn{ws: ws, codec: codec}, nil
}

type wsConn struct {
	ws    *websocket.Conn
	codec wire.Codec
	wmu   sync.Mutex
}

func (c *wsConn) Codec() wire.Codec { return c.codec }

func (c *wsConn) WriteFrame(b []byte) error {
	typ := websocket.TextMessage
	if c.codec.Binary() {
		typ = websocket.BinaryMessage
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(typ, b)
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, b, err := c.ws.ReadMessage()
	return b, err
}

func (c *wsConn) Close() error { return c.ws.Close() }

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package websocket implements the XMPP WebSocket subprotocol (RFC 7395).
//
// Every top level element, including the <open/> and <close/> framing
// elements, is sent as a single text message.
package websocket // import "mellium.im/client/transport/websocket"

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"mellium.im/client/stream"
	"mellium.im/client/transport"
)

// Subprotocol is the WebSocket subprotocol negotiated during the handshake.
const Subprotocol = "xmpp"

// ErrSubprotocol is returned when the server does not accept the XMPP
// subprotocol.
var ErrSubprotocol = errors.New("websocket: server did not negotiate the xmpp subprotocol")

// Transport dials WebSocket connections.
type Transport struct {
	// Dialer is used for the handshake.
	// If nil websocket.DefaultDialer is used.
	Dialer *websocket.Dialer

	// TLSConfig is used for wss URLs.
	TLSConfig *tls.Config

	// Header holds additional handshake header fields, for instance Origin.
	Header http.Header
}

// Kind returns transport.WebSocket.
func (t *Transport) Kind() transport.Kind {
	return transport.WebSocket
}

// Dial performs the WebSocket handshake with the endpoint URL.
func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return nil, errors.Wrap(err, "websocket: bad endpoint URL")
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, errors.Errorf("websocket: unsupported scheme %q", u.Scheme)
	}

	d := websocket.DefaultDialer
	if t.Dialer != nil {
		d = t.Dialer
	}
	dialer := *d
	dialer.Subprotocols = []string{Subprotocol}
	if t.TLSConfig != nil {
		dialer.TLSClientConfig = t.TLSConfig
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), t.Header)
	if resp != nil && resp.Body != nil {
		/* #nosec */
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if ws.Subprotocol() != Subprotocol {
		/* #nosec */
		ws.Close()
		return nil, ErrSubprotocol
	}
	return NewConn(ws, u.Scheme == "wss"), nil
}

// Conn is a WebSocket transport connection.
type Conn struct {
	ws     *websocket.Conn
	secure bool

	r  io.Reader
	wm sync.Mutex
}

// NewConn wraps an established WebSocket connection.
func NewConn(ws *websocket.Conn, secure bool) *Conn {
	return &Conn{ws: ws, secure: secure}
}

// Read reads the payload of consecutive messages as a single byte stream.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one text message.
func (c *Conn) Write(p []byte) (int, error) {
	c.wm.Lock()
	defer c.wm.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.wm.Lock()
	/* #nosec */
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wm.Unlock()
	return c.ws.Close()
}

// WriteHeader sends an <open/> element.
func (c *Conn) WriteHeader(to, lang string) error {
	_, err := io.WriteString(c, stream.Open(to, lang))
	return err
}

// WriteFooter sends a <close/> element.
func (c *Conn) WriteFooter() error {
	_, err := io.WriteString(c, stream.Close())
	return err
}

// Secure reports whether the URL scheme was wss.
func (c *Conn) Secure() bool {
	return c.secure
}

// ConnectionState returns the TLS state of the underlying connection or the
// zero value.
func (c *Conn) ConnectionState() tls.ConnectionState {
	if tc, ok := c.ws.UnderlyingConn().(*tls.Conn); ok {
		return tc.ConnectionState()
	}
	return tls.ConnectionState{}
}

var (
	_ transport.Conn    = (*Conn)(nil)
	_ transport.TLSConn = (*Conn)(nil)
)

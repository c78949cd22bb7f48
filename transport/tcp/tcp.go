// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package tcp implements XMPP transports over TCP sockets.
//
// A plain transport starts unencrypted and can be upgraded in band with
// STARTTLS. A direct TLS transport (XEP-0368) performs the TLS handshake
// before the stream begins.
package tcp // import "mellium.im/client/transport/tcp"

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"mellium.im/client/stream"
	"mellium.im/client/transport"
)

// Transport dials TCP connections.
// The zero value dials plain TCP with the default dialer.
type Transport struct {
	// Dialer is used to open the socket.
	Dialer net.Dialer

	// DirectTLS performs the TLS handshake immediately after connecting.
	DirectTLS bool

	// TLSConfig is used for direct TLS.
	// If nil a default config for the endpoint domain is used.
	TLSConfig *tls.Config
}

// Kind returns TLS for direct TLS transports and TCP otherwise.
func (t *Transport) Kind() transport.Kind {
	if t.DirectTLS {
		return transport.TLS
	}
	return transport.TCP
}

// Dial connects to the endpoint host and port.
// If the context expires before the connection is complete an error is
// returned. Once connected, expiration of the context does not affect the
// connection.
func (t *Transport) Dial(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	if t.DirectTLS {
		d := &tls.Dialer{
			NetDialer: &t.Dialer,
			Config:    Config(t.TLSConfig, ep.Domain, true),
		}
		c, err := d.DialContext(ctx, "tcp", ep.Addr())
		if err != nil {
			return nil, err
		}
		return &Conn{conn: c, secure: true}, nil
	}
	c, err := t.Dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

// Config returns cfg or, if cfg is nil, a default client config for domain.
// The default requires TLS 1.2 and, for direct TLS, advertises the
// xmpp-client ALPN protocol.
func Config(cfg *tls.Config, domain string, direct bool) *tls.Config {
	if cfg != nil {
		if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName = domain
		}
		return cfg
	}
	cfg = &tls.Config{
		ServerName: domain,
		MinVersion: tls.VersionTLS12,
	}
	if direct {
		cfg.NextProtos = []string{"xmpp-client"}
	}
	return cfg
}

// Conn is a TCP transport connection.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	secure bool
}

// NewConn wraps an existing connection.
// It is mostly useful for tests that run over net.Pipe.
func NewConn(c net.Conn, secure bool) *Conn {
	return &Conn{conn: c, secure: secure}
}

func (c *Conn) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Read reads from the socket, or from the TLS session after StartTLS.
func (c *Conn) Read(p []byte) (int, error) {
	return c.current().Read(p)
}

// Write writes to the socket, or to the TLS session after StartTLS.
func (c *Conn) Write(p []byte) (int, error) {
	return c.current().Write(p)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.current().Close()
}

// WriteHeader writes a TCP stream header.
func (c *Conn) WriteHeader(to, lang string) error {
	_, err := io.WriteString(c, stream.Header(to, lang))
	return err
}

// WriteFooter writes the closing stream tag.
func (c *Conn) WriteFooter() error {
	_, err := io.WriteString(c, stream.Footer)
	return err
}

// Secure reports whether TLS is in use.
func (c *Conn) Secure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secure
}

// StartTLS performs a client TLS handshake over the existing socket.
// It must not be called while a Read or Write is in progress.
func (c *Conn) StartTLS(ctx context.Context, cfg *tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secure {
		return errors.New("tcp: connection is already encrypted")
	}
	tc := tls.Client(c.conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return errors.Wrap(err, "tcp: TLS handshake failed")
	}
	c.conn = tc
	c.secure = true
	return nil
}

// ConnectionState returns the TLS state or the zero value when the
// connection is not encrypted.
func (c *Conn) ConnectionState() tls.ConnectionState {
	if tc, ok := c.current().(*tls.Conn); ok {
		return tc.ConnectionState()
	}
	return tls.ConnectionState{}
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.current().LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.current().RemoteAddr()
}

var (
	_ transport.Conn     = (*Conn)(nil)
	_ transport.Upgrader = (*Conn)(nil)
	_ transport.TLSConn  = (*Conn)(nil)
)

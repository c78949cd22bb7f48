// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transport defines the contract between the connection core and
// the byte level transports that carry an XMPP stream.
//
// Implementations live in subpackages: tcp provides plain TCP (with STARTTLS
// upgrades) and direct TLS, websocket provides the RFC 7395 subprotocol.
package transport // import "mellium.im/client/transport"

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies a transport implementation.
type Kind string

// A list of transport kinds.
const (
	TCP       Kind = "tcp"
	TLS       Kind = "tls"
	WebSocket Kind = "websocket"
)

// ParseKind returns the kind with the given name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case TCP, TLS, WebSocket:
		return k, nil
	case "ws", "wss":
		return WebSocket, nil
	}
	return "", errors.Errorf("transport: unknown kind %q", s)
}

// Endpoint is a single candidate address that a transport can dial.
// Host and Port are used by socket transports, URL by WebSocket.
// Domain is the XMPP service domain, used for the stream header and for
// certificate verification.
type Endpoint struct {
	Kind   Kind
	Host   string
	Port   uint16
	URL    string
	Domain string
}

// Addr returns the host and port joined for net.Dial.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.FormatUint(uint64(e.Port), 10))
}

func (e Endpoint) String() string {
	if e.Kind == WebSocket {
		return string(e.Kind) + "+" + e.URL
	}
	return string(e.Kind) + "://" + e.Addr()
}

// Conn is an established duplex stream.
// Writes must each carry a complete top level element or a header.
type Conn interface {
	io.ReadWriteCloser

	// WriteHeader begins a new stream addressed to the domain to.
	WriteHeader(to, lang string) error

	// WriteFooter ends the stream without closing the connection.
	WriteFooter() error

	// Secure reports whether the connection is encrypted.
	Secure() bool
}

// Upgrader is implemented by connections that can negotiate TLS in band.
type Upgrader interface {
	StartTLS(ctx context.Context, cfg *tls.Config) error
}

// TLSConn is implemented by connections that expose their TLS state.
type TLSConn interface {
	ConnectionState() tls.ConnectionState
}

// Transport dials connections of a single kind.
type Transport interface {
	Kind() Kind
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// Error is a connect or IO failure for a single endpoint.
type Error struct {
	Endpoint Endpoint
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrAllCandidatesExhausted is matched (using errors.Is) by the error that is
// returned when no candidate endpoint could be connected.
var ErrAllCandidatesExhausted = errors.New("transport: all candidates exhausted")

// Exhausted returns an error that matches ErrAllCandidatesExhausted and
// unwraps to the last of errs.
func Exhausted(errs []error) error {
	return &exhaustedError{errs: errs}
}

type exhaustedError struct {
	errs []error
}

func (e *exhaustedError) Error() string {
	if len(e.errs) == 0 {
		return ErrAllCandidatesExhausted.Error()
	}
	msgs := make([]string, 0, len(e.errs))
	for _, err := range e.errs {
		msgs = append(msgs, err.Error())
	}
	return ErrAllCandidatesExhausted.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *exhaustedError) Is(target error) bool {
	return target == ErrAllCandidatesExhausted
}

func (e *exhaustedError) Unwrap() error {
	if len(e.errs) == 0 {
		return nil
	}
	return e.errs[len(e.errs)-1]
}

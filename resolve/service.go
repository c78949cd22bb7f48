// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package resolve

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"mellium.im/client/transport"
)

// ParseService parses an explicit service URI into a single endpoint.
// Supported schemes are xmpp (plain TCP, port 5222 by default), xmpps
// (direct TLS, port 5223 by default), ws and wss.
// The endpoint domain is the host of the URI.
func ParseService(service string) (transport.Endpoint, error) {
	u, err := url.Parse(service)
	if err != nil {
		return transport.Endpoint{}, errors.Wrap(err, "resolve: bad service URI")
	}
	host := u.Hostname()
	if host == "" {
		return transport.Endpoint{}, errors.Errorf("resolve: service URI %q has no host", service)
	}
	switch u.Scheme {
	case "ws", "wss":
		return transport.Endpoint{Kind: transport.WebSocket, URL: u.String(), Domain: host}, nil
	case "xmpp", "xmpps":
	default:
		return transport.Endpoint{}, errors.Errorf("resolve: unsupported service scheme %q", u.Scheme)
	}

	ep := transport.Endpoint{Kind: transport.TCP, Host: host, Port: DefaultPort, Domain: host}
	if u.Scheme == "xmpps" {
		ep.Kind = transport.TLS
		ep.Port = DefaultTLSPort
	}
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return transport.Endpoint{}, errors.Wrap(err, "resolve: bad service port")
		}
		ep.Port = uint16(port)
	}
	return ep, nil
}

// Domain returns the domain implied by a service URI.
// It accepts full URIs ("wss://example.net/ws") as well as bare host and port
// pairs ("example.net:5222").
func Domain(service string) string {
	s := service
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return strings.Trim(s, "[]")
}

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"crypto/tls"
	"time"

	"github.com/go-kit/log"
	"mellium.im/sasl"

	"mellium.im/client/auth"
	"mellium.im/client/reconnect"
	"mellium.im/client/resolve"
	"mellium.im/client/transport"
)

// Options configures a Client.
type Options struct {
	// Service is an explicit service URI such as "xmpps://example.net:5223"
	// or "wss://example.net/xmpp-websocket". If set, resolution is skipped and
	// the service is dialed directly.
	Service string

	// Domain is the service domain. It defaults to the host of Service.
	Domain string

	// Resource requested during resource binding. If empty the server
	// generates one.
	Resource string

	// Username and Password are the credentials used by the default
	// authentication policy. If both are empty ANONYMOUS is used.
	Username string
	Password string

	// Authenticate replaces the default authentication policy.
	Authenticate auth.AuthenticateFunc

	// Transports limits the kinds of transports that may be used.
	// If empty every kind is allowed.
	Transports []transport.Kind

	// Lang is the default language of the stream and the preferred language
	// of SASL failure texts.
	Lang string

	// TLSConfig is used for STARTTLS, direct TLS and secure WebSockets.
	TLSConfig *tls.Config

	// Mechanisms in order of preference. Defaults to auth.DefaultMechanisms.
	Mechanisms []sasl.Mechanism

	// IQTimeout bounds every outgoing IQ request. Defaults to
	// iq.DefaultTimeout.
	IQTimeout time.Duration

	// Backoff controls the delay between reconnection attempts. Defaults to
	// reconnect.DefaultBackoff.
	Backoff *reconnect.Backoff

	// SkipOptionalFailures continues negotiation when an optional stream
	// feature fails.
	SkipOptionalFailures bool

	// Resolver looks up endpoints. The zero value uses the system resolver.
	Resolver *resolve.Resolver

	Logger log.Logger
}

// credentials returns the configured username and password.
func (o Options) credentials() auth.Credentials {
	return auth.Credentials{Username: o.Username, Password: o.Password}
}

// domain returns the explicit domain, or the domain implied by the service.
func (o Options) domain() string {
	if o.Domain != "" {
		return o.Domain
	}
	if o.Service != "" {
		return resolve.Domain(o.Service)
	}
	return ""
}

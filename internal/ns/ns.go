// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are shared between packages.
package ns // import "mellium.im/client/internal/ns"

// List of commonly used namespaces.
const (
	Bind     = "urn:ietf:params:xml:ns:xmpp-bind"
	Client   = "jabber:client"
	Framing  = "urn:ietf:params:xml:ns:xmpp-framing"
	SASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	Session  = "urn:ietf:params:xml:ns:xmpp-session"
	StartTLS = "urn:ietf:params:xml:ns:xmpp-tls"
	Stanza   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	Stream   = "http://etherx.jabber.org/streams"
	Streams  = "urn:ietf:params:xml:ns:xmpp-streams"
	XML      = "http://www.w3.org/XML/1998/namespace"
)

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package client assembles an XMPP client session from its parts.
//
// A Client owns an entity that manages the connection and its transports
// (plain TCP with STARTTLS, direct TLS and WebSocket), a resolver that finds
// the endpoints of a domain, a middleware dispatcher that routes incoming
// elements, a stream feature negotiator with STARTTLS, SASL, resource
// binding and session establishment registered, an IQ caller and callee, and
// a reconnector that re-establishes the connection when it is lost.
//
// Each component is a named field of Client so that applications can extend
// it before starting:
//
//	c, err := client.New(client.Options{
//		Domain:   "example.net",
//		Username: "juliet",
//		Password: "s3cr3t",
//		Resource: "balcony",
//	})
//	if err != nil {
//		// handle error
//	}
//	c.IQCallee.Get(xml.Name{Space: "urn:xmpp:ping", Local: "ping"}, pong)
//	err = c.Start(context.TODO())
//
// Lifecycle changes are delivered as events on subscriptions returned by
// Subscribe.
package client // import "mellium.im/client"

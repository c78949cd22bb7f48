// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ping implements XEP-0199: XMPP Ping.
package ping // import "mellium.im/client/ping"

import (
	"context"
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/iq"
	"mellium.im/client/stanza"
)

// NS is the XML namespace used by XMPP pings. It is provided as a convenience.
const NS = `urn:xmpp:ping`

// Name is the name of the ping payload.
var Name = xml.Name{Space: NS, Local: "ping"}

// Payload returns a ping payload.
func Payload() xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{Name: Name})
}

// Send pings to and blocks until the pong or an error is received.
// An error response from to is returned as a stanza.Error.
func Send(ctx context.Context, caller *iq.Caller, to jid.JID) error {
	_, err := caller.Get(ctx, to, Payload())
	return err
}

// Handle answers pings received by callee with an empty result.
func Handle(callee *iq.Callee) {
	callee.Get(Name, func(context.Context, stanza.IQ, *stanza.Element) (xml.TokenReader, error) {
		return nil, nil
	})
}

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package version holds the release version of the client and implements
// software version queries (XEP-0092) on top of the IQ caller and callee.
package version // import "mellium.im/client/version"

import (
	"context"
	"encoding/xml"
	"runtime"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/iq"
	"mellium.im/client/stanza"
)

// Version is the release version of the client.
var Version = "0.1.0"

// NS is the XML namespace used by software version queries.
const NS = "jabber:iq:version"

// Name is the name of the query payload.
var Name = xml.Name{Space: NS, Local: "query"}

// Query is the payload of a software version query or response.
type Query struct {
	XMLName xml.Name `xml:"jabber:iq:version query"`
	Name    string   `xml:"name,omitempty"`
	Version string   `xml:"version,omitempty"`
	OS      string   `xml:"os,omitempty"`
}

// Local returns the software version of this client.
func Local() Query {
	return Query{Name: "xmppc", Version: Version, OS: runtime.GOOS}
}

// TokenReader implements xmlstream.Marshaler.
func (q Query) TokenReader() xml.TokenReader {
	var payloads []xml.TokenReader
	for _, f := range []struct {
		local, value string
	}{
		{"name", q.Name},
		{"version", q.Version},
		{"os", q.OS},
	} {
		if f.value == "" {
			continue
		}
		payloads = append(payloads, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(f.value)),
			xml.StartElement{Name: xml.Name{Local: f.local}},
		))
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(payloads...),
		xml.StartElement{Name: Name},
	)
}

// WriteXML implements xmlstream.WriterTo.
func (q Query) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, q.TokenReader())
}

// Get requests the software version of the provided entity.
// It blocks until a response is received.
func Get(ctx context.Context, caller *iq.Caller, to jid.JID) (Query, error) {
	var q Query
	payload, err := caller.Get(ctx, to, Query{}.TokenReader())
	if err != nil {
		return q, err
	}
	if payload == nil || payload.Name() != Name {
		return q, stanza.Error{Type: stanza.Cancel, Condition: stanza.BadRequest}
	}
	err = payload.Decode(&q)
	return q, err
}

// Handle answers software version queries received by callee with q.
func Handle(callee *iq.Callee, q Query) {
	callee.Get(Name, func(context.Context, stanza.IQ, *stanza.Element) (xml.TokenReader, error) {
		return q.TokenReader(), nil
	})
}

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/ns"
)

// Names of the elements that begin a stream.
var (
	Name      = xml.Name{Space: ns.Stream, Local: "stream"}
	OpenName  = xml.Name{Space: ns.Framing, Local: "open"}
	CloseName = xml.Name{Space: ns.Framing, Local: "close"}
)

// Footer ends a stream sent over TCP.
const Footer = `</stream:stream>`

// Header returns the stream header that begins a client stream over TCP.
func Header(to, lang string) string {
	return fmt.Sprintf(
		`<?xml version='1.0'?><stream:stream xmlns='%s' xmlns:stream='%s' to='%s' version='%s'%s>`,
		ns.Client, ns.Stream, escape(to), DefaultVersion, langAttr(lang),
	)
}

// Open returns the <open/> element that begins a stream framed for the
// WebSocket subprotocol.
func Open(to, lang string) string {
	return fmt.Sprintf(
		`<open xmlns='%s' to='%s' version='%s'%s/>`,
		ns.Framing, escape(to), DefaultVersion, langAttr(lang),
	)
}

// Close returns the <close/> element that ends a stream framed for the
// WebSocket subprotocol.
func Close() string {
	return fmt.Sprintf(`<close xmlns='%s'/>`, ns.Framing)
}

func langAttr(lang string) string {
	if lang == "" {
		return ""
	}
	return ` xml:lang='` + escape(lang) + `'`
}

func escape(s string) string {
	var b bytesWriter
	// Writes to bytesWriter never fail.
	_ = xml.EscapeText(&b, []byte(s))
	return string(b)
}

type bytesWriter []byte

func (b *bytesWriter) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// Info contains metadata extracted from a stream start token.
type Info struct {
	Name    xml.Name
	XMLNS   string
	To      jid.JID
	From    jid.JID
	ID      string
	Version Version
	Lang    string
}

// IsHeader reports whether start begins a stream, either as a TCP stream
// header or a WebSocket <open/> element.
func IsHeader(start xml.StartElement) bool {
	return start.Name == Name || start.Name == OpenName
}

// FromStartElement returns the data in the server's stream header.
func FromStartElement(s xml.StartElement) (Info, error) {
	i := Info{Name: s.Name}
	if !IsHeader(s) {
		return i, InvalidNamespace
	}
	ws := s.Name == OpenName
	for _, attr := range s.Attr {
		switch attr.Name {
		case xml.Name{Space: "", Local: "to"}:
			if err := (&i.To).UnmarshalXMLAttr(attr); err != nil {
				return i, BadFormat
			}
		case xml.Name{Space: "", Local: "from"}:
			if err := (&i.From).UnmarshalXMLAttr(attr); err != nil {
				return i, BadFormat
			}
		case xml.Name{Space: "", Local: "id"}:
			i.ID = attr.Value
		case xml.Name{Space: "", Local: "version"}:
			if err := (&i.Version).UnmarshalXMLAttr(attr); err != nil {
				return i, BadFormat
			}
		case xml.Name{Space: "", Local: "xmlns"}:
			if (ws && attr.Value != ns.Framing) || (!ws && attr.Value != ns.Client) {
				return i, InvalidNamespace
			}
			i.XMLNS = attr.Value
		case xml.Name{Space: "xmlns", Local: "stream"}:
			if !ws && attr.Value != ns.Stream {
				return i, InvalidNamespace
			}
		case xml.Name{Space: ns.XML, Local: "lang"}, xml.Name{Space: "xml", Local: "lang"}:
			i.Lang = attr.Value
		}
	}
	return i, nil
}

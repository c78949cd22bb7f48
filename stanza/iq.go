// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/ns"
)

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// IQ ("Information Query") is used as a general request response mechanism.
// IQ's are one-to-one, provide get and set semantics, and always require a
// response in the form of a result or an error.
type IQ struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string
	Type IQType
}

// IQName is the name of IQ stanzas in the client namespace.
var IQName = xml.Name{Space: ns.Client, Local: "iq"}

// NewIQ parses the attributes of an IQ start element.
func NewIQ(start xml.StartElement) (IQ, error) {
	iq := IQ{}
	var err error
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "id":
			if a.Name.Space != "" {
				continue
			}
			iq.ID = a.Value
		case "to":
			if a.Name.Space != "" || a.Value == "" {
				continue
			}
			iq.To, err = jid.Parse(a.Value)
			if err != nil {
				return iq, err
			}
		case "from":
			if a.Name.Space != "" || a.Value == "" {
				continue
			}
			iq.From, err = jid.Parse(a.Value)
			if err != nil {
				return iq, err
			}
		case "lang":
			if a.Name.Space != ns.XML {
				continue
			}
			iq.Lang = a.Value
		case "type":
			if a.Name.Space != "" {
				continue
			}
			iq.Type = IQType(a.Value)
		}
	}
	return iq, nil
}

// StartElement returns the IQ start element.
func (iq IQ) StartElement() xml.StartElement {
	attr := []xml.Attr{
		{Name: xml.Name{Local: "type"}, Value: string(iq.Type)},
	}
	if iq.ID != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: iq.ID})
	}
	if s := iq.To.String(); s != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: s})
	}
	if s := iq.From.String(); s != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: s})
	}
	if iq.Lang != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: iq.Lang})
	}
	return xml.StartElement{Name: IQName, Attr: attr}
}

// Wrap wraps the payload in a stanza.
func (iq IQ) Wrap(payload xml.TokenReader) xml.TokenReader {
	return xmlstream.Wrap(payload, iq.StartElement())
}

// Reply returns the header of a response to the IQ with the addresses
// swapped and the type set to typ.
func (iq IQ) Reply(typ IQType) IQ {
	iq.To, iq.From = iq.From, iq.To
	iq.Type = typ
	return iq
}

// Result returns a result reply to the IQ wrapping payload, which may be nil.
func (iq IQ) Result(payload xml.TokenReader) xml.TokenReader {
	return iq.Reply(ResultIQ).Wrap(payload)
}

// Error returns an error reply to the IQ.
func (iq IQ) Error(e Error) xml.TokenReader {
	return iq.Reply(ErrorIQ).Wrap(e.TokenReader())
}

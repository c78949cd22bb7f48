// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"mellium.im/client/internal/ns"
)

// ErrorType is the type of an stanza error payloads.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation should
	// not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was only a
	// warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the data
	// sent.
	Modify ErrorType = "modify"

	// Wait is indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3 that are used
// while negotiating a session.
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	ResourceConstraint    Condition = "resource-constraint"

	// The server or recipient does not currently provide the requested
	// service; the associated error type SHOULD be "cancel".
	// It is sent in reply to any IQ request that no handler claims.
	ServiceUnavailable Condition = "service-unavailable"

	UndefinedCondition Condition = "undefined-condition"
	UnexpectedRequest  Condition = "unexpected-request"
)

// Error is a stanza level error.
type Error struct {
	Type      ErrorType
	Condition Condition
	Lang      string
	Text      string
}

// Error satisfies the error interface by returning the text if set or the
// condition.
func (se Error) Error() string {
	if se.Text != "" {
		return string(se.Condition) + ": " + se.Text
	}
	return string(se.Condition)
}

// TokenReader satisfies the xmlstream.Marshaler interface for Error.
func (se Error) TokenReader() xml.TokenReader {
	start := xml.StartElement{
		Name: xml.Name{Space: ``, Local: "error"},
	}
	if se.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(se.Type)})
	}

	inner := []xml.TokenReader{
		xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Space: ns.Stanza, Local: string(se.Condition)},
		}),
	}
	if se.Text != "" {
		var attrs []xml.Attr
		if se.Lang != "" {
			attrs = []xml.Attr{{
				Name:  xml.Name{Space: ns.XML, Local: "lang"},
				Value: se.Lang,
			}}
		}
		inner = append(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(se.Text)),
			xml.StartElement{Name: xml.Name{Space: ns.Stanza, Local: "text"}, Attr: attrs},
		))
	}

	return xmlstream.Wrap(xmlstream.MultiReader(inner...), start)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (se Error) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, se.TokenReader())
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error.
func (se *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
		} `xml:",any"`
		Type ErrorType `xml:"type,attr"`
		Text struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	se.Type = decoded.Type
	if decoded.Condition.XMLName.Space == ns.Stanza {
		se.Condition = Condition(decoded.Condition.XMLName.Local)
	}
	se.Lang = decoded.Text.Lang
	se.Text = decoded.Text.Data
	return nil
}

// UnmarshalError extracts the stanza error from an element of type "error".
// If the element does not have type "error", ok is false.
// If the error child is missing or cannot be decoded, an undefined-condition
// error is returned.
func UnmarshalError(el *Element) (se Error, ok bool) {
	if el.Type() != string(ErrorIQ) {
		return se, false
	}
	child := el.Child(xml.Name{Local: "error"})
	if child == nil {
		return Error{Type: Cancel, Condition: UndefinedCondition}, true
	}
	if err := child.Decode(&se); err != nil {
		return Error{Type: Cancel, Condition: UndefinedCondition}, true
	}
	return se, true
}

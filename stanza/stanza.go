// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/pkg/errors"
	"mellium.im/xmlstream"

	"mellium.im/client/internal/ns"
)

// Element is a top level element read from an XML stream.
// All of the tokens that make up the element are buffered so that the element
// may be read any number of times.
type Element struct {
	Start xml.StartElement
	inner []xml.Token
}

// Read buffers the element that begins with start by consuming tokens from r
// up to and including the matching end element.
// Namespace declarations are dropped from the attributes since the names of
// the buffered tokens have already been resolved.
func Read(r xml.TokenReader, start xml.StartElement) (*Element, error) {
	el := &Element{Start: copyStart(start)}
	depth := 1
	for {
		tok, err := r.Token()
		if tok != nil {
			switch t := tok.(type) {
			case xml.StartElement:
				depth++
				tok = copyStart(t)
			case xml.EndElement:
				depth--
				if depth == 0 {
					return el, nil
				}
			default:
				tok = xml.CopyToken(tok)
			}
			el.inner = append(el.inner, tok)
		}
		switch {
		case err == io.EOF:
			return nil, io.ErrUnexpectedEOF
		case err != nil:
			return nil, err
		}
	}
}

// New buffers the first element from r.
// Any tokens before the first start element are discarded.
func New(r xml.TokenReader) (*Element, error) {
	for {
		tok, err := r.Token()
		if start, ok := tok.(xml.StartElement); ok {
			return Read(r, start)
		}
		if err == io.EOF {
			return nil, errors.New("stanza: no start element found")
		}
		if err != nil {
			return nil, err
		}
	}
}

// MustNew is like New but panics on error.
// It is meant for building static elements in tests and examples.
func MustNew(r xml.TokenReader) *Element {
	el, err := New(r)
	if err != nil {
		panic(err)
	}
	return el
}

func copyStart(start xml.StartElement) xml.StartElement {
	attrs := make([]xml.Attr, 0, len(start.Attr))
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		attrs = append(attrs, a)
	}
	start.Attr = attrs
	return start
}

// Name returns the XML name of the element.
func (e *Element) Name() xml.Name {
	return e.Start.Name
}

// Attr returns the value of the first attribute with the provided local name
// or the empty string.
func (e *Element) Attr(local string) string {
	for _, a := range e.Start.Attr {
		if a.Name.Local == local && (a.Name.Space == "" || local == "lang") {
			return a.Value
		}
	}
	return ""
}

// ID is a shortcut for Attr("id").
func (e *Element) ID() string {
	return e.Attr("id")
}

// Type is a shortcut for Attr("type").
func (e *Element) Type() string {
	return e.Attr("type")
}

// IsStanza reports whether the element is an IQ, message, or presence in the
// client namespace.
func (e *Element) IsStanza() bool {
	if e.Start.Name.Space != ns.Client {
		return false
	}
	switch e.Start.Name.Local {
	case "iq", "message", "presence":
		return true
	}
	return false
}

// Inner returns a token reader over the children of the element.
func (e *Element) Inner() xml.TokenReader {
	return sliceReader(e.inner)
}

// TokenReader returns a token reader over the entire element.
// It satisfies the xmlstream.Marshaler interface.
func (e *Element) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(e.Inner(), copyStart(e.Start))
}

// WriteXML satisfies the xmlstream.WriterTo interface.
func (e *Element) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// Decode unmarshals the element into v using the rules of encoding/xml.
func (e *Element) Decode(v interface{}) error {
	return xml.NewTokenDecoder(e.TokenReader()).Decode(v)
}

// Children returns the direct child elements.
func (e *Element) Children() []*Element {
	var children []*Element
	depth := 0
	var child *Element
	for _, tok := range e.inner {
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				child = &Element{Start: t}
				depth++
				continue
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				children = append(children, child)
				child = nil
				continue
			}
		}
		if child != nil {
			child.inner = append(child.inner, tok)
		}
	}
	return children
}

// Child returns the first direct child with a matching name.
// An empty namespace or local name in name matches any value.
func (e *Element) Child(name xml.Name) *Element {
	for _, c := range e.Children() {
		if Match(name, c.Start.Name) {
			return c
		}
	}
	return nil
}

// Text returns the character data that is a direct child of the element.
func (e *Element) Text() string {
	var buf bytes.Buffer
	depth := 0
	for _, tok := range e.inner {
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 {
				buf.Write(t)
			}
		}
	}
	return buf.String()
}

// String returns the serialized element.
// It is meant for logging and returns an empty string if encoding fails.
func (e *Element) String() string {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := e.WriteXML(enc); err != nil {
		return ""
	}
	if err := enc.Flush(); err != nil {
		return ""
	}
	return buf.String()
}

// Match reports whether name matches pattern.
// If the namespace or local name of pattern is empty it matches any value.
func Match(pattern, name xml.Name) bool {
	return (pattern.Space == "" || pattern.Space == name.Space) &&
		(pattern.Local == "" || pattern.Local == name.Local)
}

func sliceReader(toks []xml.Token) xml.TokenReader {
	var i int
	return xmlstream.ReaderFunc(func() (xml.Token, error) {
		if i >= len(toks) {
			return nil, io.EOF
		}
		tok := xml.CopyToken(toks[i])
		i++
		return tok, nil
	})
}

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package bind implements the resource binding stream feature.
package bind // import "mellium.im/client/bind"

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/pkg/errors"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/internal/ns"
	"mellium.im/client/iq"
	"mellium.im/client/stanza"
	"mellium.im/client/streamfeatures"
)

// Priority is the negotiation priority of resource binding.
const Priority = 300

// Name is the name of the resource binding feature.
var Name = xml.Name{Space: ns.Bind, Local: "bind"}

// Error is returned when the server refuses to bind a resource or returns an
// invalid address.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "bind: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Request returns the payload of a bind request.
// If resource is empty the server generates one.
func Request(resource string) xml.TokenReader {
	var inner xml.TokenReader
	if resource != "" {
		inner = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(resource)),
			xml.StartElement{Name: xml.Name{Local: "resource"}},
		)
	}
	return xmlstream.Wrap(inner, xml.StartElement{Name: Name})
}

// Bind requests resource and returns the full JID assigned by the server.
func Bind(ctx context.Context, caller *iq.Caller, resource string) (jid.JID, error) {
	payload, err := caller.Set(ctx, jid.JID{}, Request(resource))
	if err != nil {
		var se stanza.Error
		if errors.As(err, &se) {
			return jid.JID{}, &Error{Err: se}
		}
		return jid.JID{}, err
	}
	if payload == nil || payload.Name() != Name {
		return jid.JID{}, &Error{Err: errors.New("response has no bind payload")}
	}
	child := payload.Child(xml.Name{Local: "jid"})
	if child == nil {
		return jid.JID{}, &Error{Err: errors.New("response has no jid")}
	}
	j, err := jid.Parse(strings.TrimSpace(child.Text()))
	if err != nil {
		return jid.JID{}, &Error{Err: errors.Wrap(err, "invalid jid")}
	}
	return j, nil
}

// Feature returns a stream feature that binds resource and sets the address
// of the entity.
func Feature(caller *iq.Caller, resource string) streamfeatures.Feature {
	return streamfeatures.Feature{
		Name:     Name,
		Priority: Priority,
		Negotiate: func(ctx context.Context, n *streamfeatures.Negotiation, announced *stanza.Element) (bool, error) {
			j, err := Bind(ctx, caller, resource)
			if err != nil {
				return false, err
			}
			n.Entity().SetJID(j)
			return false, nil
		},
	}
}

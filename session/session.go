// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package session implements the legacy session establishment stream
// feature.
//
// Servers that still announce the feature usually mark it optional, in which
// case it is skipped.
package session // import "mellium.im/client/session"

import (
	"context"
	"encoding/xml"

	"github.com/pkg/errors"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"

	"mellium.im/client/entity"
	"mellium.im/client/internal/ns"
	"mellium.im/client/iq"
	"mellium.im/client/stanza"
	"mellium.im/client/streamfeatures"
)

// Priority is the negotiation priority of session establishment.
const Priority = 400

// Name is the name of the session feature.
var Name = xml.Name{Space: ns.Session, Local: "session"}

// Error is returned when the server refuses to establish the session.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return "session: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Optional reports whether the server marked the feature as optional.
func Optional(announced *stanza.Element) bool {
	return announced.Child(xml.Name{Local: "optional"}) != nil
}

// Establish sends the session request.
func Establish(ctx context.Context, caller *iq.Caller) error {
	_, err := caller.Set(ctx, jid.JID{}, xmlstream.Wrap(nil, xml.StartElement{Name: Name}))
	var se stanza.Error
	if errors.As(err, &se) {
		return &Error{Err: se}
	}
	return err
}

// Feature returns a stream feature that establishes a session unless the
// server marks it optional.
func Feature(caller *iq.Caller) streamfeatures.Feature {
	return streamfeatures.Feature{
		Name:     Name,
		Priority: Priority,
		Applies: func(_ *entity.Entity, announced *stanza.Element) bool {
			return !Optional(announced)
		},
		Negotiate: func(ctx context.Context, n *streamfeatures.Negotiation, announced *stanza.Element) (bool, error) {
			return false, Establish(ctx, caller)
		},
	}
}

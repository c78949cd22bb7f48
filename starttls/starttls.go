// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package starttls implements the STARTTLS stream feature.
package starttls // import "mellium.im/client/starttls"

import (
	"context"
	"crypto/tls"
	"encoding/xml"

	"github.com/pkg/errors"
	"mellium.im/xmlstream"

	"mellium.im/client/entity"
	"mellium.im/client/internal/ns"
	"mellium.im/client/stanza"
	"mellium.im/client/stream"
	"mellium.im/client/streamfeatures"
	"mellium.im/client/transport/tcp"
)

// Priority is the negotiation priority of STARTTLS.
const Priority = 100

// Name is the name of the STARTTLS feature.
var Name = xml.Name{Space: ns.StartTLS, Local: "starttls"}

// ErrFailed is returned when the server answers with <failure/>.
// The server closes the stream right after.
var ErrFailed = errors.New("starttls: server refused to start TLS")

// ErrAlreadySecure is returned if the transport is already encrypted when
// negotiation starts. The feature is not selected on such connections.
var ErrAlreadySecure = errors.New("starttls: transport is already encrypted")

// Required reports whether the server announced STARTTLS as mandatory.
func Required(announced *stanza.Element) bool {
	return announced.Child(xml.Name{Local: "required"}) != nil
}

// Feature returns a stream feature that upgrades the transport to TLS.
// If cfg is nil a default config for the domain of the entity is used.
// The feature is skipped when the transport is already encrypted (direct TLS,
// wss) or cannot be upgraded in band (ws).
func Feature(cfg *tls.Config) streamfeatures.Feature {
	return streamfeatures.Feature{
		Name:     Name,
		Priority: Priority,
		Applies: func(e *entity.Entity, _ *stanza.Element) bool {
			return e.CanStartTLS()
		},
		Negotiate: func(ctx context.Context, n *streamfeatures.Negotiation, announced *stanza.Element) (bool, error) {
			e := n.Entity()
			if e.Secure() {
				return false, ErrAlreadySecure
			}

			start := xml.StartElement{Name: Name}
			if err := n.Send(ctx, xmlstream.Wrap(nil, start)); err != nil {
				return false, err
			}
			el, err := n.Receive(ctx)
			if err != nil {
				return false, err
			}
			switch el.Name().Local {
			case "proceed":
			case "failure":
				return false, ErrFailed
			default:
				return false, stream.UnsupportedStanzaType
			}

			if err := n.StartTLS(ctx, tcp.Config(cfg, e.Domain(), false)); err != nil {
				return false, errors.Wrap(err, "starttls: handshake")
			}
			return true, nil
		},
	}
}

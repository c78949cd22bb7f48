// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains the buffered element type that is passed between
// the read loop and the middleware, as well as IQ headers and stanza errors.
//
// Elements read from the stream are fully buffered before they are
// dispatched so that more than one handler may inspect the same element.
// Outgoing stanzas are built as token streams using the facilities of the
// mellium.im/xmlstream package and never need to be buffered.
package stanza // import "mellium.im/client/stanza"

// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains XMPP stream headers and stream errors as defined by
// RFC 6120 §4 and the WebSocket framing of RFC 7395.
//
// Most people will want to use the facilities of the entity package and not
// write stream headers directly.
package stream // import "mellium.im/client/stream"

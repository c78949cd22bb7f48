// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package iq implements request/response correlation for IQ stanzas.
//
// A Caller sends get and set IQs and waits for the matching result or error.
// A Callee answers get and set IQs received from the server with registered
// handlers, and with a service-unavailable error when nobody handles them.
package iq // import "mellium.im/client/iq"

import (
	"github.com/pkg/errors"
)

// Errors returned by the caller.
var (
	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("iq: timed out waiting for response")

	// ErrDisconnected is returned when the connection the request was sent on
	// is lost before a response arrives.
	ErrDisconnected = errors.New("iq: disconnected before response")
)

// Priorities of the middleware handlers. Responses are matched before
// requests are handled.
const (
	CallerPriority = 500
	CalleePriority = 600
)

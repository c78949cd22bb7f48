// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package auth implements the SASL stream feature.
//
// The mechanisms the client supports are kept in an ordered list; their
// order is the order of preference. When the server announces its
// mechanisms an AuthenticateFunc decides which one to use and with which
// credentials. The default policy picks the most preferred mechanism that
// the server also supports, or ANONYMOUS if there are no credentials.
package auth // import "mellium.im/client/auth"

import (
	"context"

	"github.com/pkg/errors"
	"mellium.im/sasl"
)

// Priority is the negotiation priority of SASL.
const Priority = 200

// Errors returned by the SASL feature.
var (
	// ErrNoMechanism is returned when no usable mechanism is supported by both
	// the client and the server.
	ErrNoMechanism = errors.New("auth: no mutually supported mechanism")

	// ErrNotAuthenticated is returned if an AuthenticateFunc returns without
	// authenticating.
	ErrNotAuthenticated = errors.New("auth: authentication did not complete")
)

// DefaultMechanisms returns the mechanisms supported by default in order of
// preference.
func DefaultMechanisms() []sasl.Mechanism {
	return []sasl.Mechanism{sasl.ScramSha1, sasl.Plain, Anonymous}
}

// Credentials used to authenticate.
type Credentials struct {
	Username string
	Password string

	// Identity is the authorization identity, or for ANONYMOUS the trace
	// token. It is usually empty.
	Identity string
}

// Empty reports whether neither a username nor a password is set.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Mechanisms describes the mechanisms available for an authentication.
type Mechanisms struct {
	// Available lists the names of every mechanism the client supports in
	// order of preference.
	Available []string

	// Intersection lists the names of the mechanisms supported by both sides,
	// in the client order of preference.
	Intersection []string
}

// Names returns the names of mechanisms.
func Names(mechanisms []sasl.Mechanism) []string {
	names := make([]string, 0, len(mechanisms))
	for _, m := range mechanisms {
		names = append(names, m.Name)
	}
	return names
}

// Intersection returns the names in local that are also in remote, in the
// order of local.
func Intersection(local, remote []string) []string {
	offered := make(map[string]bool, len(remote))
	for _, name := range remote {
		offered[name] = true
	}
	var out []string
	for _, name := range local {
		if offered[name] {
			out = append(out, name)
		}
	}
	return out
}

// Authenticator performs a SASL exchange with the named mechanism.
// It returns a *FailedError if the server rejects the credentials.
type Authenticator func(ctx context.Context, mechanism string, creds Credentials) error

// An AuthenticateFunc is called when the server announces its mechanisms.
// It selects a mechanism and credentials and calls authenticate.
type AuthenticateFunc func(ctx context.Context, authenticate Authenticator, mechanisms Mechanisms) error

// DefaultPolicy returns an AuthenticateFunc that uses creds with the most
// preferred mechanism both sides support.
// If creds has neither a username nor a password ANONYMOUS is used.
func DefaultPolicy(creds Credentials) AuthenticateFunc {
	return func(ctx context.Context, authenticate Authenticator, mechanisms Mechanisms) error {
		return authenticate(ctx, Select(creds, mechanisms), creds)
	}
}

// Select returns the mechanism the default policy would use.
// It returns an empty string if there is none.
func Select(creds Credentials, mechanisms Mechanisms) string {
	if creds.Empty() {
		return Anonymous.Name
	}
	if len(mechanisms.Intersection) == 0 {
		return ""
	}
	return mechanisms.Intersection[0]
}

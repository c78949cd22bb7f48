// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package auth

import (
	"mellium.im/sasl"
)

// Anonymous is the ANONYMOUS mechanism defined in RFC 4505.
// The trace token sent to the server is the identity of the credentials, and
// may be empty.
var Anonymous = sasl.Mechanism{
	Name: "ANONYMOUS",
	Start: func(m *sasl.Negotiator) (bool, []byte, interface{}, error) {
		_, _, identity := m.Credentials()
		return false, identity, nil, nil
	},
	Next: func(m *sasl.Negotiator, challenge []byte, _ interface{}) (bool, []byte, interface{}, error) {
		return false, nil, nil, sasl.ErrTooManySteps
	},
}

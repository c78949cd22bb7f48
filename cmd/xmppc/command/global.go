// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package command implements the subcommands of xmppc.
package command // import "mellium.im/client/cmd/xmppc/command"

import (
	"fmt"
	"os"
	"time"
)

// Exit codes.
const (
	ExitSuccess = iota
	ExitError
)

// GlobalFlags are flags shared by every command.
type GlobalFlags struct {
	ConfigFile     string
	ConnectTimeout time.Duration
}

// ExitWithError prints err and exits with code.
func ExitWithError(code int, err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(code)
}
